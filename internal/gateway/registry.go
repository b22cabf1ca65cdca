package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrProviderNotFound = errors.New("payment provider not found")
	ErrProviderDisabled = errors.New("payment provider disabled")
)

type registration struct {
	provider Provider
	enabled  bool
}

// Registry holds the configured adapters keyed by provider id (thread-safe).
type Registry struct {
	mu        sync.RWMutex
	providers map[ProviderID]*registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[ProviderID]*registration)}
}

// Register adds or replaces the adapter for p.ID().
func (r *Registry) Register(p Provider, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = &registration{provider: p, enabled: enabled}
}

// Get returns the adapter for id when it is configured and enabled. Used for new checkouts.
func (r *Registry) Get(id ProviderID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, id)
	}
	if !reg.enabled {
		return nil, fmt.Errorf("%w: %q", ErrProviderDisabled, id)
	}
	return reg.provider, nil
}

// Lookup returns the adapter for id regardless of its enable flag, so payments created
// before a provider was disabled can still be polled, reconciled and refunded.
func (r *Registry) Lookup(id ProviderID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, id)
	}
	return reg.provider, nil
}

// IsEnabled reports whether id is configured and enabled.
func (r *Registry) IsEnabled(id ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[id]
	return ok && reg.enabled
}

// SetEnabled toggles a configured provider.
func (r *Registry) SetEnabled(id ProviderID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrProviderNotFound, id)
	}
	reg.enabled = enabled
	return nil
}

// Enabled lists enabled providers in name order.
func (r *Registry) Enabled() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderID, 0, len(r.providers))
	for id, reg := range r.providers {
		if reg.enabled {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
