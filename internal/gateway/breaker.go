package gateway

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultFailureThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultHalfOpenRequests = 1
)

// BreakerSettings tunes the per-provider circuit breakers. Zero values fall back to defaults.
type BreakerSettings struct {
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // time open before trial requests are let through
	HalfOpenRequests int           // successful trial requests needed to close again
}

// Breakers holds one circuit breaker per provider, so a hung gateway fails fast without
// affecting the others. Safe to share between clients.
type Breakers struct {
	mu         sync.Mutex
	settings   BreakerSettings
	logger     *zap.Logger
	byProvider map[ProviderID]*gobreaker.CircuitBreaker[*Response]
}

// NewBreakers creates an empty breaker set.
func NewBreakers(s BreakerSettings, logger *zap.Logger) *Breakers {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = defaultBreakerCooldown
	}
	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = defaultHalfOpenRequests
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breakers{
		settings:   s,
		logger:     logger,
		byProvider: make(map[ProviderID]*gobreaker.CircuitBreaker[*Response]),
	}
}

// For returns the breaker of a provider, creating it on first use.
func (b *Breakers) For(id ProviderID) *gobreaker.CircuitBreaker[*Response] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byProvider[id]; ok {
		return cb
	}
	threshold := uint32(b.settings.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        string(id),
		MaxRequests: uint32(b.settings.HalfOpenRequests),
		Timeout:     b.settings.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
			b.logger.Warn("provider circuit changed state",
				zap.String("provider", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	b.byProvider[id] = cb
	return cb
}

// State returns the current state of a provider's circuit.
func (b *Breakers) State(id ProviderID) gobreaker.State {
	return b.For(id).State()
}
