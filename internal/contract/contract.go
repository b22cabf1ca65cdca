// Package contract checks provider webhook bodies against JSON schemas before they are parsed.
package contract

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hallhub/backend/internal/gateway"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ViolationError lists the schema violations found in a payload.
type ViolationError struct {
	Provider gateway.ProviderID
	Errors   []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s webhook violates contract: %s", e.Provider, strings.Join(e.Errors, "; "))
}

// Validator holds one compiled schema per provider.
type Validator struct {
	schemas map[gateway.ProviderID]*gojsonschema.Schema
}

// NewValidator compiles the embedded schemas for the given providers.
func NewValidator(providers ...gateway.ProviderID) (*Validator, error) {
	v := &Validator{schemas: make(map[gateway.ProviderID]*gojsonschema.Schema, len(providers))}
	for _, id := range providers {
		raw, err := schemaFS.ReadFile("schemas/" + string(id) + ".json")
		if err != nil {
			return nil, fmt.Errorf("no webhook schema for %s: %w", id, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("error loading or compiling schema %s: %w", id, err)
		}
		v.schemas[id] = schema
	}
	return v, nil
}

// Validate returns a *ViolationError if body does not satisfy the provider's schema.
// Providers without a schema pass.
func (v *Validator) Validate(provider gateway.ProviderID, body []byte) error {
	schema, ok := v.schemas[provider]
	if !ok {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ViolationError{Provider: provider, Errors: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return &ViolationError{Provider: provider, Errors: errs}
}
