package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator checks decoded model replies against named JSON schemas.
type SchemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles schema under name, replacing any previous definition.
func (v *SchemaValidator) Register(name string, schema map[string]interface{}) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}
	v.mu.Lock()
	v.schemas[name] = compiled
	v.mu.Unlock()
	return nil
}

// Validate returns ErrMalformedOutput listing the failing fields. Field values
// are not echoed.
func (v *SchemaValidator) Validate(name string, doc map[string]interface{}) error {
	v.mu.RLock()
	schema, ok := v.schemas[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %s is not registered", name)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if result.Valid() {
		return nil
	}

	fields := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		fields = append(fields, e.Field()+" ("+e.Type()+")")
	}
	return fmt.Errorf("%w: schema %s: %s", ErrMalformedOutput, name, strings.Join(fields, ", "))
}

type validatingGateway struct {
	next      Gateway
	validator *SchemaValidator
}

// WithSchema validates every reply whose request names a schema.
func WithSchema(next Gateway, validator *SchemaValidator) Gateway {
	return &validatingGateway{next: next, validator: validator}
}

func (g *validatingGateway) Provider() string { return g.next.Provider() }

func (g *validatingGateway) Complete(ctx context.Context, req Request) (map[string]interface{}, error) {
	out, err := g.next.Complete(ctx, req)
	if err != nil || req.Schema == "" {
		return out, err
	}
	if err := g.validator.Validate(req.Schema, out); err != nil {
		return nil, err
	}
	return out, nil
}
