package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"inkdesk/internal/domain"
)

// schemaGuard rejects a call whose arguments do not match the tool's
// advertised parameter schema before any handler code runs. Rejections
// are in-band error results naming the tool and the violation, phrased
// so the agent can correct its arguments and retry.
type schemaGuard struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps a tool in a guard compiled from its
// advertised parameters. Tools that advertise no parameters pass
// through unwrapped. A schema that fails to compile is a registration
// error; the dispatcher then registers the tool unguarded.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	name := t.Name() + ".schema.json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("parameter schema for %s: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("parameter schema for %s: %w", t.Name(), err)
	}

	return &schemaGuard{inner: t, schema: compiled}, nil
}

func (g *schemaGuard) Name() string              { return g.inner.Name() }
func (g *schemaGuard) Description() string       { return g.inner.Description() }
func (g *schemaGuard) Schema() domain.ToolSchema { return g.inner.Schema() }

func (g *schemaGuard) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return ErrResult("%s: arguments are not valid JSON: %v", g.inner.Name(), err)
	}
	if err := g.schema.Validate(v); err != nil {
		return ErrResult("%s: arguments do not match the tool's schema: %v", g.inner.Name(), err)
	}
	return g.inner.Execute(ctx, params)
}
