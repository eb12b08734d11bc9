// Package tool defines the tool definition model and the registry that
// validates and invokes tools on behalf of the planner. Every action the
// research agent takes goes through a registered tool.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

// ParamType values supported by the schema builder.
const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// Param describes one named, typed argument of a tool.
type Param struct {
	// Name is the argument key in the call payload.
	Name string

	// Type is the JSON type the value must have.
	Type ParamType

	// Items is the element type when Type is TypeArray.
	Items ParamType

	// Description is shown to the planner.
	Description string

	// Required marks arguments the caller must supply.
	Required bool

	// Default is applied when an optional argument is absent.
	Default any

	// Enum restricts string arguments to a fixed set of values.
	Enum []string
}

// Func is a tool implementation. It receives validated arguments with
// defaults applied and returns the text handed back to the planner.
type Func func(ctx context.Context, args Args) (string, error)

// Definition is an immutable, registered tool: name, description,
// ordered parameters and implementation.
type Definition struct {
	name        string
	description string
	params      []Param
	schema      json.RawMessage
	compiled    *jsonschema.Schema
	fn          Func
}

// NewDefinition builds a Definition and compiles its argument schema.
func NewDefinition(name, description string, params []Param, fn Func) (*Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyToolName
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %s: %w", name, ErrNilFunc)
	}

	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("tool %s: parameter with empty name", name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("tool %s: duplicate parameter %q", name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !validParamType(p.Type) {
			return nil, fmt.Errorf("tool %s: parameter %q has invalid type %q", name, p.Name, p.Type)
		}
		if p.Type == TypeArray && !validParamType(p.Items) {
			return nil, fmt.Errorf("tool %s: array parameter %q has invalid item type %q", name, p.Name, p.Items)
		}
	}

	raw, err := buildSchema(params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	compiled, err := compileSchema(name, raw)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	return &Definition{
		name:        name,
		description: description,
		params:      append([]Param(nil), params...),
		schema:      raw,
		compiled:    compiled,
		fn:          fn,
	}, nil
}

// MustDefinition is like NewDefinition but panics on error. Intended for
// tools declared at package level.
func MustDefinition(name, description string, params []Param, fn Func) *Definition {
	d, err := NewDefinition(name, description, params, fn)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the unique tool name.
func (d *Definition) Name() string { return d.name }

// Description returns the human-readable description.
func (d *Definition) Description() string { return d.description }

// Params returns a copy of the ordered parameter list.
func (d *Definition) Params() []Param { return append([]Param(nil), d.params...) }

// Schema returns the JSON Schema of the tool's arguments.
func (d *Definition) Schema() json.RawMessage { return d.schema }

// WithFunc returns a new Definition with the same name, description and
// parameters but a different implementation.
func (d *Definition) WithFunc(fn Func) *Definition {
	cp := *d
	cp.fn = fn
	return &cp
}

// Call validates args, applies defaults, and runs the implementation.
// Implementation failures are wrapped in *ExecutionError.
func (d *Definition) Call(ctx context.Context, args Args) (string, error) {
	validated, err := d.Validate(args)
	if err != nil {
		return "", err
	}

	out, err := d.fn(ctx, validated)
	if err != nil {
		// Errors after ctx ended describe the context, not the tool.
		if ctx.Err() != nil || IsAbort(err) {
			return "", err
		}
		var argErr *ArgumentError
		var execErr *ExecutionError
		if errors.As(err, &argErr) || errors.As(err, &execErr) {
			return "", err
		}
		return "", &ExecutionError{Tool: d.name, Err: err}
	}
	return out, nil
}

// Validate checks args against the schema and returns a normalized copy
// with defaults applied for absent optional parameters.
func (d *Definition) Validate(args Args) (Args, error) {
	normalized, err := normalizeArgs(args)
	if err != nil {
		return nil, &ArgumentError{Tool: d.name, Kind: ArgInvalid, Reason: err.Error()}
	}
	if err := d.compiled.Validate(map[string]any(normalized)); err != nil {
		return nil, argumentErrorFromValidation(d.name, err)
	}
	for _, p := range d.params {
		if _, ok := normalized[p.Name]; !ok && p.Default != nil {
			normalized[p.Name] = p.Default
		}
	}
	return normalized, nil
}

func validParamType(t ParamType) bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray:
		return true
	default:
		return false
	}
}
