package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildSchema renders the ordered parameter list as a draft 2020-12 object
// schema. Property order is preserved in the output so the planner sees
// parameters in declaration order.
func buildSchema(params []Param) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"$schema":"https://json-schema.org/draft/2020-12/schema","type":"object","properties":{`)

	var required []string
	for i, p := range params {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		prop, err := json.Marshal(propertySchema(p))
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(prop)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	buf.WriteString(`}`)

	if len(required) > 0 {
		req, err := json.Marshal(required)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"required":`)
		buf.Write(req)
	}
	buf.WriteString(`,"additionalProperties":false}`)
	return buf.Bytes(), nil
}

type propSchema struct {
	Type        ParamType   `json:"type"`
	Description string      `json:"description,omitempty"`
	Items       *propSchema `json:"items,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Default     any         `json:"default,omitempty"`
}

func propertySchema(p Param) propSchema {
	s := propSchema{
		Type:        p.Type,
		Description: p.Description,
		Enum:        p.Enum,
		Default:     p.Default,
	}
	if p.Type == TypeArray {
		s.Items = &propSchema{Type: p.Items}
	}
	return s
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://scout.schemas.local/tools/%s.schema.json", name)
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}

// normalizeArgs round-trips args through JSON so every value has the shape
// the validator expects (json.Number, []any, map[string]any).
func normalizeArgs(args Args) (Args, error) {
	if args == nil {
		return Args{}, nil
	}
	raw, err := json.Marshal(map[string]any(args))
	if err != nil {
		return nil, err
	}
	return decodeArgs(raw)
}

func decodeArgs(raw []byte) (Args, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Args{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func argumentErrorFromValidation(name string, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ArgumentError{Tool: name, Kind: ArgInvalid, Reason: err.Error()}
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	argErr := &ArgumentError{
		Tool:   name,
		Kind:   ArgInvalid,
		Param:  firstSegment(leaf.InstanceLocation),
		Reason: leaf.Message,
	}
	switch {
	case strings.HasSuffix(leaf.KeywordLocation, "/required"):
		argErr.Kind = ArgMissing
		argErr.Param = firstQuoted(leaf.Message)
	case strings.HasSuffix(leaf.KeywordLocation, "/additionalProperties"):
		argErr.Kind = ArgUnknown
		argErr.Param = firstQuoted(leaf.Message)
	case strings.HasSuffix(leaf.KeywordLocation, "/type"):
		argErr.Kind = ArgType
	case strings.HasSuffix(leaf.KeywordLocation, "/enum"):
		argErr.Kind = ArgEnum
	}
	return argErr
}

// firstSegment returns the top-level property of a JSON pointer.
func firstSegment(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	seg, _, _ := strings.Cut(ptr, "/")
	return seg
}

// firstQuoted extracts the first 'quoted' name from a validator message.
func firstQuoted(msg string) string {
	_, rest, ok := strings.Cut(msg, "'")
	if !ok {
		return ""
	}
	name, _, ok := strings.Cut(rest, "'")
	if !ok {
		return ""
	}
	return name
}
