package tool

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
)

// Args holds the arguments of one tool call, keyed by parameter name.
type Args map[string]any

// String returns the string argument name, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the integer argument name. Numbers decoded from JSON and
// native Go integers are both accepted.
func (a Args) Int(name string) (int, error) {
	switch v := a[name].(type) {
	case nil:
		return 0, fmt.Errorf("argument %q is missing", name)
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("argument %q is not an integer", name)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %q is not an integer", name)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q has type %T, want integer", name, v)
	}
}

// Bool returns the boolean argument name, or false when absent.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Strings returns the string-array argument name.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy of a.
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// MarshalJSON encodes a nil Args as an empty object.
func (a Args) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(a))
}

// ParseArgs decodes a JSON object into Args. Empty input yields empty Args.
func ParseArgs(raw json.RawMessage) (Args, error) {
	return decodeArgs(raw)
}
