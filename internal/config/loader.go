package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRef matches ${VAR} and ${VAR:-default}. A default may escape '}' as '\}'.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads and parses the scout configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw into a Config. Environment references are expanded
// inside scalar values once the document is parsed, so a mail password or
// API key holding '#' or ': ' arrives intact and a reference left in a
// comment is ignored. Unknown keys are rejected; the provider and store
// settings are free-form here and checked by the module that decodes them.
func Parse(raw []byte) (*Config, error) {
	var cfg Config

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if doc.Kind == 0 {
		return &cfg, nil
	}

	if err := expandValues(&doc); err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}
	expanded, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return &cfg, nil
}

// expandValues rewrites every scalar value under n in place. Mapping keys
// are left alone. A plain scalar drops its resolved tag so that
// "port: ${PORT}" decodes as a number; a quoted one stays a string.
func expandValues(n *yaml.Node) error {
	var missing []string

	var walk func(*yaml.Node)
	walk = func(n *yaml.Node) {
		switch n.Kind {
		case yaml.ScalarNode:
			v, unset := expand(n.Value)
			missing = append(missing, unset...)
			if v != n.Value {
				n.Value = v
				if n.Style == 0 {
					n.Tag = ""
				}
			}
		case yaml.MappingNode:
			for i := 1; i < len(n.Content); i += 2 {
				walk(n.Content[i])
			}
		default:
			for _, c := range n.Content {
				walk(c)
			}
		}
	}
	walk(n)

	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	errs := make([]error, 0, len(missing))
	for _, name := range slices.Compact(missing) {
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
	}
	return errors.Join(errs...)
}

// expand substitutes the references in s and returns the names of the
// variables that are unset and have no default. Those references are kept.
func expand(s string) (string, []string) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatchIndex(ref)
		name := ref[m[2]:m[3]]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if m[4] >= 0 {
			return strings.ReplaceAll(ref[m[4]:m[5]], `\}`, "}")
		}
		missing = append(missing, name)
		return ref
	})
	return out, missing
}
