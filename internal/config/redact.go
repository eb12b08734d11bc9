package config

import (
	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/security"
)

const mask = "********"

// Redacted returns a copy of cfg safe to print: secrets are masked,
// including secret-looking keys inside module settings.
func Redacted(cfg *Config) *Config {
	out := *cfg
	out.Search.APIKey = maskValue(out.Search.APIKey)
	out.Mail.Password = maskValue(out.Mail.Password)
	out.Gateway.Auth.BearerToken = maskValue(out.Gateway.Auth.BearerToken)
	out.Gateway.Auth.BasicPass = maskValue(out.Gateway.Auth.BasicPass)
	out.Provider.Settings = redactNode(cfg.Provider.Settings)
	out.Approval.Store.Settings = redactNode(cfg.Approval.Store.Settings)
	return &out
}

func maskValue(s string) string {
	if s == "" {
		return ""
	}
	return mask
}

// redactNode deep-copies n with the values of secret keys masked.
func redactNode(n yaml.Node) yaml.Node {
	out := n
	if len(n.Content) == 0 {
		return out
	}
	out.Content = make([]*yaml.Node, len(n.Content))
	for i, child := range n.Content {
		c := redactNode(*child)
		out.Content[i] = &c
	}
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(out.Content); i += 2 {
			val := out.Content[i+1]
			if security.IsCredentialKey(out.Content[i].Value) && val.Kind == yaml.ScalarNode && val.Value != "" {
				val.Value = mask
				val.Tag = "!!str"
				val.Style = 0
			}
		}
	}
	return out
}
