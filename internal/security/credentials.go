// Package security provides credential management, log and audit redaction,
// audit logging, payload validation, and URL filtering.
package security

import (
	"cmp"
	"regexp"
	"slices"
)

// Names of the secrets scout loads from its configuration and environment.
const (
	SecretProviderKey    = "provider.api_key"
	SecretProviderKeyEnv = "provider.api_key_env"
	SecretAnthropicEnv   = "ANTHROPIC_API_KEY"
	SecretOpenAIEnv      = "OPENAI_API_KEY"
	SecretSearchKey      = "search.api_key"
	SecretMailPassword   = "mail.password"
	SecretGatewayToken   = "gateway.auth.bearer_token"
	SecretGatewayBasic   = "gateway.auth.basic_pass"
	SecretStorePassword  = "approval.store.settings.password"
)

// credentialKey matches configuration and log attribute keys whose value is
// itself a credential. Keys that only reference one, such as api_key_env,
// or merely contain the word, such as key_prefix or max_tokens, do not match.
var credentialKey = regexp.MustCompile(`(?i)(^|[_.-])(api_?key|access_key|secret(_key)?|password|passwd|pass|token|authorization)$`)

// IsCredentialKey reports whether a value stored under key is a credential.
func IsCredentialKey(key string) bool {
	return credentialKey.MatchString(key)
}

// Secrets maps secret names to their values.
type Secrets map[string]string

// Set records value under name. Empty values are ignored so an unset
// option never masks the empty string.
func (s Secrets) Set(name, value string) {
	if value == "" {
		return
	}
	s[name] = value
}

// Names returns the recorded secret names, sorted.
func (s Secrets) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns the distinct secret values, longest first, so a secret
// that contains another is masked as a whole.
func (s Secrets) Values() []string {
	values := make([]string, 0, len(s))
	for _, v := range s {
		if !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	slices.SortFunc(values, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return values
}
