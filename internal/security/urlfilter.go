package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrURLBlocked is returned for a search hit scout will not cite.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig selects which search hits may be read and cited in a
// research report. It is inlined in the search section of scout.yaml.
type URLFilterConfig struct {
	// AllowDomains, when set, restricts sources to these domains and their
	// subdomains. Entries may be written as example.com, *.example.com or
	// https://example.com/.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains always wins over AllowDomains.
	DenyDomains []string `yaml:"deny_domains"`

	// AllowPrivateHosts admits hits on loopback, private and link-local
	// addresses and on localhost, .local and .internal names, which are
	// dropped by default.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

// URLFilter screens search hits before they reach the planner. Only http
// and https URLs without embedded credentials pass.
type URLFilter struct {
	allow        []string
	deny         []string
	allowPrivate bool
}

// NewURLFilter builds a filter from cfg.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	return &URLFilter{
		allow:        domainList(cfg.AllowDomains),
		deny:         domainList(cfg.DenyDomains),
		allowPrivate: cfg.AllowPrivateHosts,
	}
}

// domainList reduces each entry to a lower-case host name.
func domainList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Hostname()
		}
		d = strings.TrimSuffix(strings.TrimPrefix(d, "*."), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check returns nil when rawURL may be used as a source, or an error
// wrapping ErrURLBlocked that names the reason. A nil filter applies only
// the scheme, credential and private host rules.
func (f *URLFilter) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrURLBlocked, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: URL carries credentials", ErrURLBlocked)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}

	if (f == nil || !f.allowPrivate) && privateHost(host) {
		return fmt.Errorf("%w: %s is a private host", ErrURLBlocked, host)
	}
	if f == nil {
		return nil
	}
	for _, d := range f.deny {
		if inDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}
	if len(f.allow) == 0 {
		return nil
	}
	for _, d := range f.allow {
		if inDomain(host, d) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

// IsConfigured reports whether the filter does more than the defaults a
// nil filter applies.
func (f *URLFilter) IsConfigured() bool {
	return f != nil && (len(f.allow) > 0 || len(f.deny) > 0 || f.allowPrivate)
}

// inDomain reports whether host is domain or one of its subdomains.
// notexample.com is not in example.com.
func inDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func privateHost(host string) bool {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
	}
	return host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal")
}
