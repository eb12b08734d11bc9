package gateway

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/flemzord/scout/internal/security"
)

// Config is the review gateway section of the scout config.
type Config struct {
	// Bind is the listen address. Empty runs scout with the terminal
	// reviewer only.
	Bind string     `yaml:"bind"`
	Auth AuthConfig `yaml:"auth"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes and MaxJSONDepth bound decision and task payloads, REST
	// and stream alike. Zero selects the security package defaults.
	MaxBodyBytes int `yaml:"max_body_bytes"`
	MaxJSONDepth int `yaml:"max_json_depth"`

	// StreamOrigins lists host patterns (path.Match syntax) of browser
	// review UIs allowed to open /ws/reviews from another origin.
	StreamOrigins []string `yaml:"stream_origins"`
}

// Enabled reports whether a listen address is configured.
func (c Config) Enabled() bool { return c.Bind != "" }

// Validate reports every problem with c, joined into one error.
func (c Config) Validate() error {
	var errs []error
	if c.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Bind); err != nil {
			errs = append(errs, fmt.Errorf("bind: %w", err))
		}
	}
	// Half-configured basic auth would leave the gateway loopback-only
	// without saying so.
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPass == "") {
		errs = append(errs, errors.New("auth.basic_user and auth.basic_pass must be set together"))
	}
	if c.MaxBodyBytes < 0 || c.MaxJSONDepth < 0 {
		errs = append(errs, errors.New("request limits must not be negative"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) defaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

func (c Config) limits() security.PayloadLimits {
	return security.PayloadLimits{MaxBytes: c.MaxBodyBytes, MaxDepth: c.MaxJSONDepth}
}

// AuthConfig holds reviewer credentials. A bearer token identifies the
// reviewer as "token"; basic auth identifies them by user name.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured reports whether any credential is set. Without one the API
// only answers loopback clients.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
