package redis

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultAddr        = "localhost:6379"
	defaultKeyPrefix   = "scout:"
	defaultDialTimeout = 5 * time.Second
)

// Config holds the Redis store configuration.
type Config struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces every key so several deployments can share a
	// server. Defaults to "scout:".
	KeyPrefix string `yaml:"key_prefix"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.DB < 0 {
		errs = append(errs, fmt.Errorf("redis: db must be non-negative, got %d", c.DB))
	}
	if c.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("redis: invalid dial_timeout %s", c.DialTimeout))
	}
	return errors.Join(errs...)
}

// pendingKey is the hash holding one JSON record per request id.
func (c *Config) pendingKey() string {
	return c.KeyPrefix + "approval:pending"
}
