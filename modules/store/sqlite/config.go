package sqlite

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultDBFile      = "scout.db"
	defaultBusyTimeout = 5 * time.Second
)

// Journal modes accepted in Config.Journal.
const (
	JournalWAL    = "wal"
	JournalDelete = "delete"
)

// Config holds the settings of the pending-request database.
type Config struct {
	// Path of the database file. Configure places it under the data
	// directory when unset.
	Path string `yaml:"path"`

	// Journal is wal (the default) or delete. WAL lets the review API list
	// pending requests while a suspended task is being written.
	Journal string `yaml:"journal"`

	// BusyTimeout bounds the wait on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// MaxAge drops requests older than this when the store opens, so a task
	// abandoned long ago is not offered to a reviewer again. Zero keeps
	// every request.
	MaxAge time.Duration `yaml:"max_age"`
}

func (c *Config) defaults() {
	if c.Path == "" {
		c.Path = defaultDBFile
	}
	c.Journal = strings.ToLower(strings.TrimSpace(c.Journal))
	if c.Journal == "" {
		c.Journal = JournalWAL
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) validate() error {
	switch c.Journal {
	case JournalWAL, JournalDelete:
	default:
		return fmt.Errorf("sqlite: journal must be %s or %s, got %q", JournalWAL, JournalDelete, c.Journal)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %s", c.BusyTimeout)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("sqlite: max_age must be non-negative, got %s", c.MaxAge)
	}
	return nil
}
