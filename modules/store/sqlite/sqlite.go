// Package sqlite persists pending approval requests in a local SQLite
// database so a suspended research task survives a restart. It uses
// modernc.org/sqlite (pure Go, no CGO), in WAL mode unless configured
// otherwise.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/approval"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Compile-time interface guard.
var _ approval.Store = (*Store)(nil)

// Store implements approval.Store backed by SQLite.
type Store struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
}

// Configure decodes the store settings node and opens the database. An
// unset path defaults to scout.db under dataDir.
func Configure(ctx context.Context, node *yaml.Node, dataDir string, logger *slog.Logger) (*Store, error) {
	var cfg Config
	if node != nil && node.Kind != 0 {
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("sqlite: decode config: %w", err)
		}
	}
	if cfg.Path == "" && dataDir != "" {
		cfg.Path = filepath.Join(dataDir, defaultDBFile)
	}
	return Open(ctx, cfg, logger)
}

// Open opens (creating if needed) the database described by cfg and
// migrates its schema. The caller must Close the store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=" + cfg.Journal,
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{config: cfg, db: db, logger: logger}
	if cfg.MaxAge > 0 {
		if err := s.dropStale(ctx, time.Now().Add(-cfg.MaxAge)); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "journal", cfg.Journal)
	return s, nil
}

// dropStale deletes requests created before cutoff. Their tasks are not
// resumed.
func (s *Store) dropStale(ctx context.Context, cutoff time.Time) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pending_requests WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: drop stale requests: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("sqlite: dropped stale pending requests", "count", n, "older_than", cutoff)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.config.Path }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.logger.Info("sqlite store closing")
	return s.db.Close()
}
