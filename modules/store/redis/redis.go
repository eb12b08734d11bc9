// Package redis persists pending approval requests in Redis, so several
// scout processes can share one review queue and a suspended task
// survives a restart.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/approval"
)

// Compile-time interface guard.
var _ approval.Store = (*Store)(nil)

// Store implements approval.Store. Records live in a single hash keyed by
// request id.
type Store struct {
	config Config
	client *redis.Client
	logger *slog.Logger
}

// Configure decodes the store settings node and connects.
func Configure(ctx context.Context, node *yaml.Node, logger *slog.Logger) (*Store, error) {
	var cfg Config
	if node != nil && node.Kind != 0 {
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("redis: decode config: %w", err)
		}
	}
	return Open(ctx, cfg, logger)
}

// Open connects to the server described by cfg and checks it answers.
// The caller must Close the store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	logger.Info("redis store connected", "addr", cfg.Addr, "db", cfg.DB, "prefix", cfg.KeyPrefix)
	return &Store{config: cfg, client: client, logger: logger}, nil
}

// Save implements approval.Store.
func (s *Store) Save(ctx context.Context, rec approval.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal request %s: %w", rec.Request.ID, err)
	}
	if err := s.client.HSet(ctx, s.config.pendingKey(), rec.Request.ID, data).Err(); err != nil {
		return fmt.Errorf("redis: save request %s: %w", rec.Request.ID, err)
	}
	return nil
}

// Delete implements approval.Store. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.config.pendingKey(), id).Err(); err != nil {
		return fmt.Errorf("redis: delete request %s: %w", id, err)
	}
	return nil
}

// List implements approval.Store. Records are ordered by creation time.
func (s *Store) List(ctx context.Context) ([]approval.Record, error) {
	all, err := s.client.HGetAll(ctx, s.config.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list requests: %w", err)
	}

	out := make([]approval.Record, 0, len(all))
	for id, data := range all {
		var rec approval.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("redis: skipping undecodable request", "id", id, "error", err)
			continue
		}
		out = append(out, rec)
	}
	approval.SortRecords(out)
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.logger.Info("redis store closing")
	return s.client.Close()
}
