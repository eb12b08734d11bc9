package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flemzord/scout/internal/approval"
)

// Save implements approval.Store. An existing row with the same request id
// is replaced.
func (s *Store) Save(ctx context.Context, rec approval.Record) error {
	req, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("sqlite: marshal request %s: %w", rec.Request.ID, err)
	}

	createdAt := rec.Request.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_requests (id, task_id, tool_name, created_at, request, state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Request.ID, rec.Request.TaskID, rec.Request.Action.Action,
		createdAt.UnixNano(), string(req), string(rec.State),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save request %s: %w", rec.Request.ID, err)
	}
	return nil
}

// Delete implements approval.Store. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_requests WHERE id = ?", id); err != nil {
		return fmt.Errorf("sqlite: delete request %s: %w", id, err)
	}
	return nil
}

// List implements approval.Store. Records are ordered by creation time.
func (s *Store) List(ctx context.Context) ([]approval.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request, state
		FROM pending_requests
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []approval.Record
	for rows.Next() {
		var (
			id, req, state string
			rec            approval.Record
		)
		if err := rows.Scan(&id, &req, &state); err != nil {
			return nil, fmt.Errorf("sqlite: scan request: %w", err)
		}
		if err := json.Unmarshal([]byte(req), &rec.Request); err != nil {
			// Skip it; the other tasks can still be recovered.
			s.logger.Warn("sqlite: skipping undecodable request", "id", id, "error", err)
			continue
		}
		if state != "" {
			rec.State = json.RawMessage(state)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list requests: %w", err)
	}
	return out, nil
}
