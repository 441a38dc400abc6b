package store

import (
	"context"
	"fmt"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

// AppendEvent records one audit-log row. Every lifecycle mutation and
// scheduler-driven status change goes through this so the UI's activity feed
// and the events API have a complete trail.
func (s *Store) AppendEvent(ctx context.Context, e node.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_type, target, message, details, created_at)
		VALUES (?,?,?,?,?)`,
		e.Type, e.Target, e.Message, e.Details, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: append event %s/%s: %w", e.Type, e.Target, err)
	}
	return nil
}

// ListEvents returns the most recent limit events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]node.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, target, message, details, created_at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []node.Event
	for rows.Next() {
		var e node.Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.Target, &e.Message, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
