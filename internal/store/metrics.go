package store

import (
	"context"
	"fmt"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

// AppendMetrics inserts a batch of samples for one node in a single
// transaction.
func (s *Store) AppendMetrics(ctx context.Context, samples []node.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append metrics: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes_metrics (node_id, ts, key, value) VALUES (?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("store: append metrics: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, sample.NodeID, sample.Ts.UnixMilli(), sample.Key, sample.Value); err != nil {
			return fmt.Errorf("store: append metric %s/%s: %w", sample.NodeID, sample.Key, err)
		}
	}
	return tx.Commit()
}

// TrimMetrics enforces the retention cap for one node: samples older than
// maxAge, and any beyond maxCount most recent, are deleted. The cutoff for
// the count cap is found by locating the Nth newest timestamp and deleting
// everything at or before it, mirroring the OFFSET-based pruning this design
// is grounded on.
func (s *Store) TrimMetrics(ctx context.Context, nodeID string, maxAge time.Duration, maxCount int) error {
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes_metrics WHERE node_id = ? AND ts < ?`, nodeID, cutoff); err != nil {
			return fmt.Errorf("store: trim metrics by age for %s: %w", nodeID, err)
		}
	}
	if maxCount > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM nodes_metrics
			WHERE node_id = ? AND id NOT IN (
				SELECT id FROM nodes_metrics WHERE node_id = ? ORDER BY ts DESC LIMIT ?
			)`, nodeID, nodeID, maxCount)
		if err != nil {
			return fmt.Errorf("store: trim metrics by count for %s: %w", nodeID, err)
		}
	}
	return nil
}

// QueryMetrics returns samples for a node, optionally restricted to those at
// or after since.
func (s *Store) QueryMetrics(ctx context.Context, nodeID string, since time.Time) ([]node.MetricSample, error) {
	var rows interface {
		Close() error
		Next() bool
		Scan(...any) error
		Err() error
	}
	var err error
	if since.IsZero() {
		rows, err = s.db.QueryContext(ctx, `SELECT node_id, ts, key, value FROM nodes_metrics WHERE node_id = ? ORDER BY ts`, nodeID)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT node_id, ts, key, value FROM nodes_metrics WHERE node_id = ? AND ts >= ? ORDER BY ts`, nodeID, since.UnixMilli())
	}
	if err != nil {
		return nil, fmt.Errorf("store: query metrics for %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []node.MetricSample
	for rows.Next() {
		var sample node.MetricSample
		var ts int64
		if err := rows.Scan(&sample.NodeID, &ts, &sample.Key, &sample.Value); err != nil {
			return nil, fmt.Errorf("store: scan metric: %w", err)
		}
		sample.Ts = time.UnixMilli(ts)
		out = append(out, sample)
	}
	return out, rows.Err()
}
