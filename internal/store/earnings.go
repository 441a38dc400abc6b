package store

import (
	"context"
	"fmt"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

// AppendEarning records one balance movement, deduplicated by
// (address, block_number): a repeat insert for the same block is a no-op.
func (s *Store) AppendEarning(ctx context.Context, e node.Earning) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO earnings (address, amount, block_number, ts) VALUES (?,?,?,?)
		ON CONFLICT(address, block_number) DO NOTHING`,
		e.Address, e.Amount, e.BlockNumber, e.Ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: append earning for %s: %w", e.Address, err)
	}
	return nil
}

// ListEarnings returns the earnings history for one address, ordered by
// block number.
func (s *Store) ListEarnings(ctx context.Context, address string) ([]node.Earning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, amount, block_number, ts FROM earnings
		WHERE address = ? ORDER BY block_number`, address)
	if err != nil {
		return nil, fmt.Errorf("store: list earnings for %s: %w", address, err)
	}
	defer rows.Close()

	var out []node.Earning
	for rows.Next() {
		var e node.Earning
		var ts int64
		if err := rows.Scan(&e.Address, &e.Amount, &e.BlockNumber, &ts); err != nil {
			return nil, fmt.Errorf("store: scan earning: %w", err)
		}
		e.Ts = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
