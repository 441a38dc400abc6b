package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

// migration describes a single forward-only schema step. Steps are applied in
// increasing Version order; a step whose Version is already recorded in the
// schema_migrations table is skipped, making the whole chain idempotent.
type migration struct {
	Version     int
	Description string
	Action      func(ctx context.Context, tx *sql.Tx) error
}

// migrations is the lexicographically-ordered (by Version) chain applied on
// every startup. Add new entries at the end with a strictly increasing
// Version; never edit or remove a past step.
var migrations = []migration{
	{
		Version:     1,
		Description: "create nodes table",
		Action: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS nodes (
					node_id           TEXT PRIMARY KEY,
					backend           TEXT NOT NULL,
					pid               INTEGER NOT NULL DEFAULT 0,
					container_id      TEXT NOT NULL DEFAULT '',
					created_at        TEXT NOT NULL,
					status_changed_at TEXT NOT NULL,
					peer_id           TEXT NOT NULL DEFAULT '',
					bin_version       TEXT NOT NULL DEFAULT '',
					port              INTEGER NOT NULL,
					metrics_port      INTEGER NOT NULL,
					node_ip           TEXT NOT NULL DEFAULT '',
					rewards_addr      TEXT NOT NULL DEFAULT '',
					home_network      INTEGER NOT NULL DEFAULT 0,
					upnp              INTEGER NOT NULL DEFAULT 0,
					reachability_chk  INTEGER NOT NULL DEFAULT 0,
					node_logs         INTEGER NOT NULL DEFAULT 0,
					rewards           TEXT NOT NULL DEFAULT '0',
					balance           TEXT NOT NULL DEFAULT '0',
					records           TEXT NOT NULL DEFAULT '0',
					relevant_records  TEXT NOT NULL DEFAULT '0',
					connected_peers   TEXT NOT NULL DEFAULT '0',
					relay_clients     TEXT NOT NULL DEFAULT '0',
					kbuckets_peers    TEXT NOT NULL DEFAULT '0',
					shunned_count     TEXT NOT NULL DEFAULT '0',
					mem_used          TEXT NOT NULL DEFAULT '0',
					cpu_usage         TEXT NOT NULL DEFAULT '0',
					ips               TEXT NOT NULL DEFAULT '',
					disk_usage        INTEGER NOT NULL DEFAULT 0,
					status            TEXT NOT NULL,
					reason            TEXT NOT NULL DEFAULT '',
					detail            TEXT NOT NULL DEFAULT '',
					is_status_locked  INTEGER NOT NULL DEFAULT 0,
					is_status_unknown INTEGER NOT NULL DEFAULT 0
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_port ON nodes(port);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_metrics_port ON nodes(metrics_port);
			`)
			return err
		},
	},
	{
		Version:     2,
		Description: "create nodes_metrics table",
		Action: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS nodes_metrics (
					id      INTEGER PRIMARY KEY AUTOINCREMENT,
					node_id TEXT NOT NULL,
					ts      INTEGER NOT NULL,
					key     TEXT NOT NULL,
					value   TEXT NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_metrics_node_ts ON nodes_metrics(node_id, ts);
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "create earnings table",
		Action: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS earnings (
					address      TEXT NOT NULL,
					amount       TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					ts           INTEGER NOT NULL,
					PRIMARY KEY (address, block_number)
				);
			`)
			return err
		},
	},
	{
		Version:     4,
		Description: "create settings singleton table",
		Action: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS settings (
					id                              INTEGER PRIMARY KEY CHECK (id = 1),
					nodes_auto_upgrade               INTEGER NOT NULL DEFAULT 0,
					nodes_auto_upgrade_delay_secs     INTEGER NOT NULL DEFAULT 10,
					node_bin_version_polling_freq_secs INTEGER NOT NULL DEFAULT 21600,
					nodes_metrics_polling_freq_secs   INTEGER NOT NULL DEFAULT 5,
					disks_usage_check_freq_secs       INTEGER NOT NULL DEFAULT 60,
					rewards_balances_retrieval_freq_secs INTEGER NOT NULL DEFAULT 900,
					rewards_monitoring_enabled        INTEGER NOT NULL DEFAULT 1,
					l2_network_rpc_url                TEXT NOT NULL DEFAULT '',
					token_contract_address             TEXT NOT NULL DEFAULT '',
					lcd_display_enabled                INTEGER NOT NULL DEFAULT 0,
					lcd_device                          TEXT NOT NULL DEFAULT '1',
					lcd_addr                            TEXT NOT NULL DEFAULT '0x27',
					node_list_page_size                INTEGER NOT NULL DEFAULT 30,
					node_list_mode                      INTEGER NOT NULL DEFAULT 0
				);
			`)
			return err
		},
	},
	{
		Version:     5,
		Description: "create events table",
		Action: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS events (
					id         INTEGER PRIMARY KEY AUTOINCREMENT,
					event_type TEXT NOT NULL,
					target     TEXT NOT NULL,
					message    TEXT NOT NULL,
					details    TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				);
			`)
			return err
		},
	},
}

// runMigrations applies every not-yet-recorded step in order, inside its own
// transaction, recording its version on success. It is idempotent: re-running
// it against an already-migrated database is a no-op.
func runMigrations(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if !sort.SliceIsSorted(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version }) {
		return fmt.Errorf("store: migrations are not in ascending version order")
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", m.Version, err)
		}
		if err := m.Action(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.Version, err)
		}
		log.Info("applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}
