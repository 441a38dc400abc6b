package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/primal-host/fleetd/internal/node"
)

// UpsertNode inserts a new node row or fully overwrites an existing one by
// node_id. Creation is atomic: the row exists before any backend call is made.
func (s *Store) UpsertNode(ctx context.Context, r *node.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (
			node_id, backend, pid, container_id, created_at, status_changed_at,
			peer_id, bin_version, port, metrics_port, node_ip, rewards_addr,
			home_network, upnp, reachability_chk, node_logs,
			rewards, balance, records, relevant_records, connected_peers,
			relay_clients, kbuckets_peers, shunned_count, mem_used, cpu_usage,
			ips, disk_usage, status, reason, detail, is_status_locked, is_status_unknown
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(node_id) DO UPDATE SET
			backend=excluded.backend, pid=excluded.pid, container_id=excluded.container_id,
			status_changed_at=excluded.status_changed_at, peer_id=excluded.peer_id,
			bin_version=excluded.bin_version, node_ip=excluded.node_ip,
			home_network=excluded.home_network, upnp=excluded.upnp,
			reachability_chk=excluded.reachability_chk, node_logs=excluded.node_logs,
			rewards=excluded.rewards, balance=excluded.balance, records=excluded.records,
			relevant_records=excluded.relevant_records, connected_peers=excluded.connected_peers,
			relay_clients=excluded.relay_clients, kbuckets_peers=excluded.kbuckets_peers,
			shunned_count=excluded.shunned_count, mem_used=excluded.mem_used,
			cpu_usage=excluded.cpu_usage, ips=excluded.ips, disk_usage=excluded.disk_usage,
			status=excluded.status, reason=excluded.reason, detail=excluded.detail,
			is_status_locked=excluded.is_status_locked, is_status_unknown=excluded.is_status_unknown
	`,
		r.NodeID, string(r.Backend), r.PID, r.ContainerID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.StatusChangedAt.UTC().Format(time.RFC3339Nano),
		r.PeerID, r.BinVersion, r.Port, r.MetricsPort, r.NodeIP, r.RewardsAddr,
		boolToInt(r.HomeNetwork), boolToInt(r.UPnP), boolToInt(r.ReachabilityChk), boolToInt(r.NodeLogs),
		r.Rewards, r.Balance, r.Records, r.RelevantRecords, r.ConnectedPeers,
		r.RelayClients, r.KBucketsPeers, r.ShunnedCount, r.MemUsed, r.CPUUsage,
		r.IPs, r.DiskUsage, string(r.State.Status), string(r.State.Reason), r.State.Detail,
		boolToInt(r.IsLocked), boolToInt(r.IsUnknown),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("store: upsert node %s: %w", r.NodeID, err)
	}
	return nil
}

// DeleteNode removes a node row. Idempotent: deleting an unknown id is not an
// error.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE node_id = ?`, nodeID)
	if err != nil {
		return fmt.Errorf("store: delete node %s: %w", nodeID, err)
	}
	return nil
}

// GetNode looks up a node by exact node_id.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*node.Record, error) {
	row := s.db.QueryRowContext(ctx, nodeSelectColumns+` WHERE node_id = ?`, nodeID)
	r, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get node %s: %w", nodeID, err)
	}
	return r, nil
}

// ListNodes returns every node row, ordered by creation time.
func (s *Store) ListNodes(ctx context.Context) ([]*node.Record, error) {
	rows, err := s.db.QueryContext(ctx, nodeSelectColumns+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	defer rows.Close()

	var out []*node.Record
	for rows.Next() {
		r, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const nodeSelectColumns = `
	SELECT node_id, backend, pid, container_id, created_at, status_changed_at,
		peer_id, bin_version, port, metrics_port, node_ip, rewards_addr,
		home_network, upnp, reachability_chk, node_logs,
		rewards, balance, records, relevant_records, connected_peers,
		relay_clients, kbuckets_peers, shunned_count, mem_used, cpu_usage,
		ips, disk_usage, status, reason, detail, is_status_locked, is_status_unknown
	FROM nodes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*node.Record, error) {
	var r node.Record
	var backend, status, reason string
	var createdAt, statusChangedAt string
	var homeNetwork, upnp, reachabilityChk, nodeLogs, locked, unknown int
	err := row.Scan(
		&r.NodeID, &backend, &r.PID, &r.ContainerID, &createdAt, &statusChangedAt,
		&r.PeerID, &r.BinVersion, &r.Port, &r.MetricsPort, &r.NodeIP, &r.RewardsAddr,
		&homeNetwork, &upnp, &reachabilityChk, &nodeLogs,
		&r.Rewards, &r.Balance, &r.Records, &r.RelevantRecords, &r.ConnectedPeers,
		&r.RelayClients, &r.KBucketsPeers, &r.ShunnedCount, &r.MemUsed, &r.CPUUsage,
		&r.IPs, &r.DiskUsage, &status, &reason, &r.State.Detail, &locked, &unknown,
	)
	if err != nil {
		return nil, err
	}
	r.Backend = node.Backend(backend)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.StatusChangedAt, _ = time.Parse(time.RFC3339Nano, statusChangedAt)
	r.HomeNetwork = homeNetwork != 0
	r.UPnP = upnp != 0
	r.ReachabilityChk = reachabilityChk != 0
	r.NodeLogs = nodeLogs != 0
	r.IsLocked = locked != 0
	r.IsUnknown = unknown != 0
	r.State.Status = node.Status(status)
	r.State.Reason = node.Reason(reason)
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// portInUse reports whether port or metricsPort is already claimed by a node
// other than excludeID — used by the fleet layer to reject conflicting specs
// before ever calling UpsertNode.
func (s *Store) PortInUse(ctx context.Context, port, metricsPort int, excludeID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM nodes
		WHERE node_id != ? AND (port = ? OR metrics_port = ? OR port = ? OR metrics_port = ?)`,
		excludeID, port, port, metricsPort, metricsPort,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: check port in use: %w", err)
	}
	return count > 0, nil
}
