package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "fleetd.db"), slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetd.db")
	ctx := context.Background()

	s1, err := Open(ctx, path, slog.Default())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := Open(ctx, path, slog.Default())
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
}

func TestNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := node.NewRecord(node.Spec{
		Backend:     node.BackendNative,
		Port:        9000,
		MetricsPort: 9001,
		NodeIP:      "127.0.0.1",
		RewardsAddr: "0xabc",
	})

	if err := s.UpsertNode(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetNode(ctx, rec.NodeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Port != rec.Port || got.MetricsPort != rec.MetricsPort {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
	if got.State.Status != node.StatusCreating {
		t.Fatalf("expected Creating status, got %s", got.State.Status)
	}

	list, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 node, got %d", len(list))
	}

	if err := s.DeleteNode(ctx, rec.NodeID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetNode(ctx, rec.NodeID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPortConflictRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 9000, MetricsPort: 9001})
	b := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 9000, MetricsPort: 9002})

	if err := s.UpsertNode(ctx, a); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := s.UpsertNode(ctx, b); err == nil {
		t.Fatalf("expected conflict inserting duplicate port")
	}
}

func TestMetricsRetentionCap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 9000, MetricsPort: 9001})
	if err := s.UpsertNode(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := s.AppendMetrics(ctx, []node.MetricSample{{
			NodeID: rec.NodeID,
			Ts:     base.Add(time.Duration(i) * time.Second),
			Key:    "records_stored",
			Value:  "10",
		}})
		if err != nil {
			t.Fatalf("append metrics %d: %v", i, err)
		}
	}

	if err := s.TrimMetrics(ctx, rec.NodeID, 0, 2); err != nil {
		t.Fatalf("trim: %v", err)
	}

	samples, err := s.QueryMetrics(ctx, rec.NodeID, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples after trim, got %d", len(samples))
	}
}

func TestEarningsDedupByBlock(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := node.Earning{Address: "0xabc", Amount: "5", BlockNumber: 100, Ts: time.Now()}
	if err := s.AppendEarning(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendEarning(ctx, e); err != nil {
		t.Fatalf("append dup: %v", err)
	}

	list, err := s.ListEarnings(ctx, "0xabc")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected dedup to 1 row, got %d", len(list))
	}
}

func TestSettingsDefaultsSeedOnFirstAccess(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	set, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if set.NodesMetricsPollingFreq != 5*time.Second {
		t.Fatalf("expected default 5s metrics polling freq, got %v", set.NodesMetricsPollingFreq)
	}
	if set.TokenContractAddress != "0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684" {
		t.Fatalf("unexpected default token contract address: %s", set.TokenContractAddress)
	}
}
