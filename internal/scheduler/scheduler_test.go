package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/primal-host/fleetd/internal/backend"
	"github.com/primal-host/fleetd/internal/fleet"
	"github.com/primal-host/fleetd/internal/metrics"
	"github.com/primal-host/fleetd/internal/node"
	"github.com/primal-host/fleetd/internal/ops"
	"github.com/primal-host/fleetd/internal/release"
	"github.com/primal-host/fleetd/internal/store"
)

type noopBackend struct{ upgraded []string }

func (b *noopBackend) Provision(ctx context.Context, rec *node.Record) error { return nil }
func (b *noopBackend) Start(ctx context.Context, rec *node.Record) error    { return nil }
func (b *noopBackend) Stop(ctx context.Context, rec *node.Record) error     { return nil }
func (b *noopBackend) Destroy(ctx context.Context, rec *node.Record) error  { return nil }
func (b *noopBackend) IsAlive(ctx context.Context, rec *node.Record) (bool, error) {
	return true, nil
}
func (b *noopBackend) Logs(ctx context.Context, rec *node.Record, follow bool) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}
func (b *noopBackend) ResourceUsage(ctx context.Context, rec *node.Record) (backend.Usage, error) {
	return backend.Usage{}, nil
}
func (b *noopBackend) Upgrade(ctx context.Context, rec *node.Record, version string) error {
	b.upgraded = append(b.upgraded, rec.NodeID)
	return nil
}

func newTestScheduler(t *testing.T, catalogURL string) (*Scheduler, *fleet.State, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir()+"/test.db", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	flt := fleet.New()
	be := &noopBackend{}
	o := ops.New(st, flt, be, nil)
	rel := release.New(catalogURL)
	s := New(o, st, flt, be, metrics.NewFetcher(), rel, nil, nil)
	return s, flt, st
}

type recordingSink struct{ stats map[string]string }

func (s *recordingSink) Display(ctx context.Context, stats map[string]string) error {
	s.stats = stats
	return nil
}

func TestPruneMetricsPeriodIsTenTimesMetricsPeriod(t *testing.T) {
	s, _, st := newTestScheduler(t, "http://127.0.0.1:0")
	ctx := context.Background()

	set := node.DefaultSettings()
	set.NodesMetricsPollingFreq = 2 * time.Second
	if err := st.UpdateSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	if got := s.pruneMetricsPeriod(ctx); got != 20*time.Second {
		t.Fatalf("expected 20s, got %s", got)
	}
}

func TestReconcilePeriodCapsAtThirtySeconds(t *testing.T) {
	s, _, st := newTestScheduler(t, "http://127.0.0.1:0")
	ctx := context.Background()

	set := node.DefaultSettings()
	set.NodesMetricsPollingFreq = time.Minute
	if err := st.UpdateSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if got := s.reconcilePeriod(ctx); got != 30*time.Second {
		t.Fatalf("expected cap at 30s, got %s", got)
	}

	set.NodesMetricsPollingFreq = 5 * time.Second
	if err := st.UpdateSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if got := s.reconcilePeriod(ctx); got != 5*time.Second {
		t.Fatalf("expected metrics period when below cap, got %s", got)
	}
}

func TestCheckVersionUpgradesOutdatedNodesInSortedOrderOnly(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "2.0.0", "download_url": "http://example.invalid/bin.zip"})
	}))
	defer catalog.Close()

	s, flt, st := newTestScheduler(t, catalog.URL)
	ctx := context.Background()

	set := node.DefaultSettings()
	set.NodesAutoUpgrade = true
	if err := st.UpdateSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	outdated := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	outdated.BinVersion = "1.0.0"
	outdated.State = node.Active()
	flt.Put(outdated)

	current := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 3, MetricsPort: 4})
	current.BinVersion = "2.0.0"
	current.State = node.Active()
	flt.Put(current)

	locked := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 5, MetricsPort: 6})
	locked.BinVersion = "1.0.0"
	locked.State = node.Active()
	locked.IsLocked = true
	flt.Put(locked)

	s.checkVersion(ctx)

	be := s.be.(*noopBackend)
	if len(be.upgraded) != 1 || be.upgraded[0] != outdated.NodeID {
		t.Fatalf("expected only the outdated unlocked node upgraded, got %v", be.upgraded)
	}
}

func TestPollBalancesStampsDistinctBlockNumbersSoEarningsDontCollapse(t *testing.T) {
	var balanceHex, blockHex string
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		switch req["method"] {
		case "eth_blockNumber":
			resp["result"] = blockHex
		default:
			resp["result"] = balanceHex
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer rpc.Close()

	s, flt, st := newTestScheduler(t, "http://127.0.0.1:0")
	ctx := context.Background()

	set := node.DefaultSettings()
	set.RewardsMonitoringEnabled = true
	set.L2NetworkRPCURL = rpc.URL
	set.TokenContractAddress = "0xtoken"
	if err := st.UpdateSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2, RewardsAddr: "0xaddr"})
	rec.Balance = "0"
	flt.Put(rec)

	balanceHex, blockHex = "0x64", "0x1" // balance 100, block 1
	s.pollBalances(ctx)

	balanceHex, blockHex = "0xc8", "0x2" // balance 200, block 2
	s.pollBalances(ctx)

	earnings, err := st.ListEarnings(ctx, "0xaddr")
	if err != nil {
		t.Fatalf("list earnings: %v", err)
	}
	if len(earnings) != 2 {
		t.Fatalf("expected 2 distinct earnings rows, got %d: %+v", len(earnings), earnings)
	}
	if earnings[0].BlockNumber == earnings[1].BlockNumber {
		t.Fatalf("expected distinct block numbers, got %+v", earnings)
	}
}

func TestRefreshLCDSkipsWhenDisplayDisabled(t *testing.T) {
	s, _, _ := newTestScheduler(t, "http://127.0.0.1:0")
	sink := &recordingSink{}
	s.sink = sink

	s.refreshLCD(context.Background())
	if sink.stats != nil {
		t.Fatalf("expected no display call when LCDDisplayEnabled is false, got %v", sink.stats)
	}
}

func TestRefreshLCDPushesFleetStatsWhenEnabled(t *testing.T) {
	s, flt, st := newTestScheduler(t, "http://127.0.0.1:0")
	sink := &recordingSink{}
	s.sink = sink
	ctx := context.Background()

	set := node.DefaultSettings()
	set.LCDDisplayEnabled = true
	if err := st.UpdateSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	rec.State = node.Active()
	rec.Records = "10"
	flt.Put(rec)

	s.refreshLCD(ctx)
	if sink.stats == nil {
		t.Fatalf("expected a display call")
	}
	if sink.stats["Active"] != "1" {
		t.Fatalf("expected Active count 1, got %v", sink.stats)
	}
	if sink.stats["Stored"] != "10" {
		t.Fatalf("expected Stored 10, got %v", sink.stats)
	}
}

func TestCheckVersionSkipsWhenAutoUpgradeDisabled(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "2.0.0", "download_url": "http://example.invalid/bin.zip"})
	}))
	defer catalog.Close()

	s, flt, _ := newTestScheduler(t, catalog.URL)
	ctx := context.Background()

	outdated := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	outdated.BinVersion = "1.0.0"
	outdated.State = node.Active()
	flt.Put(outdated)

	s.checkVersion(ctx)

	be := s.be.(*noopBackend)
	if len(be.upgraded) != 0 {
		t.Fatalf("expected no upgrades when auto-upgrade disabled, got %v", be.upgraded)
	}
}
