// Package scheduler runs the supervisor's long-lived cooperative tasks:
// metrics polling, version checking with serial auto-upgrade, balance
// polling, disk usage, metrics pruning, reconciliation, and the LCD
// stats-sink refresh.
package scheduler

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/primal-host/fleetd/internal/backend"
	"github.com/primal-host/fleetd/internal/fleet"
	"github.com/primal-host/fleetd/internal/lcd"
	"github.com/primal-host/fleetd/internal/metrics"
	"github.com/primal-host/fleetd/internal/node"
	"github.com/primal-host/fleetd/internal/ops"
	"github.com/primal-host/fleetd/internal/oracle"
	"github.com/primal-host/fleetd/internal/release"
	"github.com/primal-host/fleetd/internal/store"
)

// lcdRefreshPeriod is fixed, independent of settings, matching the original's
// constant display-cycle cadence.
const lcdRefreshPeriod = 5 * time.Second

// Scheduler owns the set of periodic tasks and their tickers.
type Scheduler struct {
	ops     *ops.Ops
	store   *store.Store
	flt     *fleet.State
	be      backend.Backend
	fetcher *metrics.Fetcher
	release *release.Provider
	sink    lcd.StatsSink
	log     *slog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Scheduler. The Balance Oracle is rebuilt on every balance
// poll from current settings (rather than held as a fixed field), since its
// RPC endpoint and contract address are runtime-configurable.
func New(o *ops.Ops, st *store.Store, flt *fleet.State, be backend.Backend, fetcher *metrics.Fetcher, rel *release.Provider, sink lcd.StatsSink, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = lcd.NewLoggingSink(log)
	}
	return &Scheduler{
		ops: o, store: st, flt: flt, be: be,
		fetcher: fetcher, release: rel, sink: sink,
		log: log, stop: make(chan struct{}),
	}
}

// Start launches every task as its own goroutine, each on its own cadence
// read from settings at the start of every tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.runTask(ctx, "metrics", s.metricsPeriod, s.pollMetrics)
	s.runTask(ctx, "version-check", s.versionCheckPeriod, s.checkVersion)
	s.runTask(ctx, "balance", s.balancePeriod, s.pollBalances)
	s.runTask(ctx, "disk-usage", s.diskUsagePeriod, s.pollDiskUsage)
	s.runTask(ctx, "metrics-prune", s.pruneMetricsPeriod, s.pruneMetrics)
	s.runTask(ctx, "reconcile", s.reconcilePeriod, s.reconcile)
	s.runTask(ctx, "lcd", s.lcdPeriod, s.refreshLCD)
}

// Stop cancels every running task and waits for them to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, name string, period func(context.Context) time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			d := period(ctx)
			if d <= 0 {
				d = time.Second
			}
			timer := time.NewTimer(d)
			select {
			case <-s.stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.safeRun(name, func() { fn(ctx) })
			}
		}
	}()
}

// safeRun recovers from a panicking task so one misbehaving task can never
// take down the whole scheduler.
func (s *Scheduler) safeRun(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler task panicked", "task", name, "recovered", r)
		}
	}()
	fn()
}

func (s *Scheduler) settings(ctx context.Context) node.Settings {
	set, err := s.store.GetSettings(ctx)
	if err != nil {
		s.log.Warn("failed to load settings, using defaults", "error", err)
		return node.DefaultSettings()
	}
	return set
}

func (s *Scheduler) metricsPeriod(ctx context.Context) time.Duration {
	return s.settings(ctx).NodesMetricsPollingFreq
}
func (s *Scheduler) versionCheckPeriod(ctx context.Context) time.Duration {
	return s.settings(ctx).NodeBinVersionPollingFreq
}
func (s *Scheduler) balancePeriod(ctx context.Context) time.Duration {
	return s.settings(ctx).RewardsBalancesRetrievalFreq
}
func (s *Scheduler) diskUsagePeriod(ctx context.Context) time.Duration {
	return s.settings(ctx).DisksUsageCheckFreq
}

// pruneMetricsPeriod runs at ten times the metrics-polling interval, per the
// retention cadence this task was distilled from.
func (s *Scheduler) pruneMetricsPeriod(ctx context.Context) time.Duration {
	return s.metricsPeriod(ctx) * 10
}

// reconcilePeriod is fixed, independent of settings, and never exceeds the
// metrics-polling cadence.
func (s *Scheduler) reconcilePeriod(ctx context.Context) time.Duration {
	metricsFreq := s.metricsPeriod(ctx)
	if metricsFreq > 30*time.Second {
		return 30 * time.Second
	}
	return metricsFreq
}

func (s *Scheduler) lcdPeriod(ctx context.Context) time.Duration {
	return lcdRefreshPeriod
}

// refreshLCD pushes a fresh fleet-wide summary to the configured stats sink,
// the same derived fields the original pushed to its physical LCD.
func (s *Scheduler) refreshLCD(ctx context.Context) {
	if !s.settings(ctx).LCDDisplayEnabled {
		return
	}
	stats := s.flt.Stats()
	payload := map[string]string{
		"Active":   strconv.Itoa(stats.StatusCounts[string(node.StatusActive)]),
		"Inactive": strconv.Itoa(stats.StatusCounts[string(node.StatusInactive)]),
		"Stored":   stats.RecordsStored,
		"Relevant": stats.RelevantRecords,
		"Peers":    stats.ConnectedPeers,
		"Shunned":  stats.ShunnedCount,
		"Net size": stats.EstimatedNetworkSize,
		"Balance":  stats.TotalBalance,
	}
	if err := s.sink.Display(ctx, payload); err != nil {
		s.log.Warn("lcd refresh failed", "error", err)
	}
}

const metricsRetentionMaxAge = 7 * 24 * time.Hour
const metricsRetentionMaxCount = 20000

func (s *Scheduler) pollMetrics(ctx context.Context) {
	targets := activeTargets(s.flt.List())
	if len(targets) == 0 {
		return
	}
	results := s.fetcher.ScrapeAll(ctx, targets)
	for _, r := range results {
		if r.Err != nil {
			s.flt.MarkUnknown(r.NodeID, true)
			s.log.Warn("metrics scrape failed", "node_id", r.NodeID, "error", r.Err)
			continue
		}
		s.flt.ApplyObservation(r.NodeID, func(rec *node.Record) {
			applySamples(rec, r.Samples)
		})
		if err := s.store.AppendMetrics(ctx, r.Samples); err != nil {
			s.log.Warn("failed to persist metrics", "node_id", r.NodeID, "error", err)
		}
	}
}

func activeTargets(records []node.Record) []metrics.Target {
	var out []metrics.Target
	for _, r := range records {
		if !r.State.IsActive() || r.IsLocked {
			continue
		}
		ip := r.NodeIP
		if ip == "" {
			ip = "127.0.0.1"
		}
		out = append(out, metrics.Target{NodeID: r.NodeID, IP: ip, Port: r.MetricsPort})
	}
	return out
}

func applySamples(rec *node.Record, samples []node.MetricSample) {
	for _, sample := range samples {
		switch sample.Key {
		case "records_stored":
			rec.Records = sample.Value
		case "relevant_records":
			rec.RelevantRecords = sample.Value
		case "connected_peers":
			rec.ConnectedPeers = sample.Value
		case "connected_relay_clients":
			rec.RelayClients = sample.Value
		case "kbuckets_peers":
			rec.KBucketsPeers = sample.Value
		case "shunned_count":
			rec.ShunnedCount = sample.Value
		case "estimated_network_size":
			rec.NetworkSize = sample.Value
		case "reward_wallet_balance":
			rec.Rewards = sample.Value
		case "memory_used_mb":
			rec.MemUsed = sample.Value
		case "cpu_usage_percent":
			rec.CPUUsage = sample.Value
		}
	}
}

// checkVersion refreshes the latest available version from the Release
// Provider and, if auto-upgrade is enabled, enqueues outdated nodes and
// drains them strictly one at a time — never in parallel — waiting the
// configured delay between each.
func (s *Scheduler) checkVersion(ctx context.Context) {
	set := s.settings(ctx)
	latest, _, err := s.release.Latest(ctx)
	if err != nil {
		s.log.Warn("version check failed", "error", err)
		return
	}
	if !set.NodesAutoUpgrade {
		return
	}

	var outdated []string
	for _, r := range s.flt.List() {
		if r.IsLocked || !r.State.IsActive() {
			continue
		}
		current, _ := release.ParseVersion(r.BinVersion)
		if release.IsNewer(current, latest) {
			outdated = append(outdated, r.NodeID)
		}
	}
	sort.Strings(outdated)

	for i, nodeID := range outdated {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}
		if err := s.ops.Upgrade(ctx, nodeID, latest.String()); err != nil {
			s.log.Warn("auto-upgrade failed", "node_id", nodeID, "error", err)
		}
		if i < len(outdated)-1 {
			select {
			case <-time.After(set.NodesAutoUpgradeDelay):
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}
}

// pollBalances queries the Balance Oracle once per distinct rewards address
// and records any increase as an earning.
func (s *Scheduler) pollBalances(ctx context.Context) {
	set := s.settings(ctx)
	if !set.RewardsMonitoringEnabled {
		return
	}

	records := s.flt.List()
	seen := make(map[string]bool)
	var addresses []string
	for _, r := range records {
		if r.RewardsAddr == "" || seen[r.RewardsAddr] {
			continue
		}
		seen[r.RewardsAddr] = true
		addresses = append(addresses, r.RewardsAddr)
	}
	if len(addresses) == 0 {
		return
	}

	o := oracle.New(set.L2NetworkRPCURL, set.TokenContractAddress)
	balances, err := o.Balances(ctx, addresses)
	if err != nil {
		s.log.Warn("balance poll failed", "error", err)
	}

	blockNumber, err := o.BlockNumber(ctx)
	if err != nil {
		s.log.Warn("block number query failed", "error", err)
	}

	for _, r := range records {
		bal, ok := balances[r.RewardsAddr]
		if !ok {
			continue
		}
		balStr := bal.String()
		if balStr == r.Balance {
			continue
		}
		s.flt.ApplyObservation(r.NodeID, func(rec *node.Record) {
			rec.Balance = balStr
		})
		if prev, ok := new(big.Int).SetString(r.Balance, 10); ok && bal.Cmp(prev) > 0 {
			_ = s.store.AppendEarning(ctx, node.Earning{
				Address:     r.RewardsAddr,
				Amount:      new(big.Int).Sub(bal, prev).String(),
				BlockNumber: blockNumber,
				Ts:          time.Now(),
			})
		}
	}
}

func (s *Scheduler) pollDiskUsage(ctx context.Context) {
	for _, r := range s.flt.List() {
		if r.IsLocked || !r.State.IsActive() {
			continue
		}
		usage, err := s.be.ResourceUsage(ctx, &r)
		if err != nil {
			continue
		}
		s.flt.SetDiskUsage(r.NodeID, usage.DiskBytes)
	}
}

func (s *Scheduler) pruneMetrics(ctx context.Context) {
	for _, r := range s.flt.List() {
		if err := s.store.TrimMetrics(ctx, r.NodeID, metricsRetentionMaxAge, metricsRetentionMaxCount); err != nil {
			s.log.Warn("metrics prune failed", "node_id", r.NodeID, "error", err)
		}
	}
}

// reconcile compares Fleet State's belief about every node against backend
// truth; the backend always wins.
func (s *Scheduler) reconcile(ctx context.Context) {
	for _, r := range s.flt.List() {
		if r.IsLocked {
			continue
		}
		alive, err := s.be.IsAlive(ctx, &r)
		if err != nil {
			continue
		}
		if s.flt.Reconcile(r.NodeID, alive) {
			s.log.Info("reconciled node status", "node_id", r.NodeID, "alive", alive)
		}
	}
}
