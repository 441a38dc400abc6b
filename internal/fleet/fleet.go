// Package fleet implements the Fleet State: the process-wide, mutex-guarded
// authoritative view of every node's status and bookkeeping, plus the
// status-transition rules and per-node locking discipline.
package fleet

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/primal-host/fleetd/internal/node"
)

// ErrLocked is returned when a mutation is attempted on a node that already
// has one in flight.
var ErrLocked = errors.New("fleet: node is locked")

// ErrUnknownNode is returned when an operation targets a node_id not present
// in the fleet.
var ErrUnknownNode = errors.New("fleet: unknown node")

// State is the in-memory map of node_id -> *node.Record, guarded by a single
// coarse mutex. Long I/O never happens while the lock is held; callers copy
// out what they need and release before doing network/subprocess work.
type State struct {
	mu    sync.Mutex
	nodes map[string]*node.Record
}

func New() *State {
	return &State{nodes: make(map[string]*node.Record)}
}

// Load replaces the in-memory map wholesale, used once at startup after
// reading every row back from the Store.
func (s *State) Load(records []*node.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*node.Record, len(records))
	for _, r := range records {
		s.nodes[r.NodeID] = r
	}
}

// Put inserts or replaces a node's in-memory record, e.g. right after create.
func (s *State) Put(rec *node.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[rec.NodeID] = rec
}

// Remove deletes a node from the in-memory map.
func (s *State) Remove(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
}

// Get returns a copy of a node's record, or ErrUnknownNode.
func (s *State) Get(nodeID string) (node.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	if !ok {
		return node.Record{}, ErrUnknownNode
	}
	return *rec, nil
}

// List returns a copy of every node's record, ordered by NodeID for
// deterministic output.
func (s *State) List() []node.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]node.Record, 0, len(s.nodes))
	for _, rec := range s.nodes {
		out = append(out, *rec)
	}
	return out
}

// TryLock acquires the logical per-node mutation lock; it fails with
// ErrLocked if a mutation is already in flight, and ErrUnknownNode if the
// node does not exist. Exactly one mutation at a time may hold the lock.
func (s *State) TryLock(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	if !ok {
		return ErrUnknownNode
	}
	if rec.IsLocked {
		return fmt.Errorf("%w: %s", ErrLocked, nodeID)
	}
	rec.IsLocked = true
	return nil
}

// Unlock releases the logical per-node mutation lock and applies the
// resulting state transition (see node.State) in one step so that observers
// never see an unlocked-but-stale status.
func (s *State) Unlock(nodeID string, next node.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	rec.IsLocked = false
	rec.State = next
}

// MarkUnknown flags a node's last observation as stale/failed without
// altering its status, and returns whether it changed the node (so callers
// can skip a redundant write-through).
func (s *State) MarkUnknown(nodeID string, unknown bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	if !ok || rec.IsUnknown == unknown {
		return false
	}
	rec.IsUnknown = unknown
	return true
}

// ApplyObservation merges freshly observed metric-derived fields onto a
// node's record and clears IsUnknown, transitioning Creating/Inactive nodes
// to Active on their first successful observation.
func (s *State) ApplyObservation(nodeID string, apply func(rec *node.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	apply(rec)
	rec.IsUnknown = false
	if rec.State.Status == node.StatusCreating || rec.State.IsInactive() {
		rec.State = node.Active()
	}
}

// SetDiskUsage updates a node's observed disk usage without otherwise
// altering its status or unknown qualifier.
func (s *State) SetDiskUsage(nodeID string, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.nodes[nodeID]; ok {
		rec.DiskUsage = bytes
	}
}

// Reconcile compares the fleet's belief about a node against backend truth
// (alive bool) and corrects disagreements — the backend always wins. It
// reports whether a correction was made.
func (s *State) Reconcile(nodeID string, backendAlive bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[nodeID]
	if !ok || rec.IsLocked {
		return false
	}
	believedAlive := rec.State.IsActive()
	if believedAlive == backendAlive {
		return false
	}
	if backendAlive {
		rec.State = node.Active()
	} else {
		rec.State = node.Exited("reconciliation: backend reports not running")
	}
	rec.IsUnknown = true
	return true
}

// Stats is the fleet-wide snapshot backing the global-stats operation:
// totals by status plus the aggregate counters the original's LCD summary
// displayed.
type Stats struct {
	NodeCount            int
	StatusCounts         map[string]int
	TotalBalance         string
	RecordsStored        string
	RelevantRecords      string
	ConnectedPeers       string
	ShunnedCount         string
	EstimatedNetworkSize string
}

// Stats aggregates every node's record into fleet-wide counters. Per-node
// numeric fields are summed except EstimatedNetworkSize, which every active
// node reports as its own view of the same global quantity, so the highest
// reported value is the best available estimate rather than a sum.
func (s *State) Stats() Stats {
	records := s.List()

	out := Stats{NodeCount: len(records), StatusCounts: map[string]int{}}
	totalBalance := new(big.Int)
	recordsStored := new(big.Int)
	relevantRecords := new(big.Int)
	connectedPeers := new(big.Int)
	shunnedCount := new(big.Int)
	networkSize := new(big.Int)

	for _, r := range records {
		out.StatusCounts[string(r.State.Status)]++
		addBigDecimal(totalBalance, r.Balance)
		addBigDecimal(recordsStored, r.Records)
		addBigDecimal(relevantRecords, r.RelevantRecords)
		addBigDecimal(connectedPeers, r.ConnectedPeers)
		addBigDecimal(shunnedCount, r.ShunnedCount)
		maxBigDecimal(networkSize, r.NetworkSize)
	}

	out.TotalBalance = totalBalance.String()
	out.RecordsStored = recordsStored.String()
	out.RelevantRecords = relevantRecords.String()
	out.ConnectedPeers = connectedPeers.String()
	out.ShunnedCount = shunnedCount.String()
	out.EstimatedNetworkSize = networkSize.String()
	return out
}

// addBigDecimal adds value (an unparsable or empty value contributes zero)
// to acc in place.
func addBigDecimal(acc *big.Int, value string) {
	if n, ok := new(big.Int).SetString(value, 10); ok {
		acc.Add(acc, n)
	}
}

// maxBigDecimal raises acc to value if value parses and is larger.
func maxBigDecimal(acc *big.Int, value string) {
	if n, ok := new(big.Int).SetString(value, 10); ok && n.Cmp(acc) > 0 {
		acc.Set(n)
	}
}
