package node

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Backend selects which Node Backend variant owns a node's process/container.
type Backend string

const (
	BackendNative    Backend = "native"
	BackendContainer Backend = "container"
)

// Record is the durable row for one node plus the supervisor's in-memory
// qualifiers (IsLocked/IsUnknown), matching the data model laid out for the
// Store and Fleet State components.
type Record struct {
	NodeID          string
	Backend         Backend
	PID             int    // native only, 0 if not running
	ContainerID     string // container only, "" if not running
	CreatedAt       time.Time
	StatusChangedAt time.Time
	PeerID          string
	BinVersion      string
	Port            int
	MetricsPort     int
	NodeIP          string
	RewardsAddr     string
	HomeNetwork     bool
	UPnP            bool
	ReachabilityChk bool
	NodeLogs        bool
	Rewards         string
	Balance         string
	Records         string
	RelevantRecords string
	ConnectedPeers  string
	RelayClients    string
	KBucketsPeers   string
	ShunnedCount    string
	NetworkSize     string
	MemUsed         string
	CPUUsage        string
	IPs             string
	DiskUsage       int64

	State    State
	IsLocked bool
	IsUnknown bool
}

// Spec is the set of parameters a caller supplies to create a node; the
// supervisor fills in the rest (NodeID, timestamps, initial state).
type Spec struct {
	Backend         Backend
	Port            int
	MetricsPort     int
	NodeIP          string
	RewardsAddr     string
	HomeNetwork     bool
	UPnP            bool
	ReachabilityChk bool
	NodeLogs        bool
}

// NewID generates a fresh random node identifier. Lookups are by exact match;
// unlike the system this was distilled from, no prefix-match convenience is
// offered since ids here are not meant for manual truncated entry.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// NewRecord builds the initial record for a freshly created node.
func NewRecord(spec Spec) *Record {
	now := time.Now()
	return &Record{
		NodeID:          NewID(),
		Backend:         spec.Backend,
		CreatedAt:       now,
		StatusChangedAt: now,
		Port:            spec.Port,
		MetricsPort:     spec.MetricsPort,
		NodeIP:          spec.NodeIP,
		RewardsAddr:     spec.RewardsAddr,
		HomeNetwork:     spec.HomeNetwork,
		UPnP:            spec.UPnP,
		ReachabilityChk: spec.ReachabilityChk,
		NodeLogs:        spec.NodeLogs,
		State:           Created(),
	}
}

// ResetForRecycle clears identity-derived fields while preserving NodeID,
// Port, MetricsPort, and RewardsAddr, per the recycle invariant.
func (r *Record) ResetForRecycle() {
	r.PeerID = ""
	r.Records = ""
	r.RelevantRecords = ""
	r.ConnectedPeers = ""
	r.RelayClients = ""
	r.KBucketsPeers = ""
	r.ShunnedCount = ""
	r.StatusChangedAt = time.Now()
}

// MetricSample is one (node, timestamp, key) -> value observation.
type MetricSample struct {
	NodeID string
	Ts     time.Time
	Key    string
	Value  string
}

// Earning is one observed balance movement for a rewards address.
type Earning struct {
	Address     string
	Amount      string
	BlockNumber uint64
	Ts          time.Time
}

// Event is one row of the audit log.
type Event struct {
	ID        int64
	Type      string
	Target    string
	Message   string
	Details   string // JSON-encoded, may be empty
	CreatedAt time.Time
}
