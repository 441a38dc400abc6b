// Package backend defines the polymorphic Node Backend: a uniform lifecycle
// contract with two interchangeable implementations, native process
// supervision and containerized supervision via a container-engine socket.
package backend

import (
	"context"
	"io"

	"github.com/primal-host/fleetd/internal/node"
)

// Usage is a point-in-time resource reading for a running node.
type Usage struct {
	MemBytes  uint64
	CPUPct    float64
	DiskBytes int64
}

// Backend is the capability set every variant implements. The backend is the
// sole owner of "the process/container exists" truth; callers reconcile
// Fleet State against it, never the other way around.
type Backend interface {
	// Provision prepares resources for a node (data directory or container)
	// without necessarily starting it.
	Provision(ctx context.Context, rec *node.Record) error
	// Start launches the node and records its PID/ContainerID onto rec.
	Start(ctx context.Context, rec *node.Record) error
	// Stop gracefully stops the node, escalating to force after a grace period.
	Stop(ctx context.Context, rec *node.Record) error
	// Destroy stops (if needed) and removes all backend-owned resources.
	// Missing resources are treated as success (idempotent).
	Destroy(ctx context.Context, rec *node.Record) error
	// IsAlive reports whether the backend currently considers the node running.
	IsAlive(ctx context.Context, rec *node.Record) (bool, error)
	// Logs streams recent log output; the caller must close the reader.
	Logs(ctx context.Context, rec *node.Record, follow bool) (io.ReadCloser, error)
	// ResourceUsage reads current memory/CPU/disk usage for a running node.
	ResourceUsage(ctx context.Context, rec *node.Record) (Usage, error)
	// Upgrade replaces the running binary/image reference and restarts.
	Upgrade(ctx context.Context, rec *node.Record, version string) error
}
