// Package ops is the operations facade: it ties the Store, Fleet State, and
// Node Backend together, enforcing per-node locking and idempotence for
// every externally-triggered mutation (create/start/stop/recycle/remove/
// upgrade). The HTTP layer and the Scheduler's auto-upgrade driver are both
// thin callers of this package — neither touches the Store or Backend
// directly.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/primal-host/fleetd/internal/backend"
	"github.com/primal-host/fleetd/internal/fleet"
	"github.com/primal-host/fleetd/internal/node"
	"github.com/primal-host/fleetd/internal/store"
)

// Ops is the operations facade.
type Ops struct {
	Store   *store.Store
	Fleet   *fleet.State
	Backend backend.Backend
	Log     *slog.Logger
}

func New(st *store.Store, fl *fleet.State, be backend.Backend, log *slog.Logger) *Ops {
	if log == nil {
		log = slog.Default()
	}
	return &Ops{Store: st, Fleet: fl, Backend: be, Log: log}
}

func (o *Ops) logEvent(ctx context.Context, eventType, target, message string, details any) {
	var detailsJSON string
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}
	if err := o.Store.AppendEvent(ctx, node.Event{Type: eventType, Target: target, Message: message, Details: detailsJSON}); err != nil {
		o.Log.Warn("failed to append event", "type", eventType, "target", target, "error", err)
	}
}

// Create validates the spec, writes the row (atomic: before any backend
// call), provisions backend resources, and registers the node in Fleet
// State. It does not start the node.
func (o *Ops) Create(ctx context.Context, spec node.Spec) (*node.Record, error) {
	inUse, err := o.Store.PortInUse(ctx, spec.Port, spec.MetricsPort, "")
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, fmt.Errorf("%w: port %d or metrics port %d already in use", store.ErrConflict, spec.Port, spec.MetricsPort)
	}

	rec := node.NewRecord(spec)
	if err := o.Store.UpsertNode(ctx, rec); err != nil {
		return nil, err
	}
	o.Fleet.Put(rec)

	if err := o.Backend.Provision(ctx, rec); err != nil {
		o.logEvent(ctx, "node.create_failed", rec.NodeID, err.Error(), nil)
		return rec, fmt.Errorf("ops: provision %s: %w", rec.NodeID, err)
	}

	o.logEvent(ctx, "node.created", rec.NodeID, "node created", map[string]any{"port": spec.Port})
	o.Log.Info("node created", "node_id", rec.NodeID, "backend", spec.Backend)
	return rec, nil
}

// Start starts a node if it is not already running; idempotent.
func (o *Ops) Start(ctx context.Context, nodeID string) error {
	return o.withLock(ctx, nodeID, "node.start", func(rec *node.Record) (node.State, error) {
		alive, err := o.Backend.IsAlive(ctx, rec)
		if err != nil {
			return node.State{}, err
		}
		if alive {
			return node.Active(), nil
		}
		if err := o.Backend.Start(ctx, rec); err != nil {
			return node.StartFailed(err.Error()), err
		}
		return node.Active(), nil
	})
}

// Stop stops a node if running; a no-op success if already stopped.
func (o *Ops) Stop(ctx context.Context, nodeID string) error {
	return o.withLock(ctx, nodeID, "node.stop", func(rec *node.Record) (node.State, error) {
		if err := o.Backend.Stop(ctx, rec); err != nil {
			return node.State{}, err
		}
		return node.Stopped(), nil
	})
}

// Recycle stops the node, purges its identity-derived state, and restarts
// it, preserving NodeID/Port/MetricsPort/RewardsAddr.
func (o *Ops) Recycle(ctx context.Context, nodeID string) error {
	return o.withLock(ctx, nodeID, "node.recycle", func(rec *node.Record) (node.State, error) {
		if err := o.Backend.Stop(ctx, rec); err != nil {
			return node.State{}, err
		}
		if err := o.Backend.Destroy(ctx, rec); err != nil {
			return node.State{}, err
		}
		rec.ResetForRecycle()
		if err := o.Backend.Provision(ctx, rec); err != nil {
			return node.State{}, err
		}
		if err := o.Backend.Start(ctx, rec); err != nil {
			return node.StartFailed(err.Error()), err
		}
		return node.Active(), nil
	})
}

// Upgrade stops the node, replaces its binary/image reference, and restarts
// it with the new version.
func (o *Ops) Upgrade(ctx context.Context, nodeID, version string) error {
	return o.withLock(ctx, nodeID, "node.upgrade", func(rec *node.Record) (node.State, error) {
		if err := o.Backend.Upgrade(ctx, rec, version); err != nil {
			return node.StartFailed(err.Error()), err
		}
		rec.BinVersion = version
		return node.Active(), nil
	})
}

// Remove stops and destroys backend resources, then deletes the node row
// and its metric samples. Idempotent: removing an already-gone node is
// treated as success as long as the record existed in Fleet State.
func (o *Ops) Remove(ctx context.Context, nodeID string) error {
	if err := o.Fleet.TryLock(nodeID); err != nil {
		return err
	}

	rec, err := o.Fleet.Get(nodeID)
	if err != nil {
		return err
	}
	rec.State = node.Removing()
	o.Fleet.Unlock(nodeID, node.Removing())

	if err := o.Backend.Destroy(ctx, &rec); err != nil {
		o.logEvent(ctx, "node.remove_failed", nodeID, err.Error(), nil)
		return fmt.Errorf("ops: destroy %s: %w", nodeID, err)
	}
	if err := o.Store.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	o.Fleet.Remove(nodeID)

	o.logEvent(ctx, "node.removed", nodeID, "node removed", nil)
	o.Log.Info("node removed", "node_id", nodeID)
	return nil
}

// withLock is the shared mutate-under-lock pattern for start/stop/recycle/
// upgrade: acquire the per-node lock (immediately visible to concurrent
// readers via Fleet State), run the backend call, then write the resulting
// row through to the Store and only roll Fleet State forward once that write
// is confirmed. A failed store write unlocks back to the pre-mutation state
// instead of exposing a transition nothing ever persisted.
func (o *Ops) withLock(ctx context.Context, nodeID, eventType string, mutate func(rec *node.Record) (node.State, error)) error {
	if err := o.Fleet.TryLock(nodeID); err != nil {
		return err
	}

	rec, err := o.Fleet.Get(nodeID)
	if err != nil {
		o.Fleet.Unlock(nodeID, node.Stopped())
		return err
	}
	priorState := rec.State

	next, mutateErr := mutate(&rec)
	rec.State = next
	rec.StatusChangedAt = time.Now()
	rec.IsLocked = false

	if werr := o.Store.UpsertNode(ctx, &rec); werr != nil {
		o.Fleet.Unlock(nodeID, priorState)
		o.Log.Warn("failed to persist mutation, reverting to prior state", "node_id", nodeID, "event", eventType, "error", werr)
		if mutateErr != nil {
			return fmt.Errorf("ops: %s %s: %w", eventType, nodeID, mutateErr)
		}
		return fmt.Errorf("ops: persist %s after %s: %w", nodeID, eventType, werr)
	}

	o.Fleet.Put(&rec)

	if mutateErr != nil {
		o.logEvent(ctx, eventType+"_failed", nodeID, mutateErr.Error(), nil)
		return fmt.Errorf("ops: %s %s: %w", eventType, nodeID, mutateErr)
	}

	o.logEvent(ctx, eventType, nodeID, eventType, nil)
	o.Log.Info(eventType, "node_id", nodeID, "status", rec.State.Status)
	return nil
}

// LoadFromStore populates Fleet State from the Store at startup, applying
// the legacy-migration interpretation rule to each persisted row.
func (o *Ops) LoadFromStore(ctx context.Context) error {
	records, err := o.Store.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("ops: load nodes: %w", err)
	}
	for _, r := range records {
		r.State = node.FromLegacyRow(string(r.State.Status), r.IsLocked)
		r.IsLocked = false
		r.IsUnknown = true
	}
	o.Fleet.Load(records)
	o.Log.Info("loaded nodes from store", "count", len(records))
	return nil
}
