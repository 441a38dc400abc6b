package fleet

import (
	"errors"
	"testing"

	"github.com/primal-host/fleetd/internal/node"
)

func TestLockPreventsConcurrentMutation(t *testing.T) {
	s := New()
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	s.Put(rec)

	if err := s.TryLock(rec.NodeID); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := s.TryLock(rec.NodeID); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	s.Unlock(rec.NodeID, node.Active())
	got, err := s.Get(rec.NodeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsLocked {
		t.Fatalf("expected unlocked after Unlock")
	}
	if got.State.Status != node.StatusActive {
		t.Fatalf("expected Active, got %s", got.State.Status)
	}
}

func TestReconcileBackendWins(t *testing.T) {
	s := New()
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	rec.State = node.Active()
	s.Put(rec)

	changed := s.Reconcile(rec.NodeID, false)
	if !changed {
		t.Fatalf("expected reconcile to report a change")
	}
	got, _ := s.Get(rec.NodeID)
	if got.State.IsActive() {
		t.Fatalf("expected node demoted from Active after backend says not running")
	}
	if !got.IsUnknown {
		t.Fatalf("expected IsUnknown set after correction")
	}
}

func TestReconcileSkipsLockedNode(t *testing.T) {
	s := New()
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	rec.State = node.Active()
	s.Put(rec)
	if err := s.TryLock(rec.NodeID); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if changed := s.Reconcile(rec.NodeID, false); changed {
		t.Fatalf("expected reconcile to skip a locked node")
	}
}

func TestApplyObservationTransitionsToActive(t *testing.T) {
	s := New()
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})
	s.Put(rec)

	s.ApplyObservation(rec.NodeID, func(r *node.Record) {
		r.ConnectedPeers = "5"
	})

	got, _ := s.Get(rec.NodeID)
	if !got.State.IsActive() {
		t.Fatalf("expected Active after first successful observation, got %s", got.State.Status)
	}
	if got.ConnectedPeers != "5" {
		t.Fatalf("expected observed field applied")
	}
}
