package native

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

// writeFakeBinary stages a long-running shell script at the path native.Backend
// expects its node binary, so Start/Stop/IsAlive exercise a real process
// without depending on the actual node binary being present.
func writeFakeBinary(t *testing.T, rootDir string) {
	t.Helper()
	binDir := filepath.Join(rootDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nwhile true; do sleep 0.1; done\n"
	if err := os.WriteFile(filepath.Join(binDir, "node"), []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
}

func TestProvisionCreatesDataDirectories(t *testing.T) {
	root := t.TempDir()
	b := New(Config{RootDir: root})
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})

	if err := b.Provision(context.Background(), rec); err != nil {
		t.Fatalf("provision: %v", err)
	}
	for _, sub := range []string{"logs", "bootstrap-cache"} {
		if _, err := os.Stat(filepath.Join(root, rec.NodeID, sub)); err != nil {
			t.Fatalf("expected %s to exist: %v", sub, err)
		}
	}
}

func TestStartStopIsAliveRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFakeBinary(t, root)
	b := New(Config{RootDir: root})
	ctx := context.Background()
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})

	if err := b.Provision(ctx, rec); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := b.Start(ctx, rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.PID == 0 {
		t.Fatalf("expected PID to be recorded")
	}

	alive, err := b.IsAlive(ctx, rec)
	if err != nil || !alive {
		t.Fatalf("expected alive=true, err=nil; got alive=%v err=%v", alive, err)
	}

	if err := b.Stop(ctx, rec); err != nil {
		t.Fatalf("stop: %v", err)
	}
	alive, _ = b.IsAlive(ctx, rec)
	if alive {
		t.Fatalf("expected process to be stopped")
	}
}

func TestRequestRecycleClearsKeystoreOnNextStart(t *testing.T) {
	root := t.TempDir()
	writeFakeBinary(t, root)
	b := New(Config{RootDir: root})
	ctx := context.Background()
	rec := node.NewRecord(node.Spec{Backend: node.BackendNative, Port: 1, MetricsPort: 2})

	if err := b.Provision(ctx, rec); err != nil {
		t.Fatalf("provision: %v", err)
	}
	keystoreDir := filepath.Join(root, rec.NodeID, "keystore")
	if err := os.MkdirAll(keystoreDir, 0o755); err != nil {
		t.Fatalf("mkdir keystore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keystoreDir, "key.json"), []byte("secret"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	if err := b.RequestRecycle(rec); err != nil {
		t.Fatalf("request recycle: %v", err)
	}
	sentinel := filepath.Join(root, rec.NodeID, recycleSentinel)
	if _, err := os.Stat(sentinel); err != nil {
		t.Fatalf("expected sentinel file to exist: %v", err)
	}

	if err := b.Start(ctx, rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop(ctx, rec)

	if _, err := os.Stat(keystoreDir); !os.IsNotExist(err) {
		t.Fatalf("expected keystore directory purged before start, err=%v", err)
	}
	if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
		t.Fatalf("expected sentinel consumed, err=%v", err)
	}

	// give the spawned process a moment to actually be reachable before the
	// deferred Stop signals it.
	time.Sleep(20 * time.Millisecond)
}
