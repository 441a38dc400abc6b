// Command fleetd runs the node supervisor: it loads configuration, opens the
// embedded store, constructs the configured Node Backend, reconciles Fleet
// State against the Store, seeds any nodes declared in a fleet-seed file,
// then starts the scheduler and HTTP server until an interrupt arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/primal-host/fleetd/internal/backend"
	"github.com/primal-host/fleetd/internal/backend/container"
	"github.com/primal-host/fleetd/internal/backend/native"
	"github.com/primal-host/fleetd/internal/config"
	"github.com/primal-host/fleetd/internal/fleet"
	"github.com/primal-host/fleetd/internal/lcd"
	"github.com/primal-host/fleetd/internal/metrics"
	"github.com/primal-host/fleetd/internal/node"
	"github.com/primal-host/fleetd/internal/ops"
	"github.com/primal-host/fleetd/internal/release"
	"github.com/primal-host/fleetd/internal/scheduler"
	"github.com/primal-host/fleetd/internal/server"
	"github.com/primal-host/fleetd/internal/store"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(log); err != nil {
		log.Error("fleetd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rel := release.New(cfg.ReleaseCatalogURL)

	be, err := buildBackend(ctx, cfg, rel)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}

	flt := fleet.New()
	o := ops.New(st, flt, be, log)

	if err := o.LoadFromStore(ctx); err != nil {
		return fmt.Errorf("load fleet state: %w", err)
	}

	if cfg.FleetSeedFile != "" {
		if err := seedFleet(ctx, cfg, o, st, log); err != nil {
			return fmt.Errorf("seed fleet: %w", err)
		}
	}

	sched := scheduler.New(o, st, flt, be, metrics.NewFetcher(), rel, lcd.NewLoggingSink(log), log)
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(server.Dependencies{
		Ops:     o,
		Store:   st,
		Fleet:   flt,
		Version: config.Version,
	}, cfg.ListenAddr, cfg.AdminKey)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildBackend(ctx context.Context, cfg *config.Config, rel *release.Provider) (backend.Backend, error) {
	switch cfg.Backend {
	case node.BackendContainer:
		return container.New(ctx, container.Config{
			SocketPath:  cfg.DockerSocketPath,
			ImageName:   cfg.ContainerImageName,
			ImageTag:    cfg.ContainerImageTag,
			NetworkName: "fleetd",
			DataRoot:    cfg.RootDir,
		})
	default:
		return native.New(native.Config{RootDir: cfg.RootDir, Provider: rel}), nil
	}
}

// seedFleet creates every node declared in the fleet-seed file that does not
// already exist (matched by port, since seed files carry no node id). This is
// a best-effort convenience for first boot, not a sync mechanism: nodes
// removed from a later edit of the file are never deleted here.
func seedFleet(ctx context.Context, cfg *config.Config, o *ops.Ops, st *store.Store, log *slog.Logger) error {
	seed, err := config.LoadFleetSeed(cfg.FleetSeedFile)
	if err != nil {
		return err
	}

	if seed.Settings != nil {
		current, err := st.GetSettings(ctx)
		if err != nil {
			return err
		}
		if err := st.UpdateSettings(ctx, seed.Settings.Apply(current)); err != nil {
			return err
		}
	}

	existing, err := st.ListNodes(ctx)
	if err != nil {
		return err
	}
	ports := make(map[int]bool, len(existing))
	for _, r := range existing {
		ports[r.Port] = true
	}

	for _, n := range seed.Nodes {
		if ports[n.Port] {
			continue
		}
		if _, err := o.Create(ctx, n.Spec()); err != nil {
			log.Warn("fleet seed: failed to create node", "port", n.Port, "error", err)
			continue
		}
	}
	return nil
}
