package container

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/primal-host/fleetd/internal/backend"
	"github.com/primal-host/fleetd/internal/node"
)

// Config selects the image/tag and host paths this backend uses to create
// new containers.
type Config struct {
	SocketPath  string
	ImageName   string
	ImageTag    string
	NetworkName string
	DataRoot    string // host directory; one subdirectory per node
}

// Backend is the containerized Node Backend variant.
type Backend struct {
	cfg Config
	dc  *dockerClient
}

// New connects to the daemon and ensures the managed network exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	dc, err := newDockerClient(cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	if err := dc.EnsureNetwork(ctx, cfg.NetworkName); err != nil {
		dc.Close()
		return nil, err
	}
	return &Backend{cfg: cfg, dc: dc}, nil
}

func newDockerClient(socketPath string) (*dockerClient, error) {
	return newClient(socketPath)
}

func (b *Backend) image() string {
	return b.cfg.ImageName + ":" + b.cfg.ImageTag
}

func (b *Backend) containerName(nodeID string) string {
	return "fleetd-" + nodeID
}

func (b *Backend) dataRoot(nodeID string) string {
	return filepath.Join(b.cfg.DataRoot, nodeID)
}

func (b *Backend) Provision(ctx context.Context, rec *node.Record) error {
	exists, err := b.dc.ImageExists(ctx, b.image())
	if err != nil {
		return err
	}
	if !exists {
		if err := b.dc.PullImage(ctx, b.image()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Start(ctx context.Context, rec *node.Record) error {
	if rec.ContainerID != "" {
		if err := b.dc.ContainerStart(ctx, rec.ContainerID); err == nil {
			return nil
		}
		// stale container id from a prior run that no longer exists; recreate below
	}

	params := paramsFromRecord(rec, b.image(), b.dataRoot(rec.NodeID), b.cfg.NetworkName)
	cfg, host, netCfg := buildContainerConfig(params)

	id, err := b.dc.ContainerCreate(ctx, b.containerName(rec.NodeID), cfg, host, netCfg)
	if err != nil {
		return fmt.Errorf("container backend: start %s: %w", rec.NodeID, err)
	}
	if err := b.dc.ContainerStart(ctx, id); err != nil {
		return fmt.Errorf("container backend: start %s: %w", rec.NodeID, err)
	}
	rec.ContainerID = id
	return nil
}

func (b *Backend) Stop(ctx context.Context, rec *node.Record) error {
	if rec.ContainerID == "" {
		return nil
	}
	return b.dc.ContainerStop(ctx, rec.ContainerID, 15)
}

func (b *Backend) Destroy(ctx context.Context, rec *node.Record) error {
	if rec.ContainerID != "" {
		if err := b.dc.ContainerRemove(ctx, rec.ContainerID); err != nil {
			return err
		}
		rec.ContainerID = ""
	}
	return nil
}

func (b *Backend) IsAlive(ctx context.Context, rec *node.Record) (bool, error) {
	if rec.ContainerID == "" {
		return false, nil
	}
	info, err := b.dc.ContainerInspect(ctx, rec.ContainerID)
	if err != nil {
		return false, nil
	}
	return info.State != nil && info.State.Running, nil
}

func (b *Backend) Logs(ctx context.Context, rec *node.Record, follow bool) (io.ReadCloser, error) {
	if rec.ContainerID == "" {
		return nil, fmt.Errorf("container backend: node %s has no container", rec.NodeID)
	}
	return b.dc.ContainerLogs(ctx, rec.ContainerID, follow)
}

func (b *Backend) ResourceUsage(ctx context.Context, rec *node.Record) (backend.Usage, error) {
	if rec.ContainerID == "" {
		return backend.Usage{}, nil
	}
	stats, err := b.dc.ContainerStats(ctx, rec.ContainerID)
	if err != nil {
		return backend.Usage{}, err
	}
	defer stats.Body.Close()
	var v dockercontainer.StatsResponse
	if err := decodeJSON(stats.Body, &v); err != nil {
		return backend.Usage{}, fmt.Errorf("container backend: decode stats %s: %w", rec.NodeID, err)
	}
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage - v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage - v.PreCPUStats.SystemUsage)
	var cpuPct float64
	if sysDelta > 0 && cpuDelta > 0 {
		cpuPct = (cpuDelta / sysDelta) * float64(len(v.CPUStats.CPUUsage.PercpuUsage)) * 100
	}
	return backend.Usage{MemBytes: v.MemoryStats.Usage, CPUPct: cpuPct}, nil
}

func (b *Backend) Upgrade(ctx context.Context, rec *node.Record, version string) error {
	b.cfg.ImageTag = version
	if err := b.dc.PullImage(ctx, b.image()); err != nil {
		return err
	}
	if err := b.Stop(ctx, rec); err != nil {
		return err
	}
	if err := b.Destroy(ctx, rec); err != nil {
		return err
	}
	return b.Start(ctx, rec)
}

// ListManagedContainerNames returns the names of every running or stopped
// container carrying the managed label, for the supervisor's startup
// reconciliation pass to compare against its own records.
func (b *Backend) ListManagedContainerNames(ctx context.Context) ([]string, error) {
	names, err := b.dc.ListManagedNames(ctx, managedLabel)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, "/"))
	}
	return out, nil
}
