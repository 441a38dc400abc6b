// Package container implements the Node Backend variant that supervises
// nodes as containers against a container-engine daemon socket.
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// client is a thin wrapper over the Docker Engine API client, scoped to the
// operations a node supervisor needs: create/start/stop/remove/inspect/logs
// and managed-container discovery by label.
type dockerClient struct {
	cli *client.Client
}

// managedLabel marks every container this backend creates, so that restarts
// of the supervisor can discover what it previously owned.
const managedLabel = "fleetd.managed"

// newClient connects to the daemon at socketPath (a unix socket path or a full
// DOCKER_HOST-style URL).
func newClient(socketPath string) (*dockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, client.WithHost(socketPath))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("container backend: connect: %w", err)
	}
	return &dockerClient{cli: cli}, nil
}

func (d *dockerClient) Close() error { return d.cli.Close() }

func (d *dockerClient) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("container backend: ping: %w", err)
	}
	return nil
}

// EnsureNetwork creates the bridge network nodes attach to, if it does not
// already exist.
func (d *dockerClient) EnsureNetwork(ctx context.Context, name string) error {
	list, err := d.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("container backend: list networks: %w", err)
	}
	for _, n := range list {
		if n.Name == name {
			return nil
		}
	}
	_, err = d.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("container backend: create network %s: %w", name, err)
	}
	return nil
}

// ImageExists reports whether ref is already present locally.
func (d *dockerClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("container backend: inspect image %s: %w", ref, err)
	}
	return true, nil
}

// PullImage pulls ref, draining the progress stream.
func (d *dockerClient) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("container backend: pull image %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *dockerClient) ContainerCreate(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, net, nil, name)
	if err != nil {
		return "", fmt.Errorf("container backend: create %s: %w", name, err)
	}
	return resp.ID, nil
}

func (d *dockerClient) ContainerStart(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container backend: start %s: %w", id, err)
	}
	return nil
}

func (d *dockerClient) ContainerStop(ctx context.Context, id string, graceSecs int) error {
	timeout := graceSecs
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container backend: stop %s: %w", id, err)
	}
	return nil
}

func (d *dockerClient) ContainerRemove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container backend: remove %s: %w", id, err)
	}
	return nil
}

func (d *dockerClient) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return container.InspectResponse{}, fmt.Errorf("container backend: inspect %s: %w", id, err)
	}
	return info, nil
}

func (d *dockerClient) ContainerLogs(ctx context.Context, id string, follow bool) (io.ReadCloser, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: follow, Tail: "200"})
	if err != nil {
		return nil, fmt.Errorf("container backend: logs %s: %w", id, err)
	}
	return rc, nil
}

func (d *dockerClient) ContainerStats(ctx context.Context, id string) (container.StatsResponseReader, error) {
	stats, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return container.StatsResponseReader{}, fmt.Errorf("container backend: stats %s: %w", id, err)
	}
	return stats, nil
}

// ListManagedNames returns the names of all containers (running or not)
// carrying the given label.
func (d *dockerClient) ListManagedNames(ctx context.Context, label string) ([]string, error) {
	filterArgs := filters.NewArgs(filters.Arg("label", label))
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("container backend: list managed: %w", err)
	}
	var names []string
	for _, c := range list {
		if len(c.Names) > 0 {
			names = append(names, c.Names[0])
		}
	}
	return names, nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
