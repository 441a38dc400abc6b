package container

import (
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/primal-host/fleetd/internal/node"
)

// nodeParams is the generic, domain-agnostic equivalent of the
// Avalanche-specific container spec this backend's config builder was
// generalized from: any node binary packaged as an image, taking the same
// family of flags, fits this shape.
type nodeParams struct {
	Image         string
	DataRoot      string
	Port          int
	MetricsPort   int
	HomeNetwork   bool
	UPnP          bool
	RewardsAddr   string
	NetworkName   string // bridge network to attach to
}

func buildContainerConfig(p nodeParams) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	env := []string{
		fmt.Sprintf("NODE_PORT=%d", p.Port),
		fmt.Sprintf("NODE_METRICS_PORT=%d", p.MetricsPort),
		fmt.Sprintf("NODE_REWARDS_ADDRESS=%s", p.RewardsAddr),
	}
	var cmd []string
	if p.HomeNetwork {
		cmd = append(cmd, "--home-network")
	}
	if p.UPnP {
		cmd = append(cmd, "--upnp")
	}

	portKey := nat.Port(strconv.Itoa(p.Port) + "/udp")
	metricsKey := nat.Port(strconv.Itoa(p.MetricsPort) + "/tcp")

	cfg := &container.Config{
		Image: p.Image,
		Env:   env,
		Cmd:   cmd,
		ExposedPorts: nat.PortSet{
			portKey:    {},
			metricsKey: {},
		},
		Labels: map[string]string{managedLabel: "true"},
	}

	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			portKey:    {{HostPort: strconv.Itoa(p.Port)}},
			metricsKey: {{HostPort: strconv.Itoa(p.MetricsPort)}},
		},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: p.DataRoot, Target: "/data"},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			p.NetworkName: {},
		},
	}

	return cfg, host, netCfg
}

func paramsFromRecord(rec *node.Record, image, dataRoot, netName string) nodeParams {
	return nodeParams{
		Image:       image,
		DataRoot:    dataRoot,
		Port:        rec.Port,
		MetricsPort: rec.MetricsPort,
		HomeNetwork: rec.HomeNetwork,
		UPnP:        rec.UPnP,
		RewardsAddr: rec.RewardsAddr,
		NetworkName: netName,
	}
}
