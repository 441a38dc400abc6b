package container

import (
	"testing"

	"github.com/primal-host/fleetd/internal/node"
)

func TestParamsFromRecordCopiesNodeFields(t *testing.T) {
	rec := node.NewRecord(node.Spec{
		Backend:     node.BackendContainer,
		Port:        9000,
		MetricsPort: 9001,
		RewardsAddr: "0xabc",
		HomeNetwork: true,
		UPnP:        true,
	})

	p := paramsFromRecord(rec, "fleetd/node:latest", "/data/root", "fleetd")
	if p.Image != "fleetd/node:latest" || p.DataRoot != "/data/root" || p.NetworkName != "fleetd" {
		t.Fatalf("unexpected static fields: %+v", p)
	}
	if p.Port != 9000 || p.MetricsPort != 9001 || p.RewardsAddr != "0xabc" {
		t.Fatalf("unexpected node-derived fields: %+v", p)
	}
	if !p.HomeNetwork || !p.UPnP {
		t.Fatalf("expected HomeNetwork and UPnP carried over, got %+v", p)
	}
}

func TestBuildContainerConfigExposesPortsAndMountsDataRoot(t *testing.T) {
	p := nodeParams{
		Image:       "fleetd/node:latest",
		DataRoot:    "/data/abc",
		Port:        9000,
		MetricsPort: 9001,
		RewardsAddr: "0xabc",
		NetworkName: "fleetd",
	}

	cfg, host, netCfg := buildContainerConfig(p)

	if cfg.Image != p.Image {
		t.Fatalf("expected image %q, got %q", p.Image, cfg.Image)
	}
	if len(cfg.ExposedPorts) != 2 {
		t.Fatalf("expected 2 exposed ports, got %d", len(cfg.ExposedPorts))
	}
	if len(host.PortBindings) != 2 {
		t.Fatalf("expected 2 port bindings, got %d", len(host.PortBindings))
	}
	if len(host.Mounts) != 1 || host.Mounts[0].Source != p.DataRoot || host.Mounts[0].Target != "/data" {
		t.Fatalf("expected data root bind mount, got %+v", host.Mounts)
	}
	if _, ok := netCfg.EndpointsConfig[p.NetworkName]; !ok {
		t.Fatalf("expected network %q attached, got %+v", p.NetworkName, netCfg.EndpointsConfig)
	}
	foundEnv := false
	for _, e := range cfg.Env {
		if e == "NODE_REWARDS_ADDRESS=0xabc" {
			foundEnv = true
		}
	}
	if !foundEnv {
		t.Fatalf("expected rewards address env var, got %v", cfg.Env)
	}
}

func TestBuildContainerConfigSetsOptionalFlags(t *testing.T) {
	p := nodeParams{Image: "img", HomeNetwork: true, UPnP: true, NetworkName: "fleetd"}
	cfg, _, _ := buildContainerConfig(p)

	hasFlag := func(flag string) bool {
		for _, c := range cfg.Cmd {
			if c == flag {
				return true
			}
		}
		return false
	}
	if !hasFlag("--home-network") || !hasFlag("--upnp") {
		t.Fatalf("expected both flags present, got %v", cfg.Cmd)
	}
}
