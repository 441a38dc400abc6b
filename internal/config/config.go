// Package config loads runtime configuration from environment variables and,
// optionally, a declarative fleet-seed file describing nodes to create on
// first boot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/primal-host/fleetd/internal/node"
)

const Version = "0.1.0"

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	DBPath string // DB_PATH, the embedded SQLite file

	RootDir string // NODE_MGR_ROOT_DIR, native backend data root

	Backend node.Backend // NODE_BACKEND, "native" or "container"

	DockerSocketPath   string // DOCKER_SOCKET_PATH
	ContainerImageName string // NODE_CONTAINER_IMAGE_NAME
	ContainerImageTag  string // NODE_CONTAINER_IMAGE_TAG

	ListenAddr string // LISTEN_ADDR
	AdminKey   string // ADMIN_KEY or ADMIN_KEY_FILE

	ReleaseCatalogURL string // RELEASE_CATALOG_URL

	FleetSeedFile string // FLEET_SEED_FILE, optional
}

// Load reads configuration from environment variables. Supports the _FILE
// suffix convention for values better kept out of the process environment
// (e.g. ADMIN_KEY_FILE).
func Load() (*Config, error) {
	backend, err := envOrFile("NODE_BACKEND")
	if err != nil {
		return nil, fmt.Errorf("NODE_BACKEND: %w", err)
	}
	if backend == "" {
		backend = string(node.BackendNative)
	}

	c := &Config{
		DBPath:             envOrDefault("DB_PATH", "fleetd.db"),
		RootDir:            envOrDefault("NODE_MGR_ROOT_DIR", "/var/lib/fleetd/nodes"),
		Backend:            node.Backend(backend),
		DockerSocketPath:   envOrDefault("DOCKER_SOCKET_PATH", ""),
		ContainerImageName: envOrDefault("NODE_CONTAINER_IMAGE_NAME", "fleetd/node"),
		ContainerImageTag:  envOrDefault("NODE_CONTAINER_IMAGE_TAG", "latest"),
		ListenAddr:         envOrDefault("LISTEN_ADDR", ":4321"),
		ReleaseCatalogURL:  envOrDefault("RELEASE_CATALOG_URL", "https://releases.example.invalid/fleetd/latest.json"),
		FleetSeedFile:      os.Getenv("FLEET_SEED_FILE"),
	}

	key, err := envOrFile("ADMIN_KEY")
	if err != nil {
		return nil, fmt.Errorf("ADMIN_KEY: %w", err)
	}
	c.AdminKey = key

	return c, nil
}

// FleetSeed is the declarative list of nodes (and optional settings
// overrides) to create on first boot, read from FLEET_SEED_FILE.
type FleetSeed struct {
	Settings *SettingsOverride `yaml:"settings,omitempty"`
	Nodes    []SeedNode        `yaml:"nodes"`
}

// SettingsOverride carries only the settings fields an operator is likely to
// want to pin at deploy time; anything left unset keeps node.DefaultSettings.
type SettingsOverride struct {
	NodesAutoUpgrade         *bool   `yaml:"nodes_auto_upgrade,omitempty"`
	RewardsMonitoringEnabled *bool   `yaml:"rewards_monitoring_enabled,omitempty"`
	L2NetworkRPCURL          *string `yaml:"l2_network_rpc_url,omitempty"`
	TokenContractAddress     *string `yaml:"token_contract_address,omitempty"`
}

// SeedNode is one node.Spec expressed in YAML.
type SeedNode struct {
	Backend         string `yaml:"backend"`
	Port            int    `yaml:"port"`
	MetricsPort     int    `yaml:"metrics_port"`
	NodeIP          string `yaml:"node_ip"`
	RewardsAddr     string `yaml:"rewards_addr"`
	HomeNetwork     bool   `yaml:"home_network"`
	UPnP            bool   `yaml:"upnp"`
	ReachabilityChk bool   `yaml:"reachability_chk"`
	NodeLogs        bool   `yaml:"node_logs"`
}

// Spec converts a SeedNode into the node.Spec Ops.Create expects.
func (n SeedNode) Spec() node.Spec {
	return node.Spec{
		Backend:         node.Backend(n.Backend),
		Port:            n.Port,
		MetricsPort:     n.MetricsPort,
		NodeIP:          n.NodeIP,
		RewardsAddr:     n.RewardsAddr,
		HomeNetwork:     n.HomeNetwork,
		UPnP:            n.UPnP,
		ReachabilityChk: n.ReachabilityChk,
		NodeLogs:        n.NodeLogs,
	}
}

// Apply overlays a SettingsOverride onto a base Settings value.
func (o *SettingsOverride) Apply(base node.Settings) node.Settings {
	if o == nil {
		return base
	}
	if o.NodesAutoUpgrade != nil {
		base.NodesAutoUpgrade = *o.NodesAutoUpgrade
	}
	if o.RewardsMonitoringEnabled != nil {
		base.RewardsMonitoringEnabled = *o.RewardsMonitoringEnabled
	}
	if o.L2NetworkRPCURL != nil {
		base.L2NetworkRPCURL = *o.L2NetworkRPCURL
	}
	if o.TokenContractAddress != nil {
		base.TokenContractAddress = *o.TokenContractAddress
	}
	return base
}

// LoadFleetSeed reads and parses a fleet seed file.
func LoadFleetSeed(path string) (*FleetSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet seed: %w", err)
	}
	var seed FleetSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse fleet seed: %w", err)
	}
	return &seed, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrFile reads a value from env var KEY, or from a file at KEY_FILE.
func envOrFile(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", fileKey, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", nil
}
