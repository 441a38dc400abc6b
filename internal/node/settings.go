package node

import "time"

// Settings is the single tunable-configuration row for the fleet.
type Settings struct {
	NodesAutoUpgrade            bool
	NodesAutoUpgradeDelay       time.Duration
	NodeBinVersionPollingFreq   time.Duration
	NodesMetricsPollingFreq     time.Duration
	DisksUsageCheckFreq         time.Duration
	RewardsBalancesRetrievalFreq time.Duration
	RewardsMonitoringEnabled    bool
	L2NetworkRPCURL             string
	TokenContractAddress        string
	LCDDisplayEnabled           bool
	LCDDevice                   string
	LCDAddr                     string
	NodeListPageSize            uint64
	NodeListMode                uint64
}

// DefaultSettings mirrors the documented defaults of the system this type was
// distilled from, minus the agent/LLM fields: this supervisor's HTTP/CLI
// surface has no autonomous-agent cycle to configure, so those settings would
// be dead configuration here.
func DefaultSettings() Settings {
	return Settings{
		NodesAutoUpgrade:             false,
		NodesAutoUpgradeDelay:        10 * time.Second,
		NodeBinVersionPollingFreq:    6 * time.Hour,
		NodesMetricsPollingFreq:      5 * time.Second,
		DisksUsageCheckFreq:          60 * time.Second,
		RewardsBalancesRetrievalFreq: 15 * time.Minute,
		RewardsMonitoringEnabled:     true,
		L2NetworkRPCURL:              "https://arb1.arbitrum.io/rpc",
		TokenContractAddress:         "0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684",
		LCDDisplayEnabled:            false,
		LCDDevice:                    "1",
		LCDAddr:                      "0x27",
		NodeListPageSize:             30,
		NodeListMode:                 0,
	}
}
