package store

import (
	"context"
	"fmt"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

// GetSettings returns the singleton settings row, seeding it with the
// documented defaults on first access.
func (s *Store) GetSettings(ctx context.Context) (node.Settings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT nodes_auto_upgrade, nodes_auto_upgrade_delay_secs, node_bin_version_polling_freq_secs,
			nodes_metrics_polling_freq_secs, disks_usage_check_freq_secs, rewards_balances_retrieval_freq_secs,
			rewards_monitoring_enabled, l2_network_rpc_url, token_contract_address,
			lcd_display_enabled, lcd_device, lcd_addr, node_list_page_size, node_list_mode
		FROM settings WHERE id = 1`)

	var autoUpgrade, rewardsEnabled, lcdEnabled int
	var upgradeDelay, versionFreq, metricsFreq, diskFreq, balanceFreq int64
	var rpcURL, tokenAddr, lcdDevice, lcdAddr string
	var pageSize, listMode uint64

	err := row.Scan(&autoUpgrade, &upgradeDelay, &versionFreq, &metricsFreq, &diskFreq, &balanceFreq,
		&rewardsEnabled, &rpcURL, &tokenAddr, &lcdEnabled, &lcdDevice, &lcdAddr, &pageSize, &listMode)
	if err != nil {
		defaults := node.DefaultSettings()
		if err := s.UpdateSettings(ctx, defaults); err != nil {
			return node.Settings{}, fmt.Errorf("store: seed default settings: %w", err)
		}
		return defaults, nil
	}

	return node.Settings{
		NodesAutoUpgrade:             autoUpgrade != 0,
		NodesAutoUpgradeDelay:        time.Duration(upgradeDelay) * time.Second,
		NodeBinVersionPollingFreq:    time.Duration(versionFreq) * time.Second,
		NodesMetricsPollingFreq:      time.Duration(metricsFreq) * time.Second,
		DisksUsageCheckFreq:          time.Duration(diskFreq) * time.Second,
		RewardsBalancesRetrievalFreq: time.Duration(balanceFreq) * time.Second,
		RewardsMonitoringEnabled:     rewardsEnabled != 0,
		L2NetworkRPCURL:              rpcURL,
		TokenContractAddress:         tokenAddr,
		LCDDisplayEnabled:            lcdEnabled != 0,
		LCDDevice:                    lcdDevice,
		LCDAddr:                      lcdAddr,
		NodeListPageSize:             pageSize,
		NodeListMode:                 listMode,
	}, nil
}

// UpdateSettings overwrites the singleton settings row.
func (s *Store) UpdateSettings(ctx context.Context, set node.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, nodes_auto_upgrade, nodes_auto_upgrade_delay_secs,
			node_bin_version_polling_freq_secs, nodes_metrics_polling_freq_secs,
			disks_usage_check_freq_secs, rewards_balances_retrieval_freq_secs,
			rewards_monitoring_enabled, l2_network_rpc_url, token_contract_address,
			lcd_display_enabled, lcd_device, lcd_addr, node_list_page_size, node_list_mode)
		VALUES (1,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			nodes_auto_upgrade=excluded.nodes_auto_upgrade,
			nodes_auto_upgrade_delay_secs=excluded.nodes_auto_upgrade_delay_secs,
			node_bin_version_polling_freq_secs=excluded.node_bin_version_polling_freq_secs,
			nodes_metrics_polling_freq_secs=excluded.nodes_metrics_polling_freq_secs,
			disks_usage_check_freq_secs=excluded.disks_usage_check_freq_secs,
			rewards_balances_retrieval_freq_secs=excluded.rewards_balances_retrieval_freq_secs,
			rewards_monitoring_enabled=excluded.rewards_monitoring_enabled,
			l2_network_rpc_url=excluded.l2_network_rpc_url,
			token_contract_address=excluded.token_contract_address,
			lcd_display_enabled=excluded.lcd_display_enabled,
			lcd_device=excluded.lcd_device, lcd_addr=excluded.lcd_addr,
			node_list_page_size=excluded.node_list_page_size, node_list_mode=excluded.node_list_mode`,
		boolToInt(set.NodesAutoUpgrade), int64(set.NodesAutoUpgradeDelay/time.Second),
		int64(set.NodeBinVersionPollingFreq/time.Second), int64(set.NodesMetricsPollingFreq/time.Second),
		int64(set.DisksUsageCheckFreq/time.Second), int64(set.RewardsBalancesRetrievalFreq/time.Second),
		boolToInt(set.RewardsMonitoringEnabled), set.L2NetworkRPCURL, set.TokenContractAddress,
		boolToInt(set.LCDDisplayEnabled), set.LCDDevice, set.LCDAddr, set.NodeListPageSize, set.NodeListMode,
	)
	if err != nil {
		return fmt.Errorf("store: update settings: %w", err)
	}
	return nil
}
