// Package metrics implements the Metrics Fetcher: scraping each node's
// Prometheus-text endpoint with bounded concurrency and extracting a
// whitelisted set of keys.
package metrics

import (
	"bufio"
	"strings"
	"time"

	"github.com/primal-host/fleetd/internal/node"
)

// collectedKeys is the whitelist of metric families this fetcher extracts,
// matching the original Prometheus-text scraper's fixed key set.
var collectedKeys = map[string]bool{
	"records_stored":           true,
	"relevant_records":         true,
	"connected_peers":          true,
	"connected_relay_clients":  true,
	"kbuckets_peers":           true,
	"shunned_count":            true,
	"estimated_network_size":   true,
	"reward_wallet_balance":    true,
	"memory_used_mb":           true,
	"cpu_usage_percent":        true,
}

// ParsePrometheusText extracts whitelisted samples from a Prometheus-text
// response body, stamping each with observedAt since the format rarely
// carries its own per-sample timestamp.
func ParsePrometheusText(nodeID string, body string, observedAt time.Time) []node.MetricSample {
	var out []node.MetricSample
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitSample(line)
		if !ok || !collectedKeys[key] {
			continue
		}
		out = append(out, node.MetricSample{NodeID: nodeID, Ts: observedAt, Key: key, Value: value})
	}
	return out
}

// splitSample parses "key{labels} value [timestamp]" into (key, value),
// discarding labels and any trailing timestamp field.
func splitSample(line string) (key, value string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	key = fields[0]
	if idx := strings.IndexByte(key, '{'); idx >= 0 {
		key = key[:idx]
	}
	value = fields[1]
	return key, value, true
}
