package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/primal-host/fleetd/internal/node"
)

// maxInFlight is the design floor for concurrent scrapes across the fleet.
const maxInFlight = 16

// scrapeTimeout bounds a single node's metrics request.
const scrapeTimeout = 3 * time.Second

// Target is the minimal addressing information a scrape needs for one node.
type Target struct {
	NodeID string
	IP     string
	Port   int
}

// Result is one node's scrape outcome: either Samples is populated or Err is
// set — a failure never clears previously known values at this layer, that
// policy lives in the caller (Fleet State).
type Result struct {
	NodeID  string
	Samples []node.MetricSample
	Err     error
}

// Fetcher scrapes node metrics endpoints with bounded fan-out.
type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{httpClient: &http.Client{Timeout: scrapeTimeout}}
}

// ScrapeAll fetches every target concurrently, capped at maxInFlight
// in-flight requests via a weighted semaphore, and returns one Result per
// target regardless of individual failures.
func (f *Fetcher) ScrapeAll(ctx context.Context, targets []Target) []Result {
	sem := semaphore.NewWeighted(maxInFlight)
	results := make([]Result, len(targets))

	done := make(chan struct{}, len(targets))
	for i, t := range targets {
		i, t := i, t
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{NodeID: t.NodeID, Err: err}
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			results[i] = f.scrapeOne(ctx, t)
		}()
	}
	for range targets {
		<-done
	}
	return results
}

func (f *Fetcher) scrapeOne(ctx context.Context, t Target) Result {
	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/metrics", t.IP, t.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{NodeID: t.NodeID, Err: fmt.Errorf("metrics: build request for %s: %w", t.NodeID, err)}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{NodeID: t.NodeID, Err: fmt.Errorf("metrics: scrape %s: %w", t.NodeID, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{NodeID: t.NodeID, Err: fmt.Errorf("metrics: scrape %s: status %d", t.NodeID, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{NodeID: t.NodeID, Err: fmt.Errorf("metrics: read body for %s: %w", t.NodeID, err)}
	}

	observedAt := time.Now()
	return Result{NodeID: t.NodeID, Samples: ParsePrometheusText(t.NodeID, string(body), observedAt)}
}
