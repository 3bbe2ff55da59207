package proxyhealth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/proxytypes"
)

// Checker runs concurrent health probes against the proxy arena and applies
// the burn-condition policy to every probed proxy.
type Checker struct {
	httpClient *http.Client

	concurrentChecks      int
	maxFailuresBeforeBurn int
	historyRetentionHours int
	probeTimeout          time.Duration

	echoEndpoints []string
}

// NewChecker builds a Checker with its own http.Client.
func NewChecker(cfg config.ProxyHealthConfig) *Checker {
	return NewCheckerWithClient(cfg, &http.Client{Timeout: cfg.ProbeTimeout})
}

// NewCheckerWithClient builds a Checker against an injected client, the seam
// tests use to point probes at an httptest.Server instead of the network.
func NewCheckerWithClient(cfg config.ProxyHealthConfig, client *http.Client) *Checker {
	concurrent := cfg.ConcurrentChecks
	if concurrent <= 0 {
		concurrent = 5
	}
	maxFailures := cfg.MaxFailuresBeforeBurn
	if maxFailures <= 0 {
		maxFailures = 5
	}
	retention := cfg.HistoryRetentionHours
	if retention <= 0 {
		retention = 24
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		httpClient:            client,
		concurrentChecks:      concurrent,
		maxFailuresBeforeBurn: maxFailures,
		historyRetentionHours: retention,
		probeTimeout:          timeout,
		echoEndpoints:         append([]string(nil), defaultEchoEndpoints...),
	}
}

// WithEchoEndpoints overrides the probe target set, used by tests to point
// at an httptest.Server.
func (c *Checker) WithEchoEndpoints(endpoints []string) *Checker {
	c.echoEndpoints = endpoints
	return c
}

// ProbeAll issues bounded-concurrency probes against every proxy currently
// present in the arena and folds the outcome back into each Record's Stats,
// burning proxies whose probe outcome or running stats trip a threshold.
func (c *Checker) ProbeAll(ctx context.Context, arena *proxytypes.Arena) []ProbeSummary {
	snapshot := arena.Snapshot()
	sem := make(chan struct{}, c.concurrentChecks)
	results := make([]ProbeSummary, len(snapshot))

	var wg sync.WaitGroup
	i := 0
	for url, rec := range snapshot {
		wg.Add(1)
		idx := i
		i++
		go func(proxyURL string, record *proxytypes.Record) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summary := c.probeOne(ctx, proxyURL)
			results[idx] = summary
			c.applyOutcome(arena, proxyURL, record, summary)
		}(url, rec)
	}
	wg.Wait()
	return results
}

func (c *Checker) probeOne(ctx context.Context, proxyURL string) ProbeSummary {
	summary := ProbeSummary{ProxyURL: proxyURL}

	successes := 0
	for _, endpoint := range c.echoEndpoints {
		result := c.probeEndpoint(ctx, proxyURL, endpoint)
		summary.Results = append(summary.Results, result)
		if result.Success {
			successes++
		}
	}

	if len(summary.Results) > 0 {
		summary.HealthScore = float64(successes) / float64(len(summary.Results))
	}
	summary.AllFailed = successes == 0
	return summary
}

func (c *Checker) probeEndpoint(ctx context.Context, proxyURL, endpoint string) ProbeResult {
	reqCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProbeResult{Endpoint: endpoint, Err: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return ProbeResult{Endpoint: endpoint, ResponseTime: elapsed, Err: err}
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	return ProbeResult{
		Endpoint:     endpoint,
		Success:      success,
		StatusCode:   resp.StatusCode,
		ResponseTime: elapsed,
		ContentValid: success,
	}
}

func (c *Checker) applyOutcome(arena *proxytypes.Arena, proxyURL string, record *proxytypes.Record, summary ProbeSummary) {
	arena.With(proxyURL, func(rec *proxytypes.Record) {
		if summary.AllFailed {
			rec.Stats.RecordFailure("probe_failed")
		} else {
			// Use the slowest successful probe as the representative latency.
			var worst time.Duration
			for _, r := range summary.Results {
				if r.Success && r.ResponseTime > worst {
					worst = r.ResponseTime
				}
			}
			rec.Stats.RecordSuccess(worst)
		}

		if c.shouldBurn(rec.Stats, summary) {
			rec.Stats.Burn(burnReason(rec.Stats, summary))
		}
	})
}

func (c *Checker) shouldBurn(stats proxytypes.Stats, summary ProbeSummary) bool {
	if stats.IsBurned {
		return true
	}
	if stats.ConsecutiveFailures >= c.maxFailuresBeforeBurn {
		return true
	}
	if stats.TotalRequests >= 10 && stats.SuccessRate < 0.2 {
		return true
	}
	if stats.TotalRequests >= 5 && summary.HealthScore == 0 {
		return true
	}
	return false
}

func burnReason(stats proxytypes.Stats, summary ProbeSummary) string {
	switch {
	case stats.ConsecutiveFailures >= 1 && stats.ConsecutiveFailures == stats.TotalRequests:
		return "consecutive_failures"
	case stats.TotalRequests >= 10 && stats.SuccessRate < 0.2:
		return "low_success_rate"
	default:
		return "zero_health_score"
	}
}

// Prune removes burned records older than the configured retention window
// and returns how many were removed. Healthy records are never pruned here;
// only burned proxies age out, matching the documented maintenance policy.
func (c *Checker) Prune(arena *proxytypes.Arena, now time.Time, lastBurnedAt map[string]time.Time) int {
	removed := 0
	for url, rec := range arena.Snapshot() {
		if !rec.Stats.IsBurned {
			continue
		}
		burnedAt, ok := lastBurnedAt[url]
		if !ok {
			continue
		}
		if now.Sub(burnedAt) > time.Duration(c.historyRetentionHours)*time.Hour {
			arena.Delete(url)
			removed++
		}
	}
	return removed
}
