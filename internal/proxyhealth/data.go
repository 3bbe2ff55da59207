// Package proxyhealth probes proxies concurrently against a small set of
// echo endpoints, folds the results into the shared proxytypes arena, and
// burns proxies that cross one of the documented failure thresholds.
package proxyhealth

import "time"

// ProbeResult is the outcome of a single GET against a single echo endpoint.
type ProbeResult struct {
	Endpoint     string
	Success      bool
	StatusCode   int
	ResponseTime time.Duration
	ContentValid bool
	Err          error
}

// ProbeSummary folds every endpoint's ProbeResult for one proxy into the
// aggregate health_score = successfulProbes / probes used to decide burns.
type ProbeSummary struct {
	ProxyURL     string
	Results      []ProbeResult
	HealthScore  float64
	AllFailed    bool
}

// defaultEchoEndpoints stand in for the provider's documented IP-echo set.
var defaultEchoEndpoints = []string{
	"https://httpbin.org/ip",
	"https://api.ipify.org?format=json",
}
