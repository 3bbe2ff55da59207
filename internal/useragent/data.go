// Package useragent rotates user-agent strings across three pools
// (browser, mobile, bot) with mandatory per-request rotation, pluggable
// selection strategies, and per-domain effectiveness feedback.
package useragent

import "time"

// PoolKind selects which sub-pool a request draws its user agent from.
type PoolKind string

const (
	PoolBrowser PoolKind = "browser"
	PoolMobile  PoolKind = "mobile"
	PoolBot     PoolKind = "bot"
)

// Strategy names a selection algorithm over a pool.
type Strategy string

const (
	StrategyIntelligent Strategy = "intelligent"
	StrategyWeighted    Strategy = "weighted"
	StrategyRandom      Strategy = "random"
	StrategySequential  Strategy = "sequential"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type performance struct {
	totalRequests      int
	successfulRequests int
	avgResponseTime    time.Duration
	lastUsed           time.Time
}

func (p *performance) successRate() float64 {
	if p.totalRequests == 0 {
		return 0
	}
	return float64(p.successfulRequests) / float64(p.totalRequests)
}

func (p *performance) observe(success bool, responseTime time.Duration, now time.Time) {
	p.totalRequests++
	p.lastUsed = now
	if success {
		p.successfulRequests++
	}
	n := time.Duration(p.totalRequests)
	p.avgResponseTime = (p.avgResponseTime*(n-1) + responseTime) / n
}

type domainPerformance struct {
	uas map[string]*performance
}

// Stats is a point-in-time snapshot exposed for observability.
type Stats struct {
	Enabled            bool
	Strategy           Strategy
	BrowserPoolSize    int
	MobilePoolSize     int
	BotPoolSize        int
	TotalRequests      int
	SuccessfulRequests int
	SuccessRatePercent float64
	UniqueUAsUsed      int
	DomainsTracked     int
	LastUsedUA         string
	LastRotationTime   time.Time
	PoolLastRefresh    time.Time
}
