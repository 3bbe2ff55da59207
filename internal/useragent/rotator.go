package useragent

import (
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
)

var chromeVersionRe = regexp.MustCompile(`Chrome/(\d+)`)
var firefoxVersionRe = regexp.MustCompile(`Firefox/(\d+)`)
var safariVersionRe = regexp.MustCompile(`Version/(\d+)`)

var suspiciousPatterns = []string{"bot", "crawler", "spider", "scraper", "automation"}

var browserMarkers = []string{"Chrome", "Firefox", "Safari", "Edge", "Opera"}

// staticBrowserAgents is the curated seed list a pool refresh always
// reinstates, standing in for a fetched generator-library pool.
var staticBrowserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

var staticMobileAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Mobile Safari/537.36",
}

var staticBotAgents = []string{
	"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
}

// Rotator hands out user agents with mandatory rotation and tracks which
// ones perform well, overall and per domain.
type Rotator struct {
	mu sync.Mutex

	rng *rand.Rand

	enabled           bool
	strategy          Strategy
	poolSize          int
	refreshInterval   time.Duration
	minBrowserVersion int
	excludeMobile     bool
	excludeBot        bool
	chromeShareMin    float64

	browserAgents []string
	mobileAgents  []string
	botAgents     []string

	currentIndex map[PoolKind]int

	usageCount  map[string]int
	performance map[string]*performance
	domainPerf  map[string]*domainPerformance

	lastUsedUA       string
	lastRotationTime time.Time
	poolLastRefresh  time.Time
}

// New builds a Rotator from configuration and seeds its pools immediately
// (mirroring a synchronous startup refresh rather than a deferred async one).
func New(cfg config.UserAgentRotationConfig, seed int64) *Rotator {
	strategy := Strategy(cfg.Strategy)
	if strategy == "" {
		strategy = StrategyIntelligent
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 50
	}
	refreshHours := cfg.RefreshIntervalHours
	if refreshHours <= 0 {
		refreshHours = 24
	}
	chromeShareMin := cfg.Filtering.ChromeShareMin
	if chromeShareMin <= 0 {
		chromeShareMin = 0.6
	}

	r := &Rotator{
		rng:               rand.New(rand.NewSource(seed)),
		enabled:           true,
		strategy:          strategy,
		poolSize:          poolSize,
		refreshInterval:   time.Duration(refreshHours) * time.Hour,
		minBrowserVersion: cfg.Filtering.MinBrowserVersion,
		excludeMobile:     cfg.Filtering.ExcludeMobile,
		excludeBot:        cfg.Filtering.ExcludeBot,
		chromeShareMin:    chromeShareMin,
		currentIndex:      map[PoolKind]int{PoolBrowser: 0, PoolMobile: 0, PoolBot: 0},
		usageCount:        make(map[string]int),
		performance:       make(map[string]*performance),
		domainPerf:        make(map[string]*domainPerformance),
	}
	r.refreshPools()
	return r
}

// Next returns the next user agent for the given pool and domain, honoring
// mandatory rotation: the result never repeats lastUsedUA when the pool has
// more than one eligible candidate.
func (r *Rotator) Next(pool PoolKind, domain string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return defaultUserAgent
	}

	r.refreshPoolsIfStaleLocked()

	uaPool := r.poolLocked(pool)
	if len(uaPool) == 0 {
		return defaultUserAgent
	}

	var ua string
	switch r.strategy {
	case StrategyWeighted:
		ua = r.weightedLocked(uaPool, domain)
	case StrategyRandom:
		ua = r.randomLocked(uaPool)
	case StrategySequential:
		ua = r.sequentialLocked(uaPool, pool)
	default:
		ua = r.intelligentLocked(uaPool, domain)
	}

	if !validateUserAgent(ua, r.excludeBot) {
		return defaultUserAgent
	}

	r.trackUsageLocked(ua)
	r.lastUsedUA = ua
	r.lastRotationTime = time.Now()
	return ua
}

// ForDomain returns the historically best-performing browser UA for domain,
// falling back to Next when no domain history exists yet.
func (r *Rotator) ForDomain(domain string) string {
	r.mu.Lock()
	dp, ok := r.domainPerf[domain]
	r.mu.Unlock()
	if !ok || len(dp.uas) == 0 {
		return r.Next(PoolBrowser, domain)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	best, bestRate := "", -1.0
	for ua, perf := range dp.uas {
		if rate := perf.successRate(); rate > bestRate {
			best, bestRate = ua, rate
		}
	}
	if best == "" {
		return r.Next(PoolBrowser, domain)
	}
	return best
}

// Observe records the outcome of one request made with ua against domain,
// updating overall and per-domain effectiveness statistics.
func (r *Rotator) Observe(ua string, success bool, responseTime time.Duration, domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	p, ok := r.performance[ua]
	if !ok {
		p = &performance{}
		r.performance[ua] = p
	}
	p.observe(success, responseTime, now)

	if domain == "" {
		return
	}
	dp, ok := r.domainPerf[domain]
	if !ok {
		dp = &domainPerformance{uas: make(map[string]*performance)}
		r.domainPerf[domain] = dp
	}
	dperf, ok := dp.uas[ua]
	if !ok {
		dperf = &performance{}
		dp.uas[ua] = dperf
	}
	dperf.observe(success, responseTime, now)
}

// Stats returns a snapshot for observability, mirroring the original
// get_statistics aggregate view.
func (r *Rotator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	total, successful := 0, 0
	for _, p := range r.performance {
		total += p.totalRequests
		successful += p.successfulRequests
	}
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total) * 100
	}

	return Stats{
		Enabled:            r.enabled,
		Strategy:           r.strategy,
		BrowserPoolSize:    len(r.browserAgents),
		MobilePoolSize:     len(r.mobileAgents),
		BotPoolSize:        len(r.botAgents),
		TotalRequests:      total,
		SuccessfulRequests: successful,
		SuccessRatePercent: rate,
		UniqueUAsUsed:      len(r.usageCount),
		DomainsTracked:     len(r.domainPerf),
		LastUsedUA:         r.lastUsedUA,
		LastRotationTime:   r.lastRotationTime,
		PoolLastRefresh:    r.poolLastRefresh,
	}
}

// RefreshPools forces an immediate pool reload regardless of staleness.
func (r *Rotator) RefreshPools() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshPools()
}

func (r *Rotator) poolLocked(pool PoolKind) []string {
	switch pool {
	case PoolMobile:
		return r.mobileAgents
	case PoolBot:
		return r.botAgents
	default:
		return r.browserAgents
	}
}

func (r *Rotator) refreshPoolsIfStaleLocked() {
	if time.Since(r.poolLastRefresh) > r.refreshInterval {
		r.refreshPools()
	}
}

func (r *Rotator) refreshPools() {
	r.browserAgents = append([]string(nil), staticBrowserAgents...)
	if !r.excludeMobile {
		r.mobileAgents = append([]string(nil), staticMobileAgents...)
	} else {
		r.mobileAgents = nil
	}
	r.botAgents = append([]string(nil), staticBotAgents...)

	r.applyFiltering()
	r.ensureMinimumPoolSizes()
	r.poolLastRefresh = time.Now()
}

func (r *Rotator) applyFiltering() {
	if r.minBrowserVersion > 0 {
		filtered := r.browserAgents[:0:0]
		for _, ua := range r.browserAgents {
			if extractBrowserVersion(ua) >= r.minBrowserVersion {
				filtered = append(filtered, ua)
			}
		}
		r.browserAgents = filtered
	}

	if r.chromeShareMin <= 0 || len(r.browserAgents) == 0 {
		return
	}
	chromeCount := 0
	for _, ua := range r.browserAgents {
		if containsChrome(ua) {
			chromeCount++
		}
	}
	target := int(float64(len(r.browserAgents)) * r.chromeShareMin)
	for chromeCount < target && chromeCount > 0 {
		need := target - chromeCount
		added := 0
		for _, ua := range r.browserAgents {
			if !containsChrome(ua) {
				continue
			}
			r.browserAgents = append(r.browserAgents, ua)
			added++
			if added >= need {
				break
			}
		}
		if added == 0 {
			break
		}
		chromeCount += added
	}
}

func (r *Rotator) ensureMinimumPoolSizes() {
	minBrowser := maxInt(10, r.poolSize/4)
	minMobile := 5

	for len(r.browserAgents) < minBrowser && len(r.browserAgents) > 0 {
		need := minBrowser - len(r.browserAgents)
		if need > len(r.browserAgents) {
			need = len(r.browserAgents)
		}
		r.browserAgents = append(r.browserAgents, r.browserAgents[:need]...)
	}
	if !r.excludeMobile {
		for len(r.mobileAgents) < minMobile && len(r.mobileAgents) > 0 {
			need := minMobile - len(r.mobileAgents)
			if need > len(r.mobileAgents) {
				need = len(r.mobileAgents)
			}
			r.mobileAgents = append(r.mobileAgents, r.mobileAgents[:need]...)
		}
	}
}

func (r *Rotator) intelligentLocked(uaPool []string, domain string) string {
	if domain != "" {
		if dp, ok := r.domainPerf[domain]; ok {
			var candidates []string
			var weights []float64
			inPool := make(map[string]bool, len(uaPool))
			for _, ua := range uaPool {
				inPool[ua] = true
			}
			for ua, perf := range dp.uas {
				if !inPool[ua] || ua == r.lastUsedUA {
					continue
				}
				candidates = append(candidates, ua)
				weights = append(weights, maxFloat(perf.successRate(), 0.1))
			}
			if len(candidates) > 0 {
				return weightedChoice(r.rng, candidates, weights)
			}
		}
	}
	return r.weightedLocked(uaPool, domain)
}

func (r *Rotator) weightedLocked(uaPool []string, domain string) string {
	available := excludeLast(uaPool, r.lastUsedUA)

	weights := make([]float64, len(available))
	now := time.Now()
	for i, ua := range available {
		perf, ok := r.performance[ua]
		if !ok || perf.totalRequests == 0 {
			weights[i] = 0.5
			continue
		}
		recency := minFloat(1.0, now.Sub(perf.lastUsed).Hours())
		weight := perf.successRate() * (1 + recency)
		weights[i] = maxFloat(weight, 0.1)
	}
	return weightedChoice(r.rng, available, weights)
}

func (r *Rotator) randomLocked(uaPool []string) string {
	available := excludeLast(uaPool, r.lastUsedUA)
	return available[r.rng.Intn(len(available))]
}

func (r *Rotator) sequentialLocked(uaPool []string, pool PoolKind) string {
	idx := (r.currentIndex[pool] + 1) % len(uaPool)
	r.currentIndex[pool] = idx
	return uaPool[idx]
}

func (r *Rotator) trackUsageLocked(ua string) {
	r.usageCount[ua]++
}

func excludeLast(pool []string, last string) []string {
	if last == "" {
		return pool
	}
	out := make([]string, 0, len(pool))
	for _, ua := range pool {
		if ua != last {
			out = append(out, ua)
		}
	}
	if len(out) == 0 {
		return pool
	}
	return out
}

func weightedChoice(rng *rand.Rand, items []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return items[rng.Intn(len(items))]
	}
	pick := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if pick <= cum {
			return items[i]
		}
	}
	return items[len(items)-1]
}

func validateUserAgent(ua string, excludeBot bool) bool {
	if len(ua) < 20 || len(ua) > 500 {
		return false
	}
	hasMarker := false
	for _, marker := range browserMarkers {
		if containsSubstring(ua, marker) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}
	if excludeBot {
		for _, pattern := range suspiciousPatterns {
			if containsFold(ua, pattern) {
				return false
			}
		}
	}
	return true
}

func extractBrowserVersion(ua string) int {
	if m := chromeVersionRe.FindStringSubmatch(ua); m != nil {
		return atoiOrZero(m[1])
	}
	if m := firefoxVersionRe.FindStringSubmatch(ua); m != nil {
		return atoiOrZero(m[1])
	}
	if m := safariVersionRe.FindStringSubmatch(ua); m != nil && containsSubstring(ua, "Safari") {
		return atoiOrZero(m[1])
	}
	return 0
}

func containsChrome(ua string) bool {
	return containsSubstring(ua, "Chrome")
}
