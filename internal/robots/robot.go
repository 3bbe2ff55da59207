package robots

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/metadata"
	"github.com/rohmanhakim/antibot-acquire/internal/robots/cache"
	"github.com/rohmanhakim/antibot-acquire/pkg/limiter"
)

/*
Checker

Responsibilities
- Fetch robots.txt per host (via RobotsFetcher, cached)
- Decide allow/disallow for a URL + user-agent pair
- Enforce crawl-delay pacing per domain
- Apply compliance overrides: ignore list, force-allow regexes, testing mode

Robots checks occur before a request is admitted to the coordinator.
Any fetch/parse failure is fail-open: allow with the default delay.
*/

// ComplianceOverrides carries the per-domain exceptions to enforcement.
type ComplianceOverrides struct {
	// IgnoreDomains skips robots enforcement entirely for these hosts (always allow).
	IgnoreDomains map[string]struct{}

	// ForceAllow holds compiled patterns; a URL path matching any of these
	// is allowed regardless of disallow rules.
	ForceAllow []*regexp.Regexp

	// TestingMode logs would-be disallow decisions but never blocks.
	TestingMode bool
}

// CrawlDelaySettings bounds the resolved crawl delay.
type CrawlDelaySettings struct {
	MinDelay     time.Duration
	MaxDelay     time.Duration
	DefaultDelay time.Duration
}

// Checker is the Robots Checker component: fetch + cache + decide + pace.
type Checker struct {
	fetcher            *RobotsFetcher
	respectDisallow    bool
	respectCrawlDelay  bool
	cacheTTL           time.Duration
	crawlDelaySettings CrawlDelaySettings
	overrides          ComplianceOverrides
	metadataSink       metadata.MetadataSink
	pacer              limiter.RateLimiter

	mu         sync.Mutex
	errorCount int
}

// NewChecker builds a Checker with the given fetch cache and policy.
func NewChecker(
	metadataSink metadata.MetadataSink,
	userAgent string,
	robotsCache cache.Cache,
	cacheTTL time.Duration,
	respectDisallow bool,
	respectCrawlDelay bool,
	delaySettings CrawlDelaySettings,
	overrides ComplianceOverrides,
) *Checker {
	pacer := limiter.NewConcurrentRateLimiter()
	pacer.SetBaseDelay(delaySettings.DefaultDelay)

	return &Checker{
		fetcher:            NewRobotsFetcher(metadataSink, userAgent, robotsCache),
		respectDisallow:    respectDisallow,
		respectCrawlDelay:  respectCrawlDelay,
		cacheTTL:           cacheTTL,
		crawlDelaySettings: delaySettings,
		overrides:          overrides,
		metadataSink:       metadataSink,
		pacer:              pacer,
	}
}

// Check fetches (or reuses cached) robots rules for the URL's host and
// returns a Decision. Any fetch or parse error is fail-open: allowed, with
// the configured default delay, and an incremented error counter.
func (c *Checker) Check(ctx context.Context, target url.URL, userAgent string) Decision {
	host := target.Hostname()

	if _, ignored := c.overrides.IgnoreDomains[host]; ignored {
		return Decision{Url: target, Allowed: true, Reason: AllowedByRobots}
	}

	result, fetchErr := c.fetcher.Fetch(ctx, target.Scheme, host)
	if fetchErr != nil {
		c.recordError(host, fetchErr)
		return Decision{
			Url:     target,
			Allowed: true,
			Reason:  AllowedByRobots,
		}
	}

	rules := MapResponseToRuleSet(result.Response, userAgent, result.FetchedAt)

	if c.forceAllowed(target) {
		return Decision{Url: target, Allowed: true, Reason: AllowedByRobots, CrawlDelay: rules.CrawlDelay()}
	}

	if !c.respectDisallow {
		return Decision{Url: target, Allowed: true, Reason: AllowedByRobots, CrawlDelay: rules.CrawlDelay()}
	}

	decision := decide(rules, target)
	if !decision.Allowed && c.overrides.TestingMode {
		decision.Allowed = true
		if c.metadataSink != nil {
			c.metadataSink.RecordError(
				time.Now(),
				"robots",
				"Checker.Check",
				metadata.CausePolicyDisallow,
				"testing mode: would disallow "+target.String(),
				[]metadata.Attribute{metadata.NewAttr(metadata.AttrHost, host)},
			)
		}
	}
	return decision
}

// decide applies the longest-match allow/disallow precedence to a single path.
func decide(rules ruleSet, target url.URL) Decision {
	if !rules.hasGroups {
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: rules.CrawlDelay()}
	}
	if !rules.matchedGroup {
		return Decision{Url: target, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: rules.CrawlDelay()}
	}

	path := target.Path
	if path == "" {
		path = "/"
	}

	allowLen := longestMatch(rules.AllowRules(), path)
	disallowLen := longestMatch(rules.DisallowRules(), path)

	if disallowLen == 0 {
		return Decision{Url: target, Allowed: true, Reason: NoMatchingRules, CrawlDelay: rules.CrawlDelay()}
	}
	if allowLen >= disallowLen {
		return Decision{Url: target, Allowed: true, Reason: AllowedByRobots, CrawlDelay: rules.CrawlDelay()}
	}
	return Decision{Url: target, Allowed: false, Reason: DisallowedByRobots, CrawlDelay: rules.CrawlDelay()}
}

func longestMatch(rules []pathRule, path string) int {
	best := 0
	for _, r := range rules {
		prefix := r.Prefix()
		if prefix == "" {
			continue
		}
		if len(prefix) > len(path) {
			continue
		}
		if path[:len(prefix)] == prefix && len(prefix) > best {
			best = len(prefix)
		}
	}
	return best
}

func (c *Checker) forceAllowed(target url.URL) bool {
	for _, re := range c.overrides.ForceAllow {
		if re.MatchString(target.Path) {
			return true
		}
	}
	return false
}

// ApplyCrawlDelay blocks the caller until the per-domain crawl delay has
// elapsed since the last access, then records the new access time.
// It returns the delay actually slept.
func (c *Checker) ApplyCrawlDelay(domain string, robotsDelay *time.Duration) time.Duration {
	if !c.respectCrawlDelay {
		return 0
	}

	required := c.crawlDelaySettings.DefaultDelay
	if robotsDelay != nil {
		required = *robotsDelay
	}
	if required < c.crawlDelaySettings.MinDelay {
		required = c.crawlDelaySettings.MinDelay
	}
	if c.crawlDelaySettings.MaxDelay > 0 && required > c.crawlDelaySettings.MaxDelay {
		required = c.crawlDelaySettings.MaxDelay
	}

	c.pacer.SetCrawlDelay(domain, required)
	wait := c.pacer.ResolveDelay(domain)
	if wait > 0 {
		time.Sleep(wait)
	}
	c.pacer.MarkLastFetchAsNow(domain)
	return wait
}

func (c *Checker) recordError(host string, err *RobotsError) {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()

	if c.metadataSink == nil {
		return
	}
	c.metadataSink.RecordError(
		time.Now(),
		"robots",
		"Checker.Check",
		mapRobotsErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrHost, host),
		},
	)
}

// ErrorCount returns the number of fail-open fetch/parse errors observed so far.
func (c *Checker) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCount
}
