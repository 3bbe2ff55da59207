// Package runner wires the eleven acquisition components behind one
// bounded worker pool: it is the only place in the repository that
// constructs a Coordinator end to end and drives it against a stream of
// URLs, the way cmd/antibot-acquire needs to run a site.
package runner

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/rohmanhakim/antibot-acquire/internal/backoff"
	"github.com/rohmanhakim/antibot-acquire/internal/captcha"
	"github.com/rohmanhakim/antibot-acquire/internal/challenge"
	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/coordinator"
	"github.com/rohmanhakim/antibot-acquire/internal/premiumproxy"
	"github.com/rohmanhakim/antibot-acquire/internal/proxyhealth"
	"github.com/rohmanhakim/antibot-acquire/internal/proxyrotator"
	"github.com/rohmanhakim/antibot-acquire/internal/proxytypes"
	"github.com/rohmanhakim/antibot-acquire/internal/robots"
	"github.com/rohmanhakim/antibot-acquire/internal/robots/cache"
	"github.com/rohmanhakim/antibot-acquire/internal/session"
	"github.com/rohmanhakim/antibot-acquire/internal/telemetry"
	"github.com/rohmanhakim/antibot-acquire/internal/useragent"
	"github.com/rohmanhakim/antibot-acquire/internal/validator"
)

// Engine owns every long-lived acquisition component for one site run:
// the coordinator itself plus the background collaborators (proxy health,
// premium-proxy refresh, CAPTCHA daily-spend logging) that MaintenanceLoop ticks.
type Engine struct {
	cfg   config.Config
	tel   *telemetry.Telemetry
	coord *coordinator.Coordinator

	arena       *proxytypes.Arena
	proxies     *proxyrotator.Rotator
	proxyHealth *proxyhealth.Checker
	premium     *premiumproxy.Manager
	captchaSvr  *captcha.Solver

	healthInterval  time.Duration
	premiumInterval time.Duration
}

// Build assembles an Engine from cfg: user-agent pool, robots checker,
// content validator, backoff/circuit engine, an empty proxy arena (filled
// from the premium-proxy provider by EnsureProxyPool when configured), and
// the optional CAPTCHA and challenge-solver escalation paths, all handed to
// one Coordinator.
func Build(cfg config.Config, tel *telemetry.Telemetry) (*Engine, error) {
	proxyInfra := cfg.ProxyInfrastructure()

	backoffEngine := backoff.NewEngineFromConfig(proxyInfra.Backoff, time.Now().UnixNano())

	arena := proxytypes.NewArena()
	minHealthy := proxyInfra.MinHealthyCount
	if minHealthy <= 0 {
		minHealthy = 1
	}

	var premiumMgr *premiumproxy.Manager
	premiumCfg := proxyInfra.PremiumProxies
	if premiumCfg.Enabled {
		apiKey := os.Getenv(premiumCfg.APIKeyEnv)
		provider := premiumproxy.NewHTTPProvider(premiumCfg.APIBaseURL, apiKey, "", "")
		costPerProxy := premiumCfg.MaxMonthlyCostUSD
		if premiumCfg.MinCount > 0 {
			costPerProxy = premiumCfg.MaxMonthlyCostUSD / float64(premiumCfg.MinCount)
		}
		premiumMgr = premiumproxy.NewManager(premiumCfg, provider, arena, costPerProxy)
	}

	contentValidator := validator.New(proxyInfra.ContentValidation, cache.NewMemoryCache())

	var rotatorOpts []proxyrotator.Option
	if premiumMgr != nil {
		rotatorOpts = append(rotatorOpts, proxyrotator.WithPremiumManager(premiumMgr))
	}
	rotatorOpts = append(rotatorOpts, proxyrotator.WithValidator(contentValidator))
	proxies := proxyrotator.New(arena, backoffEngine, minHealthy, 0, time.Now().UnixNano(), rotatorOpts...)

	userAgents := useragent.New(cfg.UserAgentRotation(), time.Now().UnixNano())

	robotsCfg := cfg.RobotsCompliance()
	robotsChecker := robots.NewChecker(
		tel.Sink,
		robotsCfg.DefaultUserAgent,
		cache.NewMemoryCache(),
		time.Duration(robotsCfg.CacheTTLHours)*time.Hour,
		robotsCfg.RespectDisallow,
		robotsCfg.RespectCrawlDelay,
		robots.CrawlDelaySettings{
			MinDelay:     robotsCfg.CrawlDelay.MinDelay,
			MaxDelay:     robotsCfg.CrawlDelay.MaxDelay,
			DefaultDelay: robotsCfg.CrawlDelay.DefaultDelay,
		},
		buildOverrides(robotsCfg.Overrides),
	)

	var opts []coordinator.Option

	var captchaSvr *captcha.Solver
	if cfg.CaptchaSolving().Enabled {
		apiKey := os.Getenv(cfg.CaptchaSolving().APIKeyEnv)
		captchaSvr = captcha.New(cfg.CaptchaSolving(), apiKey)
		opts = append(opts, coordinator.WithCaptchaSolver(captchaSvr))
	}

	if cfg.FlareSolverr().Enabled {
		challengeClient := challenge.New(cfg.FlareSolverr(), cfg.GuardDetection())
		opts = append(opts, coordinator.WithChallengeSolver(challengeClient))
	}

	sessionStore, err := session.New(proxyInfra.SessionManagement)
	if err != nil {
		return nil, err
	}
	if sessionStore.Ephemeral() {
		tel.Logger.Warn("session store has no configured secret; using an ephemeral in-memory key for this process")
	}
	opts = append(opts, coordinator.WithSessionStore(sessionStore))

	antibotTimeout := time.Duration(cfg.AntibotTimeoutSecs()) * time.Second
	if antibotTimeout <= 0 {
		antibotTimeout = 30 * time.Second
	}
	opts = append(opts, coordinator.WithHTTPClientFactory(clientFactory(antibotTimeout)))

	coord := coordinator.New(robotsChecker, userAgents, proxies, backoffEngine, contentValidator, 3, proxyInfra.Backoff.CircuitTimeout, opts...)

	proxyHealthChecker := proxyhealth.NewChecker(proxyInfra.ProxyHealth)

	healthInterval := time.Duration(proxyInfra.ProxyHealth.CheckIntervalSeconds) * time.Second
	if healthInterval <= 0 {
		healthInterval = 5 * time.Minute
	}
	premiumInterval := time.Duration(premiumCfg.RefreshIntervalSecs) * time.Second
	if premiumInterval <= 0 {
		premiumInterval = time.Hour
	}

	return &Engine{
		cfg:             cfg,
		tel:             tel,
		coord:           coord,
		arena:           arena,
		proxies:         proxies,
		proxyHealth:     proxyHealthChecker,
		premium:         premiumMgr,
		captchaSvr:      captchaSvr,
		healthInterval:  healthInterval,
		premiumInterval: premiumInterval,
	}, nil
}

func clientFactory(timeout time.Duration) func(string) coordinator.HTTPDoer {
	return func(proxyURL string) coordinator.HTTPDoer {
		transport := &http.Transport{}
		if proxyURL != "" {
			if parsed, perr := url.Parse(proxyURL); perr == nil {
				transport.Proxy = http.ProxyURL(parsed)
			}
		}
		return &http.Client{Transport: transport, Timeout: timeout}
	}
}

func buildOverrides(cfg config.ComplianceOverridesConfig) robots.ComplianceOverrides {
	ignore := make(map[string]struct{}, len(cfg.IgnoreDomains))
	for _, d := range cfg.IgnoreDomains {
		ignore[d] = struct{}{}
	}
	var forceAllow []*regexp.Regexp
	for _, pattern := range cfg.ForceAllow {
		if re, err := regexp.Compile(pattern); err == nil {
			forceAllow = append(forceAllow, re)
		}
	}
	return robots.ComplianceOverrides{IgnoreDomains: ignore, ForceAllow: forceAllow}
}

// EnsureProxyPool fetches the initial premium-proxy pool when premium
// proxies are configured; it is a no-op (with an empty arena) otherwise, so
// callers relying solely on the teacher's default HTTP transport still work
// without a proxy.
func (e *Engine) EnsureProxyPool(ctx context.Context) error {
	if e.premium == nil {
		return nil
	}
	target := e.premium.AutoscaleTarget(e.cfg.AntibotConcurrency())
	_ = e.premium.EnsureMinPool(ctx, target)
	return nil
}

// MaintenanceLoop runs the proxy-health probes on one ticker and the
// premium-proxy refresh plus the CAPTCHA daily-spend log on a second ticker
// until ctx is cancelled; a failed refresh is logged and later ticks go on.
func (e *Engine) MaintenanceLoop(ctx context.Context) {
	healthTicker := time.NewTicker(e.healthInterval)
	defer healthTicker.Stop()
	premiumTicker := time.NewTicker(e.premiumInterval)
	defer premiumTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-healthTicker.C:
			e.proxyHealth.ProbeAll(ctx, e.arena)
			e.proxies.MaintenanceTick(ctx, e.cfg.ProxyInfrastructure().ProxyHealth.ProbeTimeout)
		case <-premiumTicker.C:
			if e.premium != nil {
				if _, err := e.premium.RefreshActive(ctx); err != nil {
					e.tel.Logger.Warn("premium proxy refresh failed", zap.Error(err))
				}
			}
			if e.captchaSvr != nil {
				if stats := e.captchaSvr.Stats(); stats.DailyCostUSD > 0 {
					e.tel.Logger.Debug("captcha solver daily spend", zap.Float64("dailyCostUsd", stats.DailyCostUSD))
				}
			}
		}
	}
}

// Coordinator exposes the wired Coordinator for the worker pool.
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }
