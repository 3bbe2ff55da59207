package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ProxyHealthConfig tunes the periodic proxy health probe.
type ProxyHealthConfig struct {
	ConcurrentChecks        int           `json:"concurrentChecks,omitempty"`
	CheckIntervalSeconds    int           `json:"checkIntervalSeconds,omitempty"`
	MaxFailuresBeforeBurn   int           `json:"maxFailuresBeforeReplacement,omitempty"`
	HistoryRetentionHours   int           `json:"historyRetentionHours,omitempty"`
	ProbeTimeout            time.Duration `json:"probeTimeout,omitempty"`
}

// PremiumProxyConfig configures the provider client and auto-purchase policy.
type PremiumProxyConfig struct {
	Enabled             bool    `json:"enabled,omitempty"`
	APIKeyEnv           string  `json:"apiKeyEnv,omitempty"`
	APIBaseURL          string  `json:"apiBaseUrl,omitempty"`
	RefreshIntervalSecs int     `json:"refreshIntervalSeconds,omitempty"`
	AutoPurchaseEnabled bool    `json:"autoPurchaseEnabled,omitempty"`
	CooldownSeconds     int     `json:"cooldownSeconds,omitempty"`
	BatchSize           int     `json:"batchSize,omitempty"`
	MaxMonthlyCostUSD   float64 `json:"maxMonthlyCostUsd,omitempty"`
	MinCount            int     `json:"minCount,omitempty"`
	MaxCount            int     `json:"maxCount,omitempty"`
	SafetyFactor        float64 `json:"safetyFactor,omitempty"`
	TargetSuccessRate   float64 `json:"targetSuccessRate,omitempty"`
}

// BackoffStrategyConfig is the per-error-kind retry policy (spec table in §4.4).
type BackoffStrategyConfig struct {
	MaxAttempts int           `json:"maxAttempts"`
	Multiplier  float64       `json:"multiplier"`
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay,omitempty"`
}

// BackoffConfig bundles per-kind strategies plus circuit thresholds.
type BackoffConfig struct {
	Strategies            map[string]BackoffStrategyConfig `json:"strategies,omitempty"`
	FailureThreshold      int                               `json:"failureThreshold,omitempty"`
	CircuitTimeout        time.Duration                     `json:"circuitTimeout,omitempty"`
	MaxHalfOpenAttempts   int                               `json:"maxHalfOpenAttempts,omitempty"`
}

// ContentValidationConfig tunes the content validator's thresholds.
type ContentValidationConfig struct {
	MinBodyLength           int     `json:"minBodyLength,omitempty"`
	QualityThreshold        float64 `json:"qualityThreshold,omitempty"`
	SilentBlockSimilarity   float64 `json:"silentBlockSimilarity,omitempty"`
	BaselineWindowSize      int     `json:"baselineWindowSize,omitempty"`
}

// SessionManagementConfig tunes the session store's TTL and encryption.
type SessionManagementConfig struct {
	TTL               time.Duration `json:"ttl,omitempty"`
	RefreshThreshold  time.Duration `json:"refreshThreshold,omitempty"`
	AutoRefresh       bool          `json:"autoRefresh,omitempty"`
	SecretEnv         string        `json:"secretEnv,omitempty"`
	StorageDir        string        `json:"storageDir,omitempty"`
}

// ProxyInfrastructureConfig is the top-level `proxy_infrastructure` section.
type ProxyInfrastructureConfig struct {
	Enabled           bool                    `json:"enabled,omitempty"`
	ProxyHealth       ProxyHealthConfig       `json:"proxyHealth,omitempty"`
	PremiumProxies    PremiumProxyConfig      `json:"premiumProxies,omitempty"`
	Backoff           BackoffConfig           `json:"backoff,omitempty"`
	ContentValidation ContentValidationConfig `json:"contentValidation,omitempty"`
	SessionManagement SessionManagementConfig `json:"sessionManagement,omitempty"`
	MinHealthyCount   int                     `json:"minHealthyCount,omitempty"`
}

// CaptchaCostTrackingConfig bounds 2captcha-style spend.
type CaptchaCostTrackingConfig struct {
	DailyLimitUSD    float64 `json:"dailyLimitUsd,omitempty"`
	MinBalanceUSD    float64 `json:"minBalanceUsd,omitempty"`
	AlertOnLowBalance bool   `json:"alertOnLowBalance,omitempty"`
}

// CaptchaPerformanceConfig tunes solve-time behavior.
type CaptchaPerformanceConfig struct {
	PreferFastWorkers bool `json:"preferFastWorkers,omitempty"`
	MaxSolveSeconds   int  `json:"maxSolveTimeSeconds,omitempty"`
	RetryOnTimeout    bool `json:"retryOnTimeout,omitempty"`
}

// CaptchaSolvingConfig is the top-level `captcha_solving` section.
type CaptchaSolvingConfig struct {
	Enabled                bool                      `json:"enabled,omitempty"`
	APIKeyEnv              string                    `json:"apiKeyEnv,omitempty"`
	APIURL                 string                    `json:"apiUrl,omitempty"`
	TimeoutSeconds         int                       `json:"timeoutSeconds,omitempty"`
	PollingIntervalSeconds int                       `json:"pollingIntervalSeconds,omitempty"`
	MaxRetries             int                       `json:"maxRetries,omitempty"`
	PerformanceSettings    CaptchaPerformanceConfig  `json:"performanceSettings,omitempty"`
	CostTracking           CaptchaCostTrackingConfig `json:"costTracking,omitempty"`
}

// UserAgentFilteringConfig bounds which UA strings are eligible.
type UserAgentFilteringConfig struct {
	MinBrowserVersion int     `json:"minBrowserVersion,omitempty"`
	ExcludeMobile     bool    `json:"excludeMobile,omitempty"`
	ExcludeBot        bool    `json:"excludeBot,omitempty"`
	ChromeShareMin    float64 `json:"chromeShareMin,omitempty"`
}

// UserAgentRotationConfig is the top-level `user_agent_rotation` section.
type UserAgentRotationConfig struct {
	Strategy             string                   `json:"strategy,omitempty"`
	PoolSize             int                      `json:"poolSize,omitempty"`
	RefreshIntervalHours int                      `json:"refreshIntervalHours,omitempty"`
	Filtering            UserAgentFilteringConfig `json:"filtering,omitempty"`
	PerformanceTracking  bool                     `json:"performanceTracking,omitempty"`
}

// ComplianceOverridesConfig carries the per-domain robots exceptions.
type ComplianceOverridesConfig struct {
	IgnoreDomains []string `json:"ignoreDomains,omitempty"`
	ForceAllow    []string `json:"forceAllow,omitempty"`
	TestingMode   bool     `json:"testingMode,omitempty"`
}

// CrawlDelaySettingsConfig bounds the resolved crawl delay.
type CrawlDelaySettingsConfig struct {
	MinDelay     time.Duration `json:"minDelay,omitempty"`
	MaxDelay     time.Duration `json:"maxDelay,omitempty"`
	DefaultDelay time.Duration `json:"defaultDelay,omitempty"`
}

// RobotsComplianceConfig is the top-level `robots_compliance` section.
type RobotsComplianceConfig struct {
	Enabled           bool                      `json:"enabled,omitempty"`
	RespectCrawlDelay bool                      `json:"respectCrawlDelay,omitempty"`
	RespectDisallow   bool                      `json:"respectDisallow,omitempty"`
	DefaultUserAgent  string                    `json:"defaultUserAgent,omitempty"`
	CacheTTLHours     int                       `json:"cacheTtlHours,omitempty"`
	CrawlDelay        CrawlDelaySettingsConfig  `json:"crawlDelaySettings,omitempty"`
	Overrides         ComplianceOverridesConfig `json:"complianceOverrides,omitempty"`
}

// FlareSolverrRetryPolicyConfig tunes the challenge-solver client's own retries.
type FlareSolverrRetryPolicyConfig struct {
	MaxRetries        int     `json:"maxRetries,omitempty"`
	RetryDelaySeconds float64 `json:"retryDelaySeconds,omitempty"`
	BackoffMultiplier float64 `json:"backoffMultiplier,omitempty"`
}

// FlareSolverrSessionConfig tunes solver-side session lifetime.
type FlareSolverrSessionConfig struct {
	Enabled  bool          `json:"enabled,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`
	MaxCount int           `json:"maxCount,omitempty"`
}

// FlareSolverrConfig is the top-level `flaresolverr` section.
type FlareSolverrConfig struct {
	Enabled             bool                          `json:"enabled,omitempty"`
	Endpoint            string                        `json:"endpoint,omitempty"`
	MaxTimeoutMs        int                           `json:"maxTimeoutMs,omitempty"`
	RetryPolicy         FlareSolverrRetryPolicyConfig `json:"retryPolicy,omitempty"`
	SessionManagement   FlareSolverrSessionConfig     `json:"sessionManagement,omitempty"`
	HealthCheckInterval time.Duration                 `json:"healthCheckInterval,omitempty"`
}

// DomainOverrideConfig carries per-domain antibot integration tuning.
type DomainOverrideConfig struct {
	WaitForSelectors      []string      `json:"waitForSelectors,omitempty"`
	NavigationRetries     int           `json:"navigationRetries,omitempty"`
	RetryBackoffSeconds   float64       `json:"retryBackoffSeconds,omitempty"`
	PlaywrightWaitSeconds time.Duration `json:"playwrightWaitSeconds,omitempty"`
}

// GuardDetectionConfig is the top-level `guard_detection` section.
type GuardDetectionConfig struct {
	MaxBypassAttempts int                              `json:"maxBypassAttempts,omitempty"`
	CooldownSeconds   int                              `json:"cooldownSeconds,omitempty"`
	DomainOverrides   map[string]DomainOverrideConfig  `json:"domainOverrides,omitempty"`
}

// Config is the root configuration object. Top-level run parameters use the
// teacher's private-field-plus-builder convention; nested sections are
// plain value objects assembled directly since they have no invariants of
// their own beyond their zero values being sane defaults.
type Config struct {
	site        string
	concurrency int
	limit       int
	dryRun      bool

	resume            bool
	resumeWindowHours int
	skipExisting      bool

	useAntibot          bool
	antibotConcurrency  int
	antibotTimeoutSecs  int

	outputDir string

	proxyInfrastructure ProxyInfrastructureConfig
	captchaSolving      CaptchaSolvingConfig
	userAgentRotation   UserAgentRotationConfig
	robotsCompliance    RobotsComplianceConfig
	flareSolverr        FlareSolverrConfig
	guardDetection      GuardDetectionConfig
}

type configDTO struct {
	Site               string `json:"site,omitempty"`
	Concurrency        int    `json:"concurrency,omitempty"`
	Limit              int    `json:"limit,omitempty"`
	DryRun             bool   `json:"dryRun,omitempty"`
	Resume             bool   `json:"resume,omitempty"`
	ResumeWindowHours  int    `json:"resumeWindowHours,omitempty"`
	SkipExisting       bool   `json:"skipExisting,omitempty"`
	UseAntibot         bool   `json:"useAntibot,omitempty"`
	AntibotConcurrency int    `json:"antibotConcurrency,omitempty"`
	AntibotTimeoutSecs int    `json:"antibotTimeoutSeconds,omitempty"`
	OutputDir          string `json:"outputDir,omitempty"`

	ProxyInfrastructure ProxyInfrastructureConfig `json:"proxyInfrastructure,omitempty"`
	CaptchaSolving      CaptchaSolvingConfig      `json:"captchaSolving,omitempty"`
	UserAgentRotation   UserAgentRotationConfig   `json:"userAgentRotation,omitempty"`
	RobotsCompliance    RobotsComplianceConfig    `json:"robotsCompliance,omitempty"`
	FlareSolverr        FlareSolverrConfig        `json:"flaresolverr,omitempty"`
	GuardDetection      GuardDetectionConfig      `json:"guardDetection,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.Site).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.Limit != 0 {
		cfg.limit = dto.Limit
	}
	cfg.dryRun = dto.DryRun
	cfg.resume = dto.Resume
	if dto.ResumeWindowHours != 0 {
		cfg.resumeWindowHours = dto.ResumeWindowHours
	}
	cfg.skipExisting = dto.SkipExisting
	cfg.useAntibot = dto.UseAntibot
	if dto.AntibotConcurrency != 0 {
		cfg.antibotConcurrency = dto.AntibotConcurrency
	}
	if dto.AntibotTimeoutSecs != 0 {
		cfg.antibotTimeoutSecs = dto.AntibotTimeoutSecs
	}
	if dto.OutputDir != "" {
		cfg.outputDir = dto.OutputDir
	}

	if dto.ProxyInfrastructure.ProxyHealth.ConcurrentChecks != 0 || len(dto.ProxyInfrastructure.Backoff.Strategies) > 0 {
		cfg.proxyInfrastructure = dto.ProxyInfrastructure
	}
	if dto.CaptchaSolving.APIURL != "" || dto.CaptchaSolving.Enabled {
		cfg.captchaSolving = dto.CaptchaSolving
	}
	if dto.UserAgentRotation.Strategy != "" {
		cfg.userAgentRotation = dto.UserAgentRotation
	}
	if dto.RobotsCompliance.DefaultUserAgent != "" {
		cfg.robotsCompliance = dto.RobotsCompliance
	}
	if dto.FlareSolverr.Endpoint != "" {
		cfg.flareSolverr = dto.FlareSolverr
	}
	if dto.GuardDetection.MaxBypassAttempts != 0 {
		cfg.guardDetection = dto.GuardDetection
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config for the given site with defaults for
// every section. site is mandatory and must not be empty.
func WithDefault(site string) *Config {
	defaultConfig := Config{
		site:               site,
		concurrency:        32,
		limit:              0,
		dryRun:             false,
		resume:             true,
		resumeWindowHours:  6,
		skipExisting:       false,
		useAntibot:         true,
		antibotConcurrency: 8,
		antibotTimeoutSecs: 30,
		outputDir:          "data",

		proxyInfrastructure: ProxyInfrastructureConfig{
			Enabled: true,
			ProxyHealth: ProxyHealthConfig{
				ConcurrentChecks:      5,
				CheckIntervalSeconds:  300,
				MaxFailuresBeforeBurn: 5,
				HistoryRetentionHours: 24,
				ProbeTimeout:          10 * time.Second,
			},
			PremiumProxies: PremiumProxyConfig{
				Enabled:             false,
				APIKeyEnv:           "PREMIUM_PROXY_API_KEY",
				RefreshIntervalSecs: 3600,
				AutoPurchaseEnabled: false,
				CooldownSeconds:     1800,
				BatchSize:           5,
				MaxMonthlyCostUSD:   50.0,
				MinCount:            5,
				MaxCount:            50,
				SafetyFactor:        1.5,
				TargetSuccessRate:   0.8,
			},
			Backoff: BackoffConfig{
				Strategies: map[string]BackoffStrategyConfig{
					"timeout":        {MaxAttempts: 3, Multiplier: 1.5, BaseDelay: 2 * time.Second},
					"rate_limit":     {MaxAttempts: 5, Multiplier: 3.0, BaseDelay: 10 * time.Second},
					"captcha":        {MaxAttempts: 2, Multiplier: 5.0, BaseDelay: 30 * time.Second},
					"blocked":        {MaxAttempts: 1, Multiplier: 1.0, BaseDelay: 0},
					"network":        {MaxAttempts: 4, Multiplier: 2.0, BaseDelay: 1 * time.Second},
					"http_5xx":       {MaxAttempts: 3, Multiplier: 2.0, BaseDelay: 5 * time.Second},
					"http_4xx":       {MaxAttempts: 1, Multiplier: 1.0, BaseDelay: 0},
					"proxy_error":    {MaxAttempts: 2, Multiplier: 1.5, BaseDelay: 3 * time.Second},
					"authentication": {MaxAttempts: 1, Multiplier: 1.0, BaseDelay: 0},
				},
				FailureThreshold:    5,
				CircuitTimeout:      60 * time.Second,
				MaxHalfOpenAttempts: 3,
			},
			ContentValidation: ContentValidationConfig{
				MinBodyLength:         10,
				QualityThreshold:      0.5,
				SilentBlockSimilarity: 0.95,
				BaselineWindowSize:    10,
			},
			SessionManagement: SessionManagementConfig{
				TTL:              6 * time.Hour,
				RefreshThreshold: 30 * time.Minute,
				AutoRefresh:      true,
				SecretEnv:        "SESSION_SECRET",
				StorageDir:       "data/sessions",
			},
			MinHealthyCount: 3,
		},

		captchaSolving: CaptchaSolvingConfig{
			Enabled:                false,
			APIKeyEnv:              "CAPTCHA_API_KEY",
			APIURL:                 "http://2captcha.com",
			TimeoutSeconds:         120,
			PollingIntervalSeconds: 5,
			MaxRetries:             3,
			PerformanceSettings: CaptchaPerformanceConfig{
				PreferFastWorkers: true,
				MaxSolveSeconds:   60,
				RetryOnTimeout:    true,
			},
			CostTracking: CaptchaCostTrackingConfig{
				DailyLimitUSD:     10.0,
				MinBalanceUSD:     5.0,
				AlertOnLowBalance: true,
			},
		},

		userAgentRotation: UserAgentRotationConfig{
			Strategy:             "intelligent",
			PoolSize:             50,
			RefreshIntervalHours: 24,
			Filtering: UserAgentFilteringConfig{
				MinBrowserVersion: 100,
				ExcludeMobile:     false,
				ExcludeBot:        true,
				ChromeShareMin:    0.6,
			},
			PerformanceTracking: true,
		},

		robotsCompliance: RobotsComplianceConfig{
			Enabled:           true,
			RespectCrawlDelay: true,
			RespectDisallow:   true,
			DefaultUserAgent:  "*",
			CacheTTLHours:     24,
			CrawlDelay: CrawlDelaySettingsConfig{
				MinDelay:     500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				DefaultDelay: time.Second,
			},
		},

		flareSolverr: FlareSolverrConfig{
			Enabled:      false,
			Endpoint:     "http://localhost:8191",
			MaxTimeoutMs: 180000,
			RetryPolicy: FlareSolverrRetryPolicyConfig{
				MaxRetries:        2,
				RetryDelaySeconds: 2.0,
				BackoffMultiplier: 1.5,
			},
			SessionManagement: FlareSolverrSessionConfig{
				Enabled:  true,
				TTL:      30 * time.Minute,
				MaxCount: 10,
			},
			HealthCheckInterval: time.Minute,
		},

		guardDetection: GuardDetectionConfig{
			MaxBypassAttempts: 3,
			CooldownSeconds:   300,
		},
	}
	return &defaultConfig
}

func (c *Config) WithSite(site string) *Config {
	c.site = site
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithLimit(limit int) *Config {
	c.limit = limit
	return c
}

func (c *Config) WithDryRun(dryRun bool) *Config {
	c.dryRun = dryRun
	return c
}

func (c *Config) WithResume(resume bool) *Config {
	c.resume = resume
	return c
}

func (c *Config) WithResumeWindowHours(hours int) *Config {
	c.resumeWindowHours = hours
	return c
}

func (c *Config) WithSkipExisting(skip bool) *Config {
	c.skipExisting = skip
	return c
}

func (c *Config) WithUseAntibot(use bool) *Config {
	c.useAntibot = use
	return c
}

func (c *Config) WithAntibotConcurrency(concurrency int) *Config {
	c.antibotConcurrency = concurrency
	return c
}

func (c *Config) WithAntibotTimeoutSecs(seconds int) *Config {
	c.antibotTimeoutSecs = seconds
	return c
}

func (c *Config) WithOutputDir(dir string) *Config {
	c.outputDir = dir
	return c
}

func (c *Config) WithProxyInfrastructure(cfg ProxyInfrastructureConfig) *Config {
	c.proxyInfrastructure = cfg
	return c
}

func (c *Config) WithCaptchaSolving(cfg CaptchaSolvingConfig) *Config {
	c.captchaSolving = cfg
	return c
}

func (c *Config) WithUserAgentRotation(cfg UserAgentRotationConfig) *Config {
	c.userAgentRotation = cfg
	return c
}

func (c *Config) WithRobotsCompliance(cfg RobotsComplianceConfig) *Config {
	c.robotsCompliance = cfg
	return c
}

func (c *Config) WithFlareSolverr(cfg FlareSolverrConfig) *Config {
	c.flareSolverr = cfg
	return c
}

func (c *Config) WithGuardDetection(cfg GuardDetectionConfig) *Config {
	c.guardDetection = cfg
	return c
}

func (c *Config) Build() (Config, error) {
	if c.site == "" {
		return Config{}, fmt.Errorf("%w: site cannot be empty", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) Site() string                  { return c.site }
func (c Config) Concurrency() int               { return c.concurrency }
func (c Config) Limit() int                     { return c.limit }
func (c Config) DryRun() bool                   { return c.dryRun }
func (c Config) Resume() bool                   { return c.resume }
func (c Config) ResumeWindowHours() int         { return c.resumeWindowHours }
func (c Config) SkipExisting() bool             { return c.skipExisting }
func (c Config) UseAntibot() bool               { return c.useAntibot }
func (c Config) AntibotConcurrency() int        { return c.antibotConcurrency }
func (c Config) AntibotTimeoutSecs() int        { return c.antibotTimeoutSecs }
func (c Config) OutputDir() string              { return c.outputDir }

func (c Config) ProxyInfrastructure() ProxyInfrastructureConfig { return c.proxyInfrastructure }
func (c Config) CaptchaSolving() CaptchaSolvingConfig           { return c.captchaSolving }
func (c Config) UserAgentRotation() UserAgentRotationConfig     { return c.userAgentRotation }
func (c Config) RobotsCompliance() RobotsComplianceConfig       { return c.robotsCompliance }
func (c Config) FlareSolverr() FlareSolverrConfig               { return c.flareSolverr }
func (c Config) GuardDetection() GuardDetectionConfig           { return c.guardDetection }
