package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
)

func TestWithDefault(t *testing.T) {
	cfg := config.WithDefault("example.org")
	if cfg == nil {
		t.Fatal("WithDefault() returned nil")
	}

	builtCfg, err := cfg.Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if builtCfg.Site() != "example.org" {
		t.Errorf("expected Site 'example.org', got '%s'", builtCfg.Site())
	}
	if builtCfg.Concurrency() != 32 {
		t.Errorf("expected Concurrency 32, got %d", builtCfg.Concurrency())
	}
	if builtCfg.Resume() != true {
		t.Errorf("expected Resume true, got %v", builtCfg.Resume())
	}
	if builtCfg.ResumeWindowHours() != 6 {
		t.Errorf("expected ResumeWindowHours 6, got %d", builtCfg.ResumeWindowHours())
	}
	if builtCfg.UseAntibot() != true {
		t.Errorf("expected UseAntibot true, got %v", builtCfg.UseAntibot())
	}
	if builtCfg.AntibotConcurrency() != 8 {
		t.Errorf("expected AntibotConcurrency 8, got %d", builtCfg.AntibotConcurrency())
	}
	if builtCfg.OutputDir() != "data" {
		t.Errorf("expected OutputDir 'data', got '%s'", builtCfg.OutputDir())
	}
	if builtCfg.DryRun() {
		t.Error("expected DryRun false")
	}

	pi := builtCfg.ProxyInfrastructure()
	if !pi.Enabled {
		t.Error("expected proxy infrastructure enabled by default")
	}
	if pi.ProxyHealth.MaxFailuresBeforeBurn != 5 {
		t.Errorf("expected MaxFailuresBeforeBurn 5, got %d", pi.ProxyHealth.MaxFailuresBeforeBurn)
	}
	if pi.Backoff.FailureThreshold != 5 {
		t.Errorf("expected FailureThreshold 5, got %d", pi.Backoff.FailureThreshold)
	}
	rateLimitStrategy, ok := pi.Backoff.Strategies["rate_limit"]
	if !ok {
		t.Fatal("expected a rate_limit backoff strategy by default")
	}
	if rateLimitStrategy.BaseDelay != 10*time.Second || rateLimitStrategy.Multiplier != 3.0 {
		t.Errorf("unexpected rate_limit strategy: %+v", rateLimitStrategy)
	}

	captcha := builtCfg.CaptchaSolving()
	if captcha.Enabled {
		t.Error("expected captcha solving disabled by default")
	}
	if captcha.APIURL != "http://2captcha.com" {
		t.Errorf("expected default 2captcha API URL, got '%s'", captcha.APIURL)
	}

	ua := builtCfg.UserAgentRotation()
	if ua.Strategy != "intelligent" {
		t.Errorf("expected default strategy 'intelligent', got '%s'", ua.Strategy)
	}

	robots := builtCfg.RobotsCompliance()
	if !robots.Enabled || !robots.RespectDisallow {
		t.Error("expected robots compliance enabled with disallow respected by default")
	}
	if robots.CrawlDelay.DefaultDelay != time.Second {
		t.Errorf("expected default crawl delay 1s, got %v", robots.CrawlDelay.DefaultDelay)
	}

	if builtCfg.FlareSolverr().Enabled {
		t.Error("expected flaresolverr disabled by default")
	}
	if builtCfg.GuardDetection().MaxBypassAttempts != 3 {
		t.Errorf("expected MaxBypassAttempts 3, got %d", builtCfg.GuardDetection().MaxBypassAttempts)
	}
}

func TestWithDefault_EmptySite(t *testing.T) {
	cfg := config.WithDefault("")
	if cfg == nil {
		t.Fatal("WithDefault() returned nil")
	}

	_, err := cfg.Build()
	if err == nil {
		t.Fatal("expected error for empty site")
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWithConcurrencyAndLimit(t *testing.T) {
	cfg, err := config.WithDefault("example.org").WithConcurrency(16).WithLimit(500).Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	if cfg.Concurrency() != 16 {
		t.Errorf("expected Concurrency 16, got %d", cfg.Concurrency())
	}
	if cfg.Limit() != 500 {
		t.Errorf("expected Limit 500, got %d", cfg.Limit())
	}
}

func TestWithResumeSettings(t *testing.T) {
	cfg, err := config.WithDefault("example.org").
		WithResume(false).
		WithResumeWindowHours(12).
		WithSkipExisting(true).
		Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	if cfg.Resume() {
		t.Error("expected Resume false")
	}
	if cfg.ResumeWindowHours() != 12 {
		t.Errorf("expected ResumeWindowHours 12, got %d", cfg.ResumeWindowHours())
	}
	if !cfg.SkipExisting() {
		t.Error("expected SkipExisting true")
	}
}

func TestWithAntibotSettings(t *testing.T) {
	cfg, err := config.WithDefault("example.org").
		WithUseAntibot(false).
		WithAntibotConcurrency(4).
		WithAntibotTimeoutSecs(15).
		Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	if cfg.UseAntibot() {
		t.Error("expected UseAntibot false")
	}
	if cfg.AntibotConcurrency() != 4 {
		t.Errorf("expected AntibotConcurrency 4, got %d", cfg.AntibotConcurrency())
	}
	if cfg.AntibotTimeoutSecs() != 15 {
		t.Errorf("expected AntibotTimeoutSecs 15, got %d", cfg.AntibotTimeoutSecs())
	}
}

func TestWithRobotsCompliance(t *testing.T) {
	overrides := config.RobotsComplianceConfig{
		Enabled:           true,
		RespectCrawlDelay: false,
		RespectDisallow:   true,
		DefaultUserAgent:  "antibot-acquire",
		CacheTTLHours:     6,
		CrawlDelay: config.CrawlDelaySettingsConfig{
			MinDelay:     time.Second,
			MaxDelay:     5 * time.Second,
			DefaultDelay: 2 * time.Second,
		},
	}

	cfg, err := config.WithDefault("example.org").WithRobotsCompliance(overrides).Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	if cfg.RobotsCompliance().RespectCrawlDelay {
		t.Error("expected RespectCrawlDelay false")
	}
	if cfg.RobotsCompliance().DefaultUserAgent != "antibot-acquire" {
		t.Errorf("expected DefaultUserAgent 'antibot-acquire', got '%s'", cfg.RobotsCompliance().DefaultUserAgent)
	}
}

func TestBuild_ValueSemantics(t *testing.T) {
	original := config.WithDefault("example.org")
	built, err := original.Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	original.WithConcurrency(999)

	rebuilt, err := original.Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if built.Concurrency() == rebuilt.Concurrency() {
		t.Error("expected mutating the builder after Build() to not retroactively change the earlier snapshot")
	}
}

func TestWithConfigFile_FileDoesNotExist(t *testing.T) {
	_, err := config.WithConfigFile("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Errorf("expected ErrFileDoesNotExist, got: %v", err)
	}
}

func TestWithConfigFile_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte("{invalid json content}"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err := config.WithConfigFile(configPath)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
	if !errors.Is(err, config.ErrConfigParsingFail) {
		t.Errorf("expected ErrConfigParsingFail, got: %v", err)
	}
}

func TestWithConfigFile_EmptyJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.json")

	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := config.WithConfigFile(configPath)
	if err == nil {
		t.Fatal("expected error for empty config without site, got nil")
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got: %v", err)
	}
}

func TestWithConfigFile_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialData := `{
		"site": "partial-example.com",
		"concurrency": 12,
		"outputDir": "partial_output"
	}`
	if err := os.WriteFile(configPath, []byte(partialData), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loadedConfig, err := config.WithConfigFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error loading partial config: %v", err)
	}

	if loadedConfig.Site() != "partial-example.com" {
		t.Errorf("expected Site 'partial-example.com', got '%s'", loadedConfig.Site())
	}
	if loadedConfig.Concurrency() != 12 {
		t.Errorf("expected Concurrency 12, got %d", loadedConfig.Concurrency())
	}
	if loadedConfig.OutputDir() != "partial_output" {
		t.Errorf("expected OutputDir 'partial_output', got '%s'", loadedConfig.OutputDir())
	}

	// Defaults preserved for everything not overridden.
	if loadedConfig.ResumeWindowHours() != 6 {
		t.Errorf("expected ResumeWindowHours default 6, got %d", loadedConfig.ResumeWindowHours())
	}
	if loadedConfig.AntibotConcurrency() != 8 {
		t.Errorf("expected AntibotConcurrency default 8, got %d", loadedConfig.AntibotConcurrency())
	}
}

func TestWithConfigFile_ValidCompleteConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(completeConfigJSON()), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loadedConfig, err := config.WithConfigFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error loading valid config: %v", err)
	}

	if loadedConfig.Site() != "my-store.example.com" {
		t.Errorf("expected Site 'my-store.example.com', got '%s'", loadedConfig.Site())
	}
	if loadedConfig.Concurrency() != 64 {
		t.Errorf("expected Concurrency 64, got %d", loadedConfig.Concurrency())
	}
	if loadedConfig.Limit() != 1000 {
		t.Errorf("expected Limit 1000, got %d", loadedConfig.Limit())
	}
	if !loadedConfig.DryRun() {
		t.Error("expected DryRun true")
	}
	if loadedConfig.CaptchaSolving().Enabled != true {
		t.Error("expected captcha solving enabled from config file")
	}
	if loadedConfig.CaptchaSolving().APIKeyEnv != "MY_CAPTCHA_KEY" {
		t.Errorf("expected APIKeyEnv 'MY_CAPTCHA_KEY', got '%s'", loadedConfig.CaptchaSolving().APIKeyEnv)
	}
	if loadedConfig.UserAgentRotation().Strategy != "weighted" {
		t.Errorf("expected strategy 'weighted', got '%s'", loadedConfig.UserAgentRotation().Strategy)
	}
}

func completeConfigJSON() string {
	return `
	{
		"site": "my-store.example.com",
		"concurrency": 64,
		"limit": 1000,
		"dryRun": true,
		"captchaSolving": {
			"enabled": true,
			"apiKeyEnv": "MY_CAPTCHA_KEY",
			"apiUrl": "http://2captcha.com"
		},
		"userAgentRotation": {
			"strategy": "weighted",
			"poolSize": 30
		}
	}
	`
}
