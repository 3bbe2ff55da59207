package cmd_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cmd "github.com/rohmanhakim/antibot-acquire/internal/cli"
	"github.com/rohmanhakim/antibot-acquire/internal/config"
)

func defaultBuiltConfig(t *testing.T) config.Config {
	t.Helper()
	built, err := config.WithDefault("example.com").Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	return built
}

func TestInitConfigNoFlags(t *testing.T) {
	cmd.ResetFlags()

	cfg, err := cmd.InitConfigWithError("example.com")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	defaultCfg := defaultBuiltConfig(t)
	if cfg.Concurrency() != defaultCfg.Concurrency() {
		t.Errorf("Expected Concurrency %d, got %d", defaultCfg.Concurrency(), cfg.Concurrency())
	}
	if cfg.OutputDir() != defaultCfg.OutputDir() {
		t.Errorf("Expected OutputDir %s, got %s", defaultCfg.OutputDir(), cfg.OutputDir())
	}
	if cfg.DryRun() != defaultCfg.DryRun() {
		t.Errorf("Expected DryRun %t, got %t", defaultCfg.DryRun(), cfg.DryRun())
	}
	if cfg.Resume() != defaultCfg.Resume() {
		t.Errorf("Expected Resume %t, got %t", defaultCfg.Resume(), cfg.Resume())
	}
	if cfg.Site() != "example.com" {
		t.Errorf("Expected Site example.com, got %s", cfg.Site())
	}
}

func TestInitConfigWithEmptySite(t *testing.T) {
	cmd.ResetFlags()

	_, err := cmd.InitConfigWithError("")
	if err == nil {
		t.Fatal("Expected error for empty site, got nil")
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got: %v", err)
	}
}

func TestInitConfigWithConcurrency(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
	}{
		{"Zero concurrency uses default", 0},
		{"Positive concurrency", 5},
		{"Large concurrency", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd.ResetFlags()
			cmd.SetConcurrencyForTest(tt.concurrency)

			cfg, err := cmd.InitConfigWithError("example.com")
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			expected := tt.concurrency
			if tt.concurrency <= 0 {
				expected = defaultBuiltConfig(t).Concurrency()
			}
			if cfg.Concurrency() != expected {
				t.Errorf("Expected Concurrency %d, got %d", expected, cfg.Concurrency())
			}
		})
	}
}

func TestInitConfigWithLimit(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetLimitForTest(250)

	cfg, err := cmd.InitConfigWithError("example.com")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if cfg.Limit() != 250 {
		t.Errorf("Expected Limit 250, got %d", cfg.Limit())
	}
}

func TestInitConfigWithOutputDir(t *testing.T) {
	tests := []struct {
		name      string
		outputDir string
	}{
		{"Empty outputDir uses default", ""},
		{"Custom outputDir", "custom-output"},
		{"Absolute path outputDir", "/tmp/output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd.ResetFlags()
			cmd.SetOutputDirForTest(tt.outputDir)

			cfg, err := cmd.InitConfigWithError("example.com")
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			expected := tt.outputDir
			if expected == "" {
				expected = defaultBuiltConfig(t).OutputDir()
			}
			if cfg.OutputDir() != expected {
				t.Errorf("Expected OutputDir %s, got %s", expected, cfg.OutputDir())
			}
		})
	}
}

func TestInitConfigWithDryRun(t *testing.T) {
	tests := []bool{true, false}
	for _, dryRun := range tests {
		cmd.ResetFlags()
		cmd.SetDryRunForTest(dryRun)

		cfg, err := cmd.InitConfigWithError("example.com")
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if cfg.DryRun() != dryRun {
			t.Errorf("Expected DryRun %t, got %t", dryRun, cfg.DryRun())
		}
	}
}

func TestInitConfigWithResumeSettings(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetResumeForTest(false)
	cmd.SetResumeWindowHoursForTest(12)
	cmd.SetSkipExistingForTest(true)

	cfg, err := cmd.InitConfigWithError("example.com")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if cfg.Resume() {
		t.Errorf("Expected Resume false, got true")
	}
	if cfg.ResumeWindowHours() != 12 {
		t.Errorf("Expected ResumeWindowHours 12, got %d", cfg.ResumeWindowHours())
	}
	if !cfg.SkipExisting() {
		t.Errorf("Expected SkipExisting true, got false")
	}
}

func TestInitConfigWithAntibotSettings(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetUseAntibotForTest(false)
	cmd.SetAntibotConcurrencyForTest(16)
	cmd.SetAntibotTimeoutSecsForTest(45)

	cfg, err := cmd.InitConfigWithError("example.com")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if cfg.UseAntibot() {
		t.Errorf("Expected UseAntibot false, got true")
	}
	if cfg.AntibotConcurrency() != 16 {
		t.Errorf("Expected AntibotConcurrency 16, got %d", cfg.AntibotConcurrency())
	}
	if cfg.AntibotTimeoutSecs() != 45 {
		t.Errorf("Expected AntibotTimeoutSecs 45, got %d", cfg.AntibotTimeoutSecs())
	}
}

func TestInitConfigWithPartialConfigFile(t *testing.T) {
	cmd.ResetFlags()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"site": "test-docs.com",
		"concurrency": 5,
		"outputDir": "test-output",
		"dryRun": true,
		"limit": 50
	}`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cmd.SetConfigFileForTest(configFile)

	cfg, err := cmd.InitConfigWithError("")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if cfg.Site() != "test-docs.com" {
		t.Errorf("Expected Site 'test-docs.com', got %s", cfg.Site())
	}
	if cfg.Concurrency() != 5 {
		t.Errorf("Expected Concurrency 5, got %d", cfg.Concurrency())
	}
	if cfg.OutputDir() != "test-output" {
		t.Errorf("Expected OutputDir 'test-output', got %s", cfg.OutputDir())
	}
	if !cfg.DryRun() {
		t.Errorf("Expected DryRun true, got false")
	}
	if cfg.Limit() != 50 {
		t.Errorf("Expected Limit 50, got %d", cfg.Limit())
	}

	defaultCfg := defaultBuiltConfig(t)
	if cfg.AntibotConcurrency() != defaultCfg.AntibotConcurrency() {
		t.Errorf("Expected AntibotConcurrency to use default, got %d", cfg.AntibotConcurrency())
	}
}

func TestInitConfigWithPartialConfigFileNoSite(t *testing.T) {
	cmd.ResetFlags()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"concurrency": 5,
		"outputDir": "test-output"
	}`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cmd.SetConfigFileForTest(configFile)

	_, err := cmd.InitConfigWithError("")
	if err == nil {
		t.Errorf("Should error")
	} else if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig error, got: %v", err)
	}
}

func TestInitConfigWithNonExistentFile(t *testing.T) {
	cmd.ResetFlags()

	cmd.SetConfigFileForTest("/path/that/does/not/exist/config.json")

	_, err := cmd.InitConfigWithError("example.com")
	if err == nil {
		t.Errorf("Expected error for non-existent config file, got none")
	}
	if err != nil && !strings.Contains(err.Error(), "error initializing config from file") {
		t.Errorf("Expected error wrapping config file init failure, got: %v", err)
	}
}

func TestInitConfigWithInvalidConfigFile(t *testing.T) {
	cmd.ResetFlags()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configFile, []byte(`{invalid json content}`), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cmd.SetConfigFileForTest(configFile)

	_, err := cmd.InitConfigWithError("example.com")
	if err == nil {
		t.Errorf("Expected error for invalid config file, got none")
	}
}

func TestResetFlags(t *testing.T) {
	cmd.SetConfigFileForTest("test.json")
	cmd.SetSiteForTest("should-not-persist.com")
	cmd.SetConcurrencyForTest(99)
	cmd.SetOutputDirForTest("custom")
	cmd.SetDryRunForTest(true)
	cmd.SetResumeForTest(false)
	cmd.SetUseAntibotForTest(false)

	cmd.ResetFlags()

	cfg, err := cmd.InitConfigWithError("example.com")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	defaultCfg := defaultBuiltConfig(t)
	if cfg.Concurrency() != defaultCfg.Concurrency() {
		t.Errorf("After ResetFlags, expected Concurrency %d, got %d", defaultCfg.Concurrency(), cfg.Concurrency())
	}
	if cfg.OutputDir() != defaultCfg.OutputDir() {
		t.Errorf("After ResetFlags, expected OutputDir %s, got %s", defaultCfg.OutputDir(), cfg.OutputDir())
	}
	if cfg.DryRun() != defaultCfg.DryRun() {
		t.Errorf("After ResetFlags, expected DryRun %t, got %t", defaultCfg.DryRun(), cfg.DryRun())
	}
	if cfg.Resume() != defaultCfg.Resume() {
		t.Errorf("After ResetFlags, expected Resume %t, got %t", defaultCfg.Resume(), cfg.Resume())
	}
	if cfg.UseAntibot() != defaultCfg.UseAntibot() {
		t.Errorf("After ResetFlags, expected UseAntibot %t, got %t", defaultCfg.UseAntibot(), cfg.UseAntibot())
	}
}

func TestInitConfigCompleteIntegration(t *testing.T) {
	cmd.ResetFlags()

	cmd.SetConcurrencyForTest(7)
	cmd.SetLimitForTest(300)
	cmd.SetOutputDirForTest("/tmp/antibot-acquire")
	cmd.SetDryRunForTest(true)
	cmd.SetResumeWindowHoursForTest(3)
	cmd.SetAntibotConcurrencyForTest(4)
	cmd.SetAntibotTimeoutSecsForTest(20)

	cfg, err := cmd.InitConfigWithError("docs.example.com")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if cfg.Site() != "docs.example.com" {
		t.Errorf("Expected Site docs.example.com, got %s", cfg.Site())
	}
	if cfg.Concurrency() != 7 {
		t.Errorf("Expected Concurrency 7, got %d", cfg.Concurrency())
	}
	if cfg.Limit() != 300 {
		t.Errorf("Expected Limit 300, got %d", cfg.Limit())
	}
	if cfg.OutputDir() != "/tmp/antibot-acquire" {
		t.Errorf("Expected OutputDir '/tmp/antibot-acquire', got %s", cfg.OutputDir())
	}
	if !cfg.DryRun() {
		t.Errorf("Expected DryRun true, got false")
	}
	if cfg.ResumeWindowHours() != 3 {
		t.Errorf("Expected ResumeWindowHours 3, got %d", cfg.ResumeWindowHours())
	}
	if cfg.AntibotConcurrency() != 4 {
		t.Errorf("Expected AntibotConcurrency 4, got %d", cfg.AntibotConcurrency())
	}
	if cfg.AntibotTimeoutSecs() != 20 {
		t.Errorf("Expected AntibotTimeoutSecs 20, got %d", cfg.AntibotTimeoutSecs())
	}
}
