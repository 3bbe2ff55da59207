package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/exporter"
	"github.com/rohmanhakim/antibot-acquire/internal/runner"
	"github.com/rohmanhakim/antibot-acquire/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile            string
	site               string
	concurrency        int
	limit              int
	dryRun             bool
	resume             bool
	resumeWindowHours  int
	skipExisting       bool
	useAntibot         bool
	antibotConcurrency int
	antibotTimeoutSecs int
	outputDir          string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "antibot-acquire",
	Short: "An anti-bot HTTP acquisition core for hostile web sources.",
	Long: `antibot-acquire drives HTTP requests against bot-protected sites:
rotating proxies and user agents, respecting robots.txt, detecting blocks
and CAPTCHAs in response bodies, escalating to a challenge-solver when a
guard page is detected, and exporting results incrementally so a crashed
run can resume without reprocessing completed URLs.`,
	Run: func(cmd *cobra.Command, args []string) {
		if site == "" {
			fmt.Fprintf(os.Stderr, "Error: --site is required.\n")
			cmd.Usage()
			os.Exit(1)
		}

		cfg := InitConfig(site)

		fmt.Printf("Configuration initialized successfully\n")
		fmt.Printf("Site: %s\n", cfg.Site())
		fmt.Printf("Concurrency: %d\n", cfg.Concurrency())
		fmt.Printf("Limit: %d\n", cfg.Limit())
		fmt.Printf("Dry Run: %t\n", cfg.DryRun())
		fmt.Printf("Resume: %t (window %dh)\n", cfg.Resume(), cfg.ResumeWindowHours())
		fmt.Printf("Skip Existing: %t\n", cfg.SkipExisting())
		fmt.Printf("Use Antibot: %t (concurrency %d, timeout %ds)\n", cfg.UseAntibot(), cfg.AntibotConcurrency(), cfg.AntibotTimeoutSecs())
		fmt.Printf("Output Directory: %s\n", cfg.OutputDir())

		if !cfg.UseAntibot() {
			return
		}

		os.Exit(runAcquisition(cfg))
	},
}

// runAcquisition wires the anti-bot engine, the incremental exporter, and
// the bounded worker pool together for one site run, reading the URL
// stream from stdin (acquisition's upstream discovery is external) and
// returning the process exit code.
func runAcquisition(cfg config.Config) int {
	lock, err := exporter.AcquireProcessLock(os.TempDir(), "export_"+cfg.Site())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	defer tel.Logger.Sync()

	runID := uuid.New().String()
	tel.Logger = tel.Logger.With(zap.String("run_id", runID))
	fmt.Printf("Run ID: %s\n", runID)

	engine, err := runner.Build(cfg, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	if err := engine.EnsureProxyPool(ctx); err != nil {
		tel.Logger.Warn("initial proxy pool fetch failed", zap.Error(err))
	}
	go engine.MaintenanceLoop(ctx)

	siteDir := filepath.Join(cfg.OutputDir(), "sites", cfg.Site())
	exportPath := filepath.Join(siteDir, "exports", cfg.Site()+".json")
	partialPath := filepath.Join(siteDir, "temp", "partial.jsonl")

	var writer *exporter.Writer
	existingExport := loadExistingExport(exportPath)
	if !cfg.DryRun() {
		writer = exporter.New(partialPath, cfg.Resume(), cfg.ResumeWindowHours())
		if _, err := writer.Prepare(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
		if err := writer.Open(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
	}

	alreadyExported := make(map[string]struct{}, len(existingExport))
	for _, p := range existingExport {
		if u, ok := p["url"].(string); ok {
			alreadyExported[u] = struct{}{}
		}
	}

	reqs := make(chan runner.Request, cfg.AntibotConcurrency())
	go func() {
		defer close(reqs)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if writer != nil && cfg.SkipExisting() {
				if writer.HasProcessed(line) {
					continue
				}
				if _, ok := alreadyExported[line]; ok {
					continue
				}
			}
			select {
			case reqs <- runner.Request{URL: line}:
			case <-ctx.Done():
				return
			}
		}
	}()

	summary, runErr := runner.Run(ctx, engine.Coordinator(), writer, reqs, cfg.AntibotConcurrency(), cfg.Site(), "antibot-acquire", cfg.Limit())
	if runErr != nil {
		tel.Logger.Error("acquisition run ended with an error", zap.Error(runErr))
	}

	fmt.Printf("Processed: %d (success %d, failed %d, total seen %d)\n", summary.Processed, summary.Success, summary.Failed, summary.Total)

	exitCode := 0
	if ctx.Err() != nil {
		exitCode = 130
	}

	if writer != nil {
		finalized, err := writer.Finalize()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
		merged := exporter.MergeProducts(existingExport, finalized)
		if err := exporter.FinalizeExport(exportPath, merged); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
		if err := writer.Cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
	}

	return exitCode
}

// loadExistingExport reads a prior full export's products, if one exists,
// so a resumed run can skip already-exported URLs and a finalized export
// never loses products a crashed run already wrote out in full.
func loadExistingExport(path string) []exporter.Product {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var products []exporter.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil
	}
	return products
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&site, "site", "", "site domain to acquire against")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "number of concurrent acquisition workers")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 0, "maximum number of URLs to process (0 for unlimited)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "run without writing export artifacts")
	rootCmd.PersistentFlags().BoolVar(&resume, "resume", true, "resume from an existing partial export")
	rootCmd.PersistentFlags().BoolVar(&skipExisting, "skip-existing", false, "skip URLs already present in a prior full export")
	rootCmd.PersistentFlags().IntVar(&resumeWindowHours, "resume-window-hours", 0, "discard a partial export older than this many hours (0 uses default)")
	rootCmd.PersistentFlags().BoolVar(&useAntibot, "use-antibot", true, "enable the anti-bot acquisition core")
	rootCmd.PersistentFlags().IntVar(&antibotConcurrency, "antibot-concurrency", 0, "concurrent anti-bot coordinator workers")
	rootCmd.PersistentFlags().IntVar(&antibotTimeoutSecs, "antibot-timeout", 0, "per-request timeout in seconds")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "root directory for persisted state and export artifacts")

	noAntibot := rootCmd.PersistentFlags().Bool("no-antibot", false, "disable the anti-bot acquisition core (overrides --use-antibot)")
	noResume := rootCmd.PersistentFlags().Bool("no-resume", false, "discard any existing partial export (overrides --resume)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *noAntibot {
			useAntibot = false
		}
		if *noResume {
			resume = false
		}
	}
}

// InitConfig reads in config file and CLI flags, exiting the process on error.
// site is mandatory unless a config file supplies one.
func InitConfig(site string) config.Config {
	cfg, err := InitConfigWithError(site)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in config file and CLI flags, returning any errors.
// This makes it easier to test error cases.
func InitConfigWithError(siteArg string) (config.Config, error) {
	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	if siteArg == "" {
		return config.Config{}, fmt.Errorf("%w: site cannot be empty", config.ErrInvalidConfig)
	}

	fmt.Println("No config file specified. Using default flag values or environment variables")

	configBuilder := config.WithDefault(siteArg)

	if concurrency > 0 {
		configBuilder = configBuilder.WithConcurrency(concurrency)
	}
	if limit > 0 {
		configBuilder = configBuilder.WithLimit(limit)
	}
	if dryRun {
		configBuilder = configBuilder.WithDryRun(dryRun)
	}
	configBuilder = configBuilder.WithResume(resume)
	if resumeWindowHours > 0 {
		configBuilder = configBuilder.WithResumeWindowHours(resumeWindowHours)
	}
	if skipExisting {
		configBuilder = configBuilder.WithSkipExisting(skipExisting)
	}
	configBuilder = configBuilder.WithUseAntibot(useAntibot)
	if antibotConcurrency > 0 {
		configBuilder = configBuilder.WithAntibotConcurrency(antibotConcurrency)
	}
	if antibotTimeoutSecs > 0 {
		configBuilder = configBuilder.WithAntibotTimeoutSecs(antibotTimeoutSecs)
	}
	if outputDir != "" {
		configBuilder = configBuilder.WithOutputDir(outputDir)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	site = ""
	concurrency = 0
	limit = 0
	dryRun = false
	resume = true
	resumeWindowHours = 0
	skipExisting = false
	useAntibot = true
	antibotConcurrency = 0
	antibotTimeoutSecs = 0
	outputDir = ""
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetSiteForTest(s string) {
	site = s
}

func SetConcurrencyForTest(conc int) {
	concurrency = conc
}

func SetLimitForTest(l int) {
	limit = l
}

func SetDryRunForTest(dry bool) {
	dryRun = dry
}

func SetResumeForTest(r bool) {
	resume = r
}

func SetResumeWindowHoursForTest(h int) {
	resumeWindowHours = h
}

func SetSkipExistingForTest(skip bool) {
	skipExisting = skip
}

func SetUseAntibotForTest(use bool) {
	useAntibot = use
}

func SetAntibotConcurrencyForTest(conc int) {
	antibotConcurrency = conc
}

func SetAntibotTimeoutSecsForTest(secs int) {
	antibotTimeoutSecs = secs
}

func SetOutputDirForTest(dir string) {
	outputDir = dir
}
