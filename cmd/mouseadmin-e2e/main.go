package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ternarybob/mouseadmin-e2e/internal/common"
	"github.com/ternarybob/mouseadmin-e2e/internal/harness"
	"github.com/ternarybob/mouseadmin-e2e/internal/interfaces"
	"github.com/ternarybob/mouseadmin-e2e/internal/scenario"
	"github.com/ternarybob/mouseadmin-e2e/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	scenarioFile = flag.String("scenario", "", "Workflow YAML file (overrides config, default: built-in mouseadmin workflow)")
	headless     = flag.Bool("headless", false, "Run the browser headless (overrides config)")
	pause        = flag.String("pause", "", "Post-failure inspection pause, e.g. 30m or 0s (overrides config)")
	schedule     = flag.String("schedule", "", "Cron schedule for repeated runs, e.g. \"@every 1h\" (overrides config)")
	history      = flag.Int("history", 0, "Print the last N recorded runs and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mouseadmin-e2e version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	os.Exit(run())
}

func run() int {
	if len(configFiles) == 0 {
		if _, err := os.Stat("mouseadmin-e2e.toml"); err == nil {
			configFiles = append(configFiles, "mouseadmin-e2e.toml")
		}
	}

	// defaults -> file1 -> file2 -> ... -> env -> CLI
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		common.GetLogger().Error().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		return 2
	}
	common.ApplyFlagOverrides(config, flagOverrides())
	if err := config.Validate(); err != nil {
		common.GetLogger().Error().Err(err).Msg("Invalid configuration")
		return 2
	}

	logger := common.InitLogger(config, "")
	common.InstallCrashHandler(config.Output.ResultsDir)
	defer common.RecoverWithCrashFile()

	var runs interfaces.RunStorage
	if config.Storage.Badger.Enabled {
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			logger.Error().Err(err).Msg("Run history unavailable")
		} else {
			defer db.Close()
			runs = badger.NewRunStorage(db, logger)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		return printHistory(ctx, runs, *history)
	}

	common.PrintBanner(common.GetVersion())

	wf, err := scenario.LoadWorkflow(config.Scenario.File)
	if err != nil {
		logger.Error().Err(err).Str("file", config.Scenario.File).Msg("Failed to load workflow")
		return 2
	}

	logger.Info().
		Strs("config_files", configFiles).
		Str("workflow", wf.Name).
		Str("base_url", config.Service.BaseURL).
		Bool("headless", config.Browser.Headless).
		Msg("Configuration loaded")

	// A nil logger gives every run its own harness.log in its results directory
	h := harness.New(config, nil, runs, os.Stderr)

	if config.Scenario.Schedule != "" {
		scheduler, err := harness.NewScheduler(h, wf, config.Scenario.Schedule, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create scheduler")
			return 2
		}
		if err := scheduler.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Scheduler failed")
			return 1
		}
		return 0
	}

	if _, err := h.Run(ctx, wf); err != nil {
		return 1
	}
	return 0
}

// flagOverrides collects only the flags given on the command line
func flagOverrides() common.FlagOverrides {
	overrides := common.FlagOverrides{
		Scenario: *scenarioFile,
		Pause:    *pause,
		Schedule: *schedule,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			overrides.Headless = headless
		}
	})
	return overrides
}

func printHistory(ctx context.Context, runs interfaces.RunStorage, limit int) int {
	if runs == nil {
		fmt.Fprintln(os.Stderr, "run history is disabled (storage.badger.enabled = false)")
		return 2
	}
	records, err := runs.ListRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list runs: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTARTED\tDURATION\tSTATUS\tFAILED PHASE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Workflow, r.StartedAt.Format(time.DateTime), r.Duration().Round(time.Millisecond), r.Status, r.FailedPhase)
	}
	if err := w.Flush(); err != nil {
		return 1
	}
	return 0
}
