package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"house-hunter/config"
	"house-hunter/notify"
	"house-hunter/scheduler"
	"house-hunter/scraper/feed"
	"house-hunter/services"
	"house-hunter/storage"
	"house-hunter/utils"
)

const (
	runTimeout      = 30 * time.Minute
	cleanupSchedule = "30 3 * * *"
	cleanupTimeout  = 5 * time.Minute

	// Sunday morning
	weeklySummarySchedule = "0 8 * * 0"
)

func main() {
	once := flag.Bool("once", false, "Run once and exit")
	testMode := flag.Bool("test", false, "Run once in test mode (no notifications)")
	runScheduler := flag.Bool("scheduler", false, "Start the scheduler for automated runs")
	showStats := flag.Bool("stats", false, "Show ledger statistics")
	cleanup := flag.Bool("cleanup", false, "Delete aged-out, never-notified properties and exit")
	feedPath := flag.String("feed", "", "Listing feed file (overrides HOUSE_HUNTER_FEED_PATH)")
	flag.Parse()

	if !*once && !*testMode && !*runScheduler && !*showStats && !*cleanup {
		flag.Usage()
		return
	}

	logger := utils.NewLogger()
	cfg := config.Load()
	if *feedPath != "" {
		cfg.FeedPath = *feedPath
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := storage.OpenLedger(ctx, cfg.LedgerDriver, cfg.LedgerDSN(), logger, cfg.MaxRetries)
	if err != nil {
		logger.Error("Failed to open ledger: %v", err)
		if cfg.LedgerDriver == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	defer ledger.Close()

	switch {
	case *showStats:
		insights := services.NewInsightService(logger)
		insights.Print(insights.Generate(ledger, cfg.Policy.RecentWindowDays, cfg.Policy.DropThresholdPercent))

	case *cleanup:
		removed, err := ledger.CleanupOldEntries(cfg.Policy.RetentionDays)
		if err != nil {
			logger.Error("Cleanup failed: %v", err)
			os.Exit(1)
		}
		logger.Info("Removed %d properties older than %d days", removed, cfg.Policy.RetentionDays)

	case *runScheduler:
		notifier := notify.NewLogNotifier(logger, cfg.HomeState)
		hunter, closeHunter := buildHunter(cfg, ledger, notifier, logger)
		defer closeHunter()
		if err := schedule(ctx, cfg, hunter, ledger, notifier, logger); err != nil {
			logger.Error("Scheduler error: %v", err)
			os.Exit(1)
		}

	default:
		hunter, closeHunter := buildHunter(cfg, ledger, notify.NewLogNotifier(logger, cfg.HomeState), logger)
		defer closeHunter()

		logger.Info("=== House Hunter single run ===")
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		printResult(hunter.Run(runCtx, *testMode))
	}
}

func buildHunter(cfg *config.Config, ledger *storage.Ledger, notifier notify.Notifier, logger *utils.Logger) (*services.Hunter, func()) {
	var snapshot storage.SnapshotWriter
	closeFn := func() {}

	if cfg.SnapshotCSVPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.SnapshotCSVPath)
		if err != nil {
			logger.Warn("Snapshot CSV disabled: %v", err)
		} else {
			snapshot = csvWriter
			closeFn = func() { _ = csvWriter.Close() }
		}
	}

	hunter := services.NewHunter(
		cfg,
		feed.New(cfg.FeedPath, logger),
		services.NewRuleReviewer(cfg.Policy, cfg.AvoidCities, logger),
		ledger,
		snapshot,
		notifier,
		logger,
	)
	return hunter, closeFn
}

func schedule(ctx context.Context, cfg *config.Config, hunter *services.Hunter, ledger *storage.Ledger, notifier notify.Notifier, logger *utils.Logger) error {
	removed, err := ledger.CleanupOldEntries(cfg.Policy.RetentionDays)
	if err != nil {
		logger.Warn("Startup cleanup failed: %v", err)
	} else {
		logger.Info("Startup cleanup removed %d properties", removed)
	}

	s, err := scheduler.New(cfg.Timezone, logger)
	if err != nil {
		return err
	}

	err = s.Add("house hunt", cfg.Schedule, runTimeout, func(ctx context.Context) error {
		res := hunter.Run(ctx, false)
		logger.Info("Scheduled run %s: found %d, passed %d, notified %d",
			res.RunID, res.Found, len(res.Passed), len(res.Notified))
		return nil
	})
	if err != nil {
		return err
	}

	err = s.Add("ledger cleanup", cleanupSchedule, cleanupTimeout, func(context.Context) error {
		_, err := ledger.CleanupOldEntries(cfg.Policy.RetentionDays)
		return err
	})
	if err != nil {
		return err
	}

	err = s.Add("weekly summary", weeklySummarySchedule, cleanupTimeout, func(ctx context.Context) error {
		return notifier.NotifyWeeklySummary(ctx, ledger.Statistics())
	})
	if err != nil {
		return err
	}

	s.Start()
	fmt.Printf("\n  House Hunter scheduler started (%s, %s)\n", cfg.Schedule, cfg.Timezone)
	for _, line := range s.NextRuns() {
		fmt.Printf("  next: %s\n", line)
	}
	fmt.Printf("  Press Ctrl+C to stop\n\n")

	<-ctx.Done()
	logger.Info("Shutting down scheduler...")
	s.Stop()
	return nil
}

func printResult(r *services.RunResult) {
	sep := strings.Repeat("═", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  HOUSE HUNTER RESULTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("  Run ID                 : %s\n", r.RunID)
	fmt.Printf("  Properties found       : \033[1m%d\033[0m\n", r.Found)
	fmt.Printf("  Passed review          : \033[1m%d\033[0m\n", len(r.Passed))
	fmt.Printf("  Notifications sent     : \033[1m%d\033[0m\n", len(r.Notified))
	fmt.Printf("  Price drop alerts      : \033[1m%d\033[0m\n", r.PriceDropAlerts)
	if r.ClosestMiss != nil {
		fmt.Printf("  Closest miss           : %s (score %.1f)\n", r.ClosestMiss.Property.Address, r.ClosestMiss.Score)
	}
	if r.TestMode {
		fmt.Printf("  \033[1;33mTest mode: notifications were not sent\033[0m\n")
	}

	if len(r.Errors) > 0 {
		fmt.Printf("\n  \033[1;31mErrors: %d\033[0m\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)
}
