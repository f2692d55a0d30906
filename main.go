package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"complex-watch/config"
	"complex-watch/scraper/naver"
	"complex-watch/services"
	"complex-watch/storage"
	"complex-watch/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLoggerWithLevel(cfg.LogLevel, cfg.LogEncoding)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Complex Watch starting ===")

	ids, err := cfg.TrackedComplexes()
	if err != nil {
		logger.Error("Failed to load tracked complexes: %v", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		logger.Error("No complexes to track. Set COMPLEXES or COMPLEXES_FILE.")
		os.Exit(1)
	}

	names, err := cfg.ComplexNames()
	if err != nil {
		logger.Error("Failed to load complex names: %v", err)
		os.Exit(1)
	}

	logger.Info("Config: complexes %v | backend %s | concurrency %d | rate %dms | empty policy %s",
		ids, cfg.StorageBackend, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.EmptySnapshotPolicy)

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StorageBackend, err)
		if cfg.StorageBackend == config.BackendPostgres {
			logger.Error("Make sure PostgreSQL is running, or set STORAGE_BACKEND=bolt")
		}
		os.Exit(1)
	}
	defer store.Close()

	var csvWriter storage.ChangeWriter
	if cfg.ChangesCSVPath != "" {
		w, err := storage.NewCSVWriter(cfg.ChangesCSVPath)
		if err != nil {
			logger.Error("Failed to create CSV writer: %v", err)
			os.Exit(1)
		}
		defer w.Close()
		csvWriter = w
	}

	tracker := services.NewTracker(naver.New(cfg, logger), store, logger, services.TrackerOptions{
		StallLimit:  cfg.StallLimit,
		MaxAttempts: cfg.MaxAttempts,
		CommitEmpty: cfg.CommitEmpty(),
		Names:       names,
	})
	printer := services.NewDigestPrinter(logger)

	run := func() {
		runOnce(ctx, cfg, logger, tracker, printer, csvWriter, ids)
	}

	if cfg.Schedule == "" {
		run()
		return
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.Schedule, run); err != nil {
		logger.Error("Invalid SCHEDULE %q: %v", cfg.Schedule, err)
		os.Exit(1)
	}

	logger.Info("Scheduled tracking with %q, waiting for signal", cfg.Schedule)
	c.Start()
	<-ctx.Done()

	logger.Info("Shutting down, waiting for running session")
	<-c.Stop().Done()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.StorageBackend == config.BackendBolt {
		s, err := storage.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.NewPostgresStore(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runOnce(
	ctx context.Context,
	cfg *config.Config,
	logger *utils.Logger,
	tracker *services.Tracker,
	printer *services.DigestPrinter,
	csvWriter storage.ChangeWriter,
	ids []string,
) {
	start := time.Now()
	pool := utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs)
	outcomes := tracker.TrackAll(ctx, ids, pool)

	var tracked, skipped, failed int
	for _, o := range outcomes {
		switch {
		case errors.Is(o.Err, services.ErrEmptySnapshot):
			skipped++
		case o.Err != nil:
			failed++
		default:
			tracked++
			if csvWriter != nil && len(o.Result.Changes) > 0 {
				if err := csvWriter.WriteChanges(o.Result.Changes); err != nil {
					logger.Error("CSV write failed for %s: %v", o.CollectionID, err)
				}
			}
		}
	}
	logger.Info("Run finished in %s: %d tracked, %d skipped, %d failed",
		time.Since(start).Round(time.Second), tracked, skipped, failed)

	if ctx.Err() != nil {
		return
	}

	since := time.Now().Add(-cfg.DigestWindow)
	digests, err := tracker.Digest(ctx, ids, since)
	if err != nil {
		logger.Error("Failed to build digest: %v", err)
		return
	}
	printer.Print(digests, since)

	if cfg.MarkReadAfterDigest {
		n, err := tracker.MarkRead(ctx, ids, time.Now())
		if err != nil {
			logger.Error("Failed to mark changes as read: %v", err)
			return
		}
		logger.Info("Marked %d changes as read", n)
	}
}
