// Package main wires the link analysis pipeline into a CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/archivelab/linkmeta/internal/api"
	"github.com/archivelab/linkmeta/internal/archive"
	"github.com/archivelab/linkmeta/internal/cache/sqlite"
	"github.com/archivelab/linkmeta/internal/config"
	"github.com/archivelab/linkmeta/internal/export"
	collyfetcher "github.com/archivelab/linkmeta/internal/fetcher/colly"
	"github.com/archivelab/linkmeta/internal/linkmeta"
	"github.com/archivelab/linkmeta/internal/logging"
	"github.com/archivelab/linkmeta/internal/pipeline"
	"github.com/archivelab/linkmeta/internal/proclog"
	"github.com/archivelab/linkmeta/internal/progress"
	"github.com/archivelab/linkmeta/internal/progress/sinks"
	"github.com/archivelab/linkmeta/internal/ratelimit"
	"github.com/archivelab/linkmeta/internal/resolver"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	force := flag.Bool("force", false, "Re-fetch every URL, bypassing the cache and processing log")
	output := flag.String("output", "", "Output JSONL path (overrides output.path)")
	noBar := flag.Bool("no-progress", false, "Disable the terminal progress bar")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *force, *output, *noBar, flag.Args()); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, force bool, outputOverride string, noBar bool, inputs []string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input archives: pass archive files or directories as arguments")
	}

	sources, err := loadSources(inputs, logger)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		logger.Warn("no URLs found in input archives")
	}

	clock := linkmeta.UTCClock()

	cache, err := sqlite.New(cfg.Cache.Path, clock, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("open content cache: %w", err)
	}
	defer cache.Close()
	if swept, err := cache.Sweep(ctx); err != nil {
		logger.Warn("cache sweep failed", zap.Error(err))
	} else if swept > 0 {
		logger.Info("expired cache entries removed", zap.Int64("count", swept))
	}

	var log linkmeta.ProcessingLog
	procLog, err := proclog.Open(cfg.ProcLog.Path, logger.Named("proclog"))
	if err != nil {
		logger.Warn("processing log unavailable; outcomes will not persist", zap.Error(err))
		log = proclog.Nop{}
	} else {
		defer procLog.Close()
		log = procLog
	}

	penalties, err := cfg.PenaltyTable()
	if err != nil {
		return err
	}
	limiter := ratelimit.New(ratelimit.Config{
		Penalties:   penalties,
		DomainRPS:   cfg.RateLimit.DomainRPS,
		DomainBurst: cfg.RateLimit.DomainBurst,
	}, clock)

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return err
	}
	snapshot := sinks.NewSnapshotSink()
	hubSinks := []progress.Sink{promSink, snapshot, sinks.NewLogSink(logger.Named("progress"))}
	if !noBar {
		hubSinks = append(hubSinks, sinks.NewBarSink())
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("hub")}, hubSinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		srv := api.NewServer(snapshot, registry, logger.Named("api"))
		go func() {
			if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	p, err := pipeline.New(pipeline.Config{
		Workers:     cfg.Pipeline.Concurrency,
		BatchSize:   cfg.Pipeline.BatchSize,
		MaxRequeues: cfg.Pipeline.MaxRequeues,
		SuccessTTL:  cfg.Cache.TTL,
		FailureTTL:  cfg.Cache.FailureTTL,
		Force:       force,
	}, pipeline.Deps{
		Resolver: resolver.New(resolver.Config{
			MaxHops:   cfg.Resolver.MaxHops,
			Timeout:   cfg.Resolver.Timeout,
			UserAgent: cfg.Fetch.UserAgent,
		}, nil, logger.Named("resolver")),
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:        cfg.Fetch.UserAgent,
			Timeout:          cfg.Fetch.Timeout,
			MaxBodyBytes:     cfg.Fetch.MaxBodyBytes,
			SkipContentTypes: cfg.Fetch.SkipContentTypes,
		}, logger.Named("fetcher")),
		Cache:   cache,
		Log:     log,
		Limiter: limiter,
		Hasher:  linkmeta.SHA256Hasher{},
		Clock:   clock,
		Emitter: hub,
		Logger:  logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	records, runErr := p.Run(ctx, sources)

	outPath := cfg.Output.Path
	if outputOverride != "" {
		outPath = outputOverride
	}
	if err := export.WriteFile(outPath, records); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("results written", zap.String("path", outPath), zap.Int("records", len(records)))

	return runErr
}

// loadSources accepts archive files and directories of *_archive.json files.
func loadSources(inputs []string, logger *zap.Logger) ([]linkmeta.Source, error) {
	var sources []linkmeta.Source
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", input, err)
		}
		if info.IsDir() {
			dirSources, err := archive.LoadDir(input, logger)
			if err != nil {
				return nil, err
			}
			sources = append(sources, dirSources...)
			continue
		}
		fileSources, err := archive.LoadFile(input)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fileSources...)
	}
	return sources, nil
}
