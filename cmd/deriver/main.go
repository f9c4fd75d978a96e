// Command deriver reduces agent interaction event logs into queryable
// session, turn, span, and tool rows.
//
// In one-shot mode (-once) it derives every session under the data
// directory and exits. By default it serves the derived rows over HTTP and
// watches the data directory, re-deriving sessions as their event files
// change.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/trajectory-deriver/internal/api"
	"github.com/tjfontaine/trajectory-deriver/internal/config"
	"github.com/tjfontaine/trajectory-deriver/internal/derive"
	"github.com/tjfontaine/trajectory-deriver/internal/ingest"
	"github.com/tjfontaine/trajectory-deriver/internal/runner"
	"github.com/tjfontaine/trajectory-deriver/internal/storage/sqldb"
	"github.com/tjfontaine/trajectory-deriver/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		once       = flag.Bool("once", false, "derive all sessions and exit")
	)
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdown, err := telemetry.Init("trajectory-deriver", cfg.Telemetry.Exporter, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := sqldb.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	adapter := &ingest.Adapter{}
	if cfg.Ingest.EstimateTokens {
		est, err := ingest.NewTokenEstimator()
		if err != nil {
			log.Fatalf("Failed to load tokenizer: %v", err)
		}
		adapter.Estimator = est
	}

	opts := derive.Options{
		GraceWindow:      cfg.Derivation.GraceWindow,
		CrossTurnPairing: cfg.Derivation.CrossTurnPairing,
	}
	run := runner.New(store, opts, cfg.Runner.Workers, logger)

	runBatch := func(ctx context.Context) (*runner.BatchReport, error) {
		sessions, err := adapter.LoadDir(cfg.Ingest.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return run.RunBatch(ctx, sessions)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := runBatch(ctx)
	if err != nil {
		log.Fatalf("Initial batch failed: %v", err)
	}
	logger.Info("initial batch complete",
		slog.String("run_id", report.RunID),
		slog.Int("derived", report.Derived),
		slog.Int("failed", report.Failed))

	if *once {
		if report.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	if cfg.Ingest.Watch {
		watcher, err := ingest.NewWatcher(cfg.Ingest.DataDir, logger)
		if err != nil {
			log.Fatalf("Failed to start watcher: %v", err)
		}
		changed := make(chan string, 64)
		go func() {
			if err := watcher.Run(ctx, changed); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
		}()
		go func() {
			for convDir := range changed {
				sessionID, events, err := adapter.LoadSessionDir(convDir)
				if err != nil {
					logger.Warn("reload failed",
						slog.String("dir", convDir),
						slog.String("error", err.Error()))
					continue
				}
				if err := run.DeriveSession(ctx, sessionID, events); err != nil {
					logger.Error("re-derivation failed",
						slog.String("session_id", sessionID),
						slog.String("error", err.Error()))
				}
			}
		}()
	}

	server := api.New(cfg.Server.Port, store, runBatch, logger)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping deriver")
}
