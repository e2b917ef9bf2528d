package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"keepwarm/internal/api"
	"keepwarm/internal/clock"
	"keepwarm/internal/config"
	"keepwarm/internal/logger"
	"keepwarm/internal/metrics"
	"keepwarm/internal/notifier"
	"keepwarm/internal/records"
	"keepwarm/internal/scheduler"
	"keepwarm/internal/service"
	"keepwarm/internal/storage"
	"keepwarm/internal/storage/file"
	"keepwarm/internal/storage/postgres"
	"keepwarm/internal/storage/sqlite"
	"keepwarm/internal/visitor"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "keepwarm: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	defer logger.Flush(log)

	clk, err := clock.New(cfg.TimeZone)
	if err != nil {
		return err
	}

	// Cancelled on SIGINT or SIGTERM; the foundation for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	docs, err := openDocuments(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer docs.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	storeOpts := []records.Option{records.WithMaxLogs(cfg.MaxLogs)}
	if cfg.SeedFile != "" {
		seed, err := records.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, records.WithSeed(seed))
	}
	store := records.New(docs, clk, log.Named("records"), m, storeOpts...)
	store.Load(ctx)

	alerts := notifier.New(docs, clk, log.Named("notifier"), m,
		notifier.WithAPIBase(cfg.TelegramAPIBase),
		notifier.WithDefaults(cfg.TelegramChatID, cfg.TelegramBotToken),
	)
	alerts.Load(ctx)

	quiet, err := scheduler.ParseWindow(cfg.QuietStart, cfg.QuietEnd)
	if err != nil {
		return err
	}
	v := visitor.New(visitor.NewHTTPClient(cfg.VisitTimeout), store, alerts, clk, log.Named("visitor"), m)
	continuous := scheduler.NewContinuous(store, v, clk, cfg.VisitInterval, log)
	windowed := scheduler.NewWindowed(store, v, clk, scheduler.WindowedConfig{
		Quiet:     quiet,
		Interval:  cfg.VisitInterval,
		Supervise: cfg.SupervisorInterval,
	}, log, m)
	maintenance, err := scheduler.NewMaintenance(store, clk, scheduler.MaintenanceConfig{
		FlushEvery:    cfg.LogFlushInterval,
		SweepSchedule: cfg.LogSweepSchedule,
		Retention:     cfg.LogRetention,
	}, log)
	if err != nil {
		return err
	}

	svc := service.New(store, alerts, windowed, log.Named("service"))
	server := api.NewServer(cfg.HTTPPort, api.NewRouter(svc, reg, log.Named("api")), log)

	continuous.Start(ctx)
	windowed.Start(ctx)
	maintenance.Start(ctx)
	serverErrs := server.Start()

	log.Info("keepwarm is running",
		zap.String("storage", cfg.DatabaseDriver),
		zap.String("time_zone", cfg.TimeZone),
		zap.Bool("alerts_configured", alerts.Status().Configured),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, starting graceful shutdown")
	case err := <-serverErrs:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Stop the schedulers first so no new visits start.
	continuous.Stop()
	windowed.Stop()
	maintenance.Stop(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	svc.Flush(shutdownCtx)
	log.Info("application shut down gracefully")
	return runErr
}

func openDocuments(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.DocumentStore, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		log.Info("initializing SQLite document store", zap.String("path", cfg.DatabaseURL))
		s, err := sqlite.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		log.Info("initializing PostgreSQL document store")
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return s, nil
	default:
		log.Info("initializing file document store", zap.String("dir", cfg.DataDir))
		s, err := file.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
		return s, nil
	}
}
