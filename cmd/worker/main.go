package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"thumbnail-service/internal/config"
	"thumbnail-service/internal/logging"
	"thumbnail-service/internal/store"
	"thumbnail-service/internal/telemetry"
	"thumbnail-service/internal/thumbnail"
	"thumbnail-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault().Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tr := thumbnail.New(thumbnail.Options{
		Width:      cfg.ThumbnailWidth,
		Height:     cfg.ThumbnailHeight,
		Background: cfg.Background(),
		Format:     cfg.ThumbnailFormat,
		MaxPixels:  cfg.MaxImagePixels,
	})

	// Worker names default to worker-N; prefix with the host so replicas are
	// distinguishable in logs.
	host, _ := os.Hostname()
	var seq int
	sup := worker.NewSupervisor(func() *worker.Worker {
		seq++
		opts := worker.Options{PollInterval: cfg.WorkerPollInterval, Logger: logger}
		if host != "" {
			opts.Name = fmt.Sprintf("%s-worker-%d", host, seq)
		}
		return worker.New(st, tr.Transform, opts)
	}, worker.SupervisorOptions{
		HealthInterval: cfg.HealthInterval,
		ShutdownGrace:  cfg.ShutdownGrace,
		StallAfter:     cfg.StallAfter,
		Logger:         logger,
	})

	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		defer metrics.Close()
		logger.Info("worker started",
			slog.String("store", cfg.StoreDriver),
			slog.Duration("poll_interval", cfg.WorkerPollInterval),
			slog.Duration("shutdown_grace", cfg.ShutdownGrace),
		)
		return sup.Run(gctx)
	})
	return g.Wait()
}
