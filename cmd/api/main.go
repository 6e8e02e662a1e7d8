package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	api "thumbnail-service/internal/api"
	"thumbnail-service/internal/broker"
	"thumbnail-service/internal/config"
	"thumbnail-service/internal/logging"
	"thumbnail-service/internal/ratelimit"
	"thumbnail-service/internal/store"
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
		logger.Error("api stopped", slog.String("error", err.Error()))
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

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		logger.Info("upload rate limiting enabled", slog.String("redis", cfg.RedisAddr))
	}

	server := api.New(cfg, broker.New(st, cfg.MaxImagePixels, logger), limiter, tr.ContentType(), logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", slog.String("addr", httpServer.Addr), slog.String("store", cfg.StoreDriver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.EmbeddedWorker {
		sup := worker.NewSupervisor(func() *worker.Worker {
			return worker.New(st, tr.Transform, worker.Options{PollInterval: cfg.WorkerPollInterval, Logger: logger})
		}, worker.SupervisorOptions{
			HealthInterval: cfg.HealthInterval,
			ShutdownGrace:  cfg.ShutdownGrace,
			StallAfter:     cfg.StallAfter,
			Logger:         logger,
		})
		g.Go(func() error { return sup.Run(gctx) })
	}

	return g.Wait()
}
