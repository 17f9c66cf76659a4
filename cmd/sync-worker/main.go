package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentillhq/tillsync/internal/leader"
	"github.com/opentillhq/tillsync/internal/outbox"
	"github.com/opentillhq/tillsync/internal/sales"
	"github.com/opentillhq/tillsync/internal/sender"
	"github.com/opentillhq/tillsync/pkg/config"
	"github.com/opentillhq/tillsync/pkg/instance"
	"github.com/opentillhq/tillsync/pkg/localstore"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/metrics"
	"github.com/opentillhq/tillsync/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ownerID := instance.GetID()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithTerminalID(ctx, ownerID)

	localClient, err := localstore.Open(ctx, cfg.Local, logg)
	if err != nil {
		logg.Error(ctx, "failed to open local store", err)
		os.Exit(1)
	}
	defer func() {
		if err := localClient.Close(); err != nil {
			logg.Error(ctx, "error closing local store", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Warn(ctx, "redis unreachable, leader election will fall back to storage lease")
			redisClient = nil
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logg.Error(ctx, "error closing redis", err)
				}
			}()
		}
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	outboxRepo := outbox.NewRepository(localClient)
	salesRepo := sales.NewRepository(localClient.DB())

	pushSender, err := sender.New(sender.Params{
		Sales:                salesRepo,
		PushURL:              cfg.Sync.PushURL,
		BearerToken:          cfg.Sync.BearerToken,
		Timeout:              cfg.Sync.SendTimeout,
		RetryableServerCodes: cfg.Sync.RetryableErrorCodes,
		Logger:               logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create sender", err)
		os.Exit(1)
	}

	drainer, err := outbox.NewDrainer(outbox.DrainerParams{
		Repository: outboxRepo,
		Sender:     pushSender,
		Logger:     logg,
		Backoff:    outbox.NewBackoffPolicy(cfg.Sync.BackoffBase, cfg.Sync.BackoffCap, cfg.Sync.NonRetryableDelay),
		Metrics:    syncMetrics,
		OwnerID:    ownerID,
		LeaseTTL:   cfg.Sync.AttemptLease,
		BatchSize:  cfg.Sync.BatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create drainer", err)
		os.Exit(1)
	}

	elector, err := leader.New(ctx, leader.Params{
		Name:     "outbox-drain",
		OwnerID:  ownerID,
		LeaseTTL: cfg.Sync.LeaderLease,
		Redis:    redisClient,
		DB:       localClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create elector", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:  cfg,
		Logger:  logg,
		Elector: elector,
		Drainer: drainer,
		Metrics: syncMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create sync worker", err)
		os.Exit(1)
	}

	go serveMetrics(ctx, cfg, logg, registry)

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "sync-worker",
	})
	logg.Info(ctx, "starting sync worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}

func serveMetrics(ctx context.Context, cfg *config.Config, logg *logger.Logger, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}
