package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/smllr/internal"
	"github.com/MagnunAVF/smllr/internal/api"
	"github.com/MagnunAVF/smllr/internal/cache"
	"github.com/MagnunAVF/smllr/internal/clicks"
	"github.com/MagnunAVF/smllr/internal/config"
	applog "github.com/MagnunAVF/smllr/internal/logger"
	"github.com/MagnunAVF/smllr/internal/redirect"
	"github.com/MagnunAVF/smllr/internal/shorten"
	"github.com/MagnunAVF/smllr/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	applog.InitFromEnv("api-service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := internal.NewIDGenerator(cfg.NodeID)
	if err != nil {
		slog.Error("Failed to create ID generator", "node_id", cfg.NodeID, "err", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBURL, cfg.GormLogLevel)
	if err != nil {
		slog.Error("Unable to connect to database", "err", err)
		os.Exit(1)
	}

	slog.Info("Running GORM Auto-Migration...")
	if err := store.Migrate(db); err != nil {
		slog.Error("Failed to auto-migrate database", "err", err)
		os.Exit(1)
	}
	slog.Info("Migration complete.")

	rdb, err := cache.NewClient(ctx, cfg)
	if err != nil {
		slog.Error("Unable to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	urlCache := cache.NewShortURLCache(rdb)
	if err := urlCache.Bootstrap(ctx); err != nil {
		slog.Error("Unable to bootstrap short URL cache index", "err", err)
		os.Exit(1)
	}

	rabbitConn, err := amqp091.Dial(cfg.RabbitMQURL)
	if err != nil {
		slog.Error("Unable to connect to RabbitMQ", "err", err)
		os.Exit(1)
	}
	defer rabbitConn.Close()

	rabbitCH, err := rabbitConn.Channel()
	if err != nil {
		slog.Error("Unable to open RabbitMQ channel", "err", err)
		os.Exit(1)
	}
	defer rabbitCH.Close()

	if err := clicks.DeclareQueue(rabbitCH, cfg.ClickQueue); err != nil {
		slog.Error("Failed to declare click queue", "err", err)
		os.Exit(1)
	}

	pg := store.NewPostgresStore(db, ids)
	redirects := redirect.NewService(urlCache, pg, clicks.NewPublisher(rabbitCH, cfg.ClickQueue), redirect.Config{
		ExpirationWindow: cfg.ExpirationWindow(),
		CacheTimeout:     cfg.CacheTimeout,
		AnalyticsTimeout: cfg.AnalyticsTimeout,
	})

	app := api.NewApp(&api.Handlers{
		AppDomain:  cfg.AppDomain,
		Redirector: redirects,
		Shortener:  shorten.NewService(pg, ids, cfg.MaxAnonShortURLs),
		Stats:      pg,
	})

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down API Service")
		if err := app.Shutdown(); err != nil {
			slog.Error("Shutdown failed", "err", err)
		}
	}()

	slog.Info("Starting API Service", "port", cfg.APIPort)
	if err := app.Listen(cfg.APIPort); err != nil {
		slog.Error("API Service failed", "err", err)
		os.Exit(1)
	}
}
