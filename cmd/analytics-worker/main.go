package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/smllr/internal"
	"github.com/MagnunAVF/smllr/internal/clicks"
	"github.com/MagnunAVF/smllr/internal/config"
	applog "github.com/MagnunAVF/smllr/internal/logger"
	"github.com/MagnunAVF/smllr/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	applog.InitFromEnv("analytics-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := internal.NewIDGenerator(cfg.NodeID)
	if err != nil {
		slog.Error("Failed to create ID generator", "node_id", cfg.NodeID, "err", err)
		os.Exit(1)
	}

	writeDB, err := store.Open(cfg.DBURL, cfg.GormLogLevel)
	if err != nil {
		slog.Error("Unable to connect to primary database", "err", err)
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

	recorder := clicks.NewRecorder(store.NewPostgresStore(writeDB, ids))
	consumer := clicks.NewConsumer(rabbitCH, recorder, clicks.ConsumerConfig{
		Queue:       cfg.ClickQueue,
		Concurrency: cfg.WorkerConcurrency,
		Prefetch:    cfg.WorkerPrefetch,
	})

	slog.Info("Analytics Worker started. Waiting for click tasks...")
	if err := consumer.Run(ctx); err != nil {
		slog.Error("Analytics Worker stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("Analytics Worker stopped")
}
