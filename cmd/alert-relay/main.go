package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/alerts"
	"github.com/cajaflow/cajaflow/pkg/config"
	"github.com/cajaflow/cajaflow/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.AlertTopic,
		Balancer: &kafka.LeastBytes{},
		Async:    false,
	})
	defer writer.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.AlertDLQTopic,
		Balancer: &kafka.LeastBytes{},
		Async:    false,
	})
	defer dlqWriter.Close()

	repo := postgres.NewAlertRepository(db.DB())
	relay := alerts.NewRelay(repo, writer, dlqWriter, logger, cfg.Alerts.PollInterval, cfg.Alerts.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("alert relay stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("alert relay shutting down")
}
