package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	repo := postgres.NewAlertRepository(db.DB())
	consumer := alerts.NewConsumer(alerts.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		GroupID:  cfg.Kafka.AlertGroup,
		Topic:    cfg.Kafka.AlertTopic,
		DLQTopic: cfg.Kafka.AlertDLQTopic,
		MaxRetry: cfg.Alerts.MaxRetry,
	}, repo, newDeliverer(cfg.Alerts.WebhookURL, logger), logger)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("alert worker stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("alert worker shutting down")
	cancel()
}

// newDeliverer posts alerts to the configured ops webhook. Without a URL the
// worker degrades to logging deliveries, which still drains the topic.
func newDeliverer(webhookURL string, logger *zap.Logger) alerts.DeliverFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, message alerts.Message) error {
		if webhookURL == "" {
			logger.Info("alert delivered",
				zap.String("alert_id", message.AlertID),
				zap.String("tenant_id", message.TenantID),
				zap.String("severity", message.Severity),
				zap.String("text", message.Text),
			)
			return nil
		}

		payload, err := json.Marshal(message)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("alert webhook answered %d", resp.StatusCode)
		}
		return nil
	}
}
