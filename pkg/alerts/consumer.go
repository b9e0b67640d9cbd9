package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerAlertRetryCount = "cf-alert-retry-count"
	headerAlertDLQError   = "cf-alert-dlq-error"

	defaultAlertRetryLimit = 3
)

// DeliveryRepository marks alert rows delivered once a worker has handed
// them off. Implemented by postgres.AlertRepository.
type DeliveryRepository interface {
	MarkDelivered(ctx context.Context, alertID uuid.UUID, deliveredAt time.Time) error
}

// DeliverFunc pushes one alert to its destination (ops chat, tenant inbox).
type DeliverFunc func(ctx context.Context, message Message) error

// Consumer reads published alerts from Kafka and delivers them with bounded
// retries. A message that exhausts its retries goes to the DLQ topic with
// the last error attached.
type Consumer struct {
	reader    *kafka.Reader
	dlqWriter *kafka.Writer
	repo      DeliveryRepository
	deliver   DeliverFunc
	logger    *zap.Logger
	maxRetry  int
}

type ConsumerConfig struct {
	Brokers  []string
	ClientID string
	GroupID  string
	Topic    string
	DLQTopic string
	MaxRetry int
}

func NewConsumer(cfg ConsumerConfig, repo DeliveryRepository, deliver DeliverFunc, logger *zap.Logger) *Consumer {
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultAlertRetryLimit
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.GroupID,
			Topic:   cfg.Topic,
		}),
		dlqWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		repo:     repo,
		deliver:  deliver,
		logger:   logger,
		maxRetry: maxRetry,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("alert worker starting", zap.Int("max_retry", c.maxRetry))

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			c.logger.Warn("failed to fetch alert message", zap.Error(err))
			continue
		}

		c.handleMessage(ctx, message)

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			c.logger.Warn("failed to commit alert message", zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return err
	}
	return c.dlqWriter.Close()
}

func (c *Consumer) handleMessage(ctx context.Context, kafkaMessage kafka.Message) {
	var message Message
	if err := json.Unmarshal(kafkaMessage.Value, &message); err != nil {
		c.logger.Error("dropping undecodable alert message", zap.Error(err))
		return
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}
		}
		if lastErr = c.deliver(ctx, message); lastErr == nil {
			c.markDelivered(ctx, message)
			return
		}
		c.logger.Warn("alert delivery failed",
			zap.String("alert_id", message.AlertID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	c.sendDLQ(ctx, kafkaMessage, lastErr)
}

func (c *Consumer) markDelivered(ctx context.Context, message Message) {
	alertID, err := uuid.Parse(message.AlertID)
	if err != nil {
		return
	}
	if err := c.repo.MarkDelivered(ctx, alertID, time.Now()); err != nil {
		c.logger.Warn("failed to mark alert delivered", zap.String("alert_id", message.AlertID), zap.Error(err))
	}
}

func (c *Consumer) sendDLQ(ctx context.Context, original kafka.Message, deliverErr error) {
	headers := append(original.Headers,
		kafka.Header{Key: headerAlertRetryCount, Value: []byte(strconv.Itoa(c.maxRetry))},
		kafka.Header{Key: headerAlertDLQError, Value: []byte(deliverErr.Error())},
	)
	dlqMessage := kafka.Message{
		Key:     original.Key,
		Value:   original.Value,
		Headers: headers,
		Time:    time.Now(),
	}
	if err := c.dlqWriter.WriteMessages(ctx, dlqMessage); err != nil {
		c.logger.Error("failed to write alert to DLQ", zap.Error(err))
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 2 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
