package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/model"
)

// Repository is the outbox surface the relay polls. Implemented by
// postgres.AlertRepository.
type Repository interface {
	ListPending(ctx context.Context, limit int) ([]model.Alert, error)
	MarkPublished(ctx context.Context, alertID uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, alertID uuid.UUID) error
}

// Relay drains pending alert rows into Kafka. Publish failures divert the
// alert to the DLQ topic and mark the row failed.
type Relay struct {
	repo         Repository
	writer       *kafka.Writer
	dlqWriter    *kafka.Writer
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
}

type Message struct {
	AlertID   string      `json:"alert_id"`
	TenantID  string      `json:"tenant_id"`
	Severity  string      `json:"severity"`
	Text      string      `json:"text"`
	Payload   model.JSONB `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

type DLQMessage struct {
	Alert    Message   `json:"alert"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func NewRelay(repo Repository, writer, dlqWriter *kafka.Writer, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		repo:         repo,
		writer:       writer,
		dlqWriter:    dlqWriter,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("alert relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("alert relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.processPending(ctx)
		}
	}
}

func (r *Relay) processPending(ctx context.Context) {
	alerts, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("failed to list pending alerts", zap.Error(err))
		return
	}

	for _, alert := range alerts {
		if err := r.publishAlert(ctx, alert); err != nil {
			r.logger.Warn("failed to publish alert", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		}
	}
}

func (r *Relay) publishAlert(ctx context.Context, alert model.Alert) error {
	message := Message{
		AlertID:   alert.ID.String(),
		TenantID:  alert.TenantID.String(),
		Severity:  string(alert.Severity),
		Text:      alert.Message,
		Payload:   alert.Payload,
		CreatedAt: alert.CreatedAt,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(alert.TenantID.String()),
		Value: payload,
		Time:  time.Now(),
	}

	if err := r.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		r.logger.Warn("failed to publish to kafka, sending to DLQ", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		return r.publishDLQ(ctx, message, err, alert.ID)
	}

	if err := r.repo.MarkPublished(ctx, alert.ID, time.Now()); err != nil {
		r.logger.Warn("failed to mark alert published", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		return err
	}

	return nil
}

func (r *Relay) publishDLQ(ctx context.Context, message Message, publishErr error, alertID uuid.UUID) error {
	dlq := DLQMessage{
		Alert:    message,
		Error:    publishErr.Error(),
		FailedAt: time.Now(),
	}

	payload, err := json.Marshal(dlq)
	if err != nil {
		return err
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(message.AlertID),
		Value: payload,
		Time:  time.Now(),
	}

	if err := r.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return err
	}

	if err := r.repo.MarkFailed(ctx, alertID); err != nil {
		r.logger.Warn("failed to mark alert failed", zap.Error(err), zap.String("alert_id", alertID.String()))
		return err
	}

	return nil
}
