package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/metrics"
	"github.com/cajaflow/cajaflow/pkg/model"
)

// Repository is the event-log storage surface. Implemented by
// postgres.EventLogRepository.
type Repository interface {
	Create(ctx context.Context, entry *model.EventLogEntry) error
	MarkProcessed(ctx context.Context, id uint64, result model.JSONB) error
	MarkFailed(ctx context.Context, id uint64, errorMessage string) error
}

// Handler executes one business event. The returned value is serialized
// into the event log row's result column.
type Handler func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error)

// Handlers wires one handler per event type. Every field is required;
// New rejects a partially wired set so an unregistered event type cannot
// exist at runtime.
type Handlers struct {
	StartQRPayment    Handler
	StartPointPayment Handler
	CancelPayment     Handler
	ConnectCredential Handler
	RevokeCredential  Handler
}

// Dispatcher is the synchronous audit wrapper around business operations:
// insert a PENDING event log row, run the handler, terminally update the row
// to PROCESSED or FAILED. It deliberately implements no retries or queuing —
// if the process dies mid-handler the row stays PENDING and is reconciled by
// an operator.
type Dispatcher struct {
	repo   Repository
	table  map[EventType]Handler
	logger *zap.Logger
}

func New(repo Repository, handlers Handlers, logger *zap.Logger) (*Dispatcher, error) {
	table := map[EventType]Handler{
		EventPaymentQRStart:    handlers.StartQRPayment,
		EventPaymentPointStart: handlers.StartPointPayment,
		EventPaymentCancel:     handlers.CancelPayment,
		EventCredentialConnect: handlers.ConnectCredential,
		EventCredentialRevoke:  handlers.RevokeCredential,
	}
	for eventType, handler := range table {
		if handler == nil {
			return nil, fmt.Errorf("no handler wired for event type %q", eventType)
		}
	}
	return &Dispatcher{repo: repo, table: table, logger: logger}, nil
}

// Dispatch records and executes one business event. The PENDING row is
// written before the handler runs and is always terminally updated, whatever
// the handler does — return, error, or panic.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID uuid.UUID, eventType EventType, payload interface{}) (json.RawMessage, error) {
	handler, ok := d.table[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	entry := &model.EventLogEntry{
		TenantID:  tenantID,
		EventType: string(eventType),
		Payload:   toJSONB(rawPayload),
		Status:    model.EventLogPending,
	}
	if err := d.repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create event log entry: %w", err)
	}

	result, err := d.invoke(ctx, handler, tenantID, rawPayload)
	if err != nil {
		metrics.EventsDispatchedTotal.WithLabelValues(string(eventType), "failed").Inc()
		if updateErr := d.repo.MarkFailed(ctx, entry.ID, err.Error()); updateErr != nil {
			// The update step never masks the handler error; the orphaned
			// PENDING row is surfaced through the log instead.
			d.logger.Error("failed to mark event log entry failed",
				zap.Uint64("entry_id", entry.ID),
				zap.Error(updateErr),
			)
		}
		return nil, err
	}

	rawResult, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		rawResult = nil
	}
	metrics.EventsDispatchedTotal.WithLabelValues(string(eventType), "processed").Inc()
	if updateErr := d.repo.MarkProcessed(ctx, entry.ID, toJSONB(rawResult)); updateErr != nil {
		d.logger.Error("failed to mark event log entry processed",
			zap.Uint64("entry_id", entry.ID),
			zap.Error(updateErr),
		)
	}
	return rawResult, nil
}

// invoke runs the handler with panic containment so the caller's terminal
// log update always happens.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, tenantID uuid.UUID, payload json.RawMessage) (result interface{}, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("event handler panicked", zap.Any("panic", recovered))
			err = fmt.Errorf("event handler panicked: %v", recovered)
		}
	}()
	return handler(ctx, tenantID, payload)
}

func toJSONB(raw json.RawMessage) model.JSONB {
	if len(raw) == 0 {
		return nil
	}
	var m model.JSONB
	if err := json.Unmarshal(raw, &m); err != nil {
		// Non-object payloads still get logged, wrapped in an envelope.
		return model.JSONB{"value": string(raw)}
	}
	return m
}
