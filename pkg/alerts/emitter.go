package alerts

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/metrics"
	"github.com/cajaflow/cajaflow/pkg/model"
)

// CreateRepository is implemented by postgres.AlertRepository.
type CreateRepository interface {
	Create(ctx context.Context, alert *model.Alert) error
}

// Emitter writes alert outbox rows. Emit has no error return on purpose:
// alert emission can never fail the caller's primary operation, so failures
// land in the log sink and nowhere else.
type Emitter struct {
	repo   CreateRepository
	logger *zap.Logger
}

func NewEmitter(repo CreateRepository, logger *zap.Logger) *Emitter {
	return &Emitter{repo: repo, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, tenantID uuid.UUID, severity model.AlertSeverity, message string, payload model.JSONB) {
	if e == nil || e.repo == nil {
		return
	}
	alert := &model.Alert{
		ID:       uuid.New(),
		TenantID: tenantID,
		Severity: severity,
		Message:  message,
		Payload:  payload,
		Status:   model.AlertStatusPending,
	}
	if err := e.repo.Create(ctx, alert); err != nil {
		e.logger.Error("failed to emit alert",
			zap.String("tenant_id", tenantID.String()),
			zap.String("severity", string(severity)),
			zap.Error(err),
		)
		return
	}
	metrics.AlertsTotal.WithLabelValues(string(severity)).Inc()
}
