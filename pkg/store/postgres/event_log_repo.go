package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/model"
)

type EventLogRepository struct {
	db *gorm.DB
}

func NewEventLogRepository(db *gorm.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

func (r *EventLogRepository) Create(ctx context.Context, entry *model.EventLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *EventLogRepository) MarkProcessed(ctx context.Context, id uint64, result model.JSONB) error {
	return r.db.WithContext(ctx).
		Model(&model.EventLogEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.EventLogProcessed,
			"result":     result,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *EventLogRepository) MarkFailed(ctx context.Context, id uint64, errorMessage string) error {
	return r.db.WithContext(ctx).
		Model(&model.EventLogEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.EventLogFailed,
			"error_message": errorMessage,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *EventLogRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.EventLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []model.EventLogEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}
