package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/model"
)

type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *AlertRepository) ListPending(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var alerts []model.Alert
	err := r.db.WithContext(ctx).
		Where("status = ?", model.AlertStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

func (r *AlertRepository) MarkPublished(ctx context.Context, alertID uuid.UUID, publishedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"status":       model.AlertStatusPublished,
			"published_at": publishedAt,
		}).Error
}

func (r *AlertRepository) MarkDelivered(ctx context.Context, alertID uuid.UUID, deliveredAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"status":       model.AlertStatusDelivered,
			"delivered_at": deliveredAt,
		}).Error
}

func (r *AlertRepository) MarkFailed(ctx context.Context, alertID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"status": model.AlertStatusFailed,
		}).Error
}
