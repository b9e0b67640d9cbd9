package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/model"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *model.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.PaymentAttempt, error) {
	var attempt model.PaymentAttempt
	err := r.db.WithContext(ctx).First(&attempt, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ActiveByTenantOrder returns the single non-terminal attempt for the
// (tenant, order) pair, or gorm.ErrRecordNotFound.
func (r *AttemptRepository) ActiveByTenantOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error) {
	var attempt model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ? AND status IN ?", tenantID, orderID, model.NonTerminalStatuses).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ActiveByProviderPaymentID resolves a non-terminal attempt by the
// provider-assigned transaction/intent id. Used by the point integration
// channel, which never carries our order reference.
func (r *AttemptRepository) ActiveByProviderPaymentID(ctx context.Context, tenantID uuid.UUID, providerPaymentID string) (*model.PaymentAttempt, error) {
	var attempt model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider_payment_id = ? AND status IN ?", tenantID, providerPaymentID, model.NonTerminalStatuses).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// Update applies a partial update. Only the columns present in updates are
// written.
func (r *AttemptRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *AttemptRepository) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]model.PaymentAttempt, error) {
	var attempts []model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Order("created_at DESC").
		Find(&attempts).Error
	return attempts, err
}
