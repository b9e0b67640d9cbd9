package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/model"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// ActiveByTenant returns the tenant's single active credential row, or
// gorm.ErrRecordNotFound.
func (r *CredentialRepository) ActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ProviderCredential, error) {
	var credential model.ProviderCredential
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, model.CredentialActive).
		Order("created_at DESC").
		First(&credential).Error
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

// ActiveByProviderUserID resolves the tenant that owns a provider account.
// Used by webhook reconciliation, which only knows the provider-side user id.
func (r *CredentialRepository) ActiveByProviderUserID(ctx context.Context, providerUserID string) (*model.ProviderCredential, error) {
	var credential model.ProviderCredential
	err := r.db.WithContext(ctx).
		Where("provider_user_id = ? AND status = ?", providerUserID, model.CredentialActive).
		Order("created_at DESC").
		First(&credential).Error
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *CredentialRepository) Insert(ctx context.Context, credential *model.ProviderCredential) error {
	return r.db.WithContext(ctx).Create(credential).Error
}

// DeactivateActive flips every active row for the tenant to INACTIVE. Rows
// are never hard-deleted; history stays for audit.
func (r *CredentialRepository) DeactivateActive(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.ProviderCredential{}).
		Where("tenant_id = ? AND status = ?", tenantID, model.CredentialActive).
		Updates(map[string]interface{}{
			"status":     model.CredentialInactive,
			"updated_at": time.Now().UTC(),
		}).Error
}

// UpdateTokens persists a successful refresh: new token pair, new expiry,
// cleared error state.
func (r *CredentialRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.ProviderCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    expiresAt,
			"status":        model.CredentialActive,
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *CredentialRepository) MarkError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return r.db.WithContext(ctx).
		Model(&model.ProviderCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.CredentialError,
			"error_message": errorMessage,
			"updated_at":    time.Now().UTC(),
		}).Error
}
