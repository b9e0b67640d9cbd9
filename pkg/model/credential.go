package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "ACTIVE"
	CredentialInactive CredentialStatus = "INACTIVE"
	CredentialError    CredentialStatus = "ERROR"
)

// ProviderCredential is one OAuth grant from the payment provider for one
// tenant. Tokens are encrypted at rest. Replacing a grant deactivates the
// old row and inserts a new one; live rows never have their tokens updated
// in place, so the full grant history stays auditable.
//
// At most one row per tenant is ACTIVE and not soft-deleted at any time.
type ProviderCredential struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Tenant         *Tenant   `gorm:"foreignKey:TenantID"`
	AccessToken    string    `gorm:"type:text;not null"`
	RefreshToken   string    `gorm:"type:text"`
	ExpiresAt      *time.Time
	ApplicationID  string           `gorm:"type:varchar(100)"`
	ProviderUserID string           `gorm:"type:varchar(100);index"`
	Email          string           `gorm:"type:varchar(255)"`
	Scopes         pq.StringArray   `gorm:"type:text[]"`
	LiveMode       bool             `gorm:"default:true"`
	Status         CredentialStatus `gorm:"type:varchar(20);default:'ACTIVE';index"`
	ErrorMessage   string           `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (ProviderCredential) TableName() string {
	return "provider_credentials"
}
