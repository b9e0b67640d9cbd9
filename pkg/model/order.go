package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderOpen   OrderStatus = "OPEN"
	OrderClosed OrderStatus = "CLOSED"
	OrderVoided OrderStatus = "VOIDED"
)

// Order is the slice of the order aggregate the payment engine needs: whether
// the order is closed and what it totals. Full order management lives
// elsewhere.
type Order struct {
	ID         uuid.UUID   `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   uuid.UUID   `gorm:"type:uuid;not null;index"`
	Tenant     *Tenant     `gorm:"foreignKey:TenantID"`
	Status     OrderStatus `gorm:"type:varchar(20);default:'OPEN';index"`
	TotalCents int64       `gorm:"not null;default:0"`
	ClosedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}
