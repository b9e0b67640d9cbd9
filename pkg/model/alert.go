package model

import (
	"time"

	"github.com/google/uuid"
)

type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "INFO"
	AlertWarning  AlertSeverity = "WARNING"
	AlertCritical AlertSeverity = "CRITICAL"
)

const (
	AlertStatusPending   = "pending"
	AlertStatusPublished = "published"
	AlertStatusDelivered = "delivered"
	AlertStatusFailed    = "failed"
)

// Alert is an outbox row for a tenant- or operator-facing notification.
// Emission is fire-and-forget from the emitting code path; the relay
// publishes pending rows to Kafka and the worker marks them delivered.
type Alert struct {
	ID          uuid.UUID     `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID     `gorm:"type:uuid;not null;index"`
	Severity    AlertSeverity `gorm:"type:varchar(20);not null"`
	Message     string        `gorm:"type:text;not null"`
	Payload     JSONB         `gorm:"type:jsonb"`
	Status      string        `gorm:"type:varchar(20);not null;default:'pending';index"`
	PublishedAt *time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime;not null"`
}

func (Alert) TableName() string {
	return "alerts"
}
