package model

import (
	"time"

	"github.com/google/uuid"
)

type EventLogStatus string

const (
	EventLogPending   EventLogStatus = "PENDING"
	EventLogProcessed EventLogStatus = "PROCESSED"
	EventLogFailed    EventLogStatus = "FAILED"
)

// EventLogEntry is the append-only audit record of a dispatched business
// event. Rows are inserted PENDING before the handler runs and updated
// exactly once to PROCESSED or FAILED; they are never deleted. A row that
// stays PENDING means the process died mid-handler and needs operator
// attention.
type EventLogEntry struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	TenantID     uuid.UUID      `gorm:"type:uuid;not null;index:idx_event_log_tenant_time"`
	EventType    string         `gorm:"type:varchar(100);not null;index"`
	Payload      JSONB          `gorm:"type:jsonb"`
	Status       EventLogStatus `gorm:"type:varchar(20);default:'PENDING';index"`
	Result       JSONB          `gorm:"type:jsonb"`
	ErrorMessage string         `gorm:"type:text"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index:idx_event_log_tenant_time"`
	UpdatedAt    time.Time
}

func (EventLogEntry) TableName() string {
	return "event_log"
}
