package model

import (
	"time"

	"github.com/google/uuid"
)

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "PENDING"
	AttemptProcessing AttemptStatus = "PROCESSING"
	AttemptApproved   AttemptStatus = "APPROVED"
	AttemptRejected   AttemptStatus = "REJECTED"
	AttemptCanceled   AttemptStatus = "CANCELED"
	AttemptError      AttemptStatus = "ERROR"
)

type AttemptFlow string

const (
	// FlowQR collects through a generated QR code the customer scans; the
	// provider reports the outcome asynchronously.
	FlowQR AttemptFlow = "QR"
	// FlowPoint pushes a payment intent to a registered in-store terminal
	// device; state events arrive on the point integration channel.
	FlowPoint AttemptFlow = "POINT"
)

// PaymentAttempt is one payment-collection try for one order. At most one
// non-terminal attempt may exist per (tenant, order); a terminal attempt is
// never reopened, a new row is created instead. The invariant is backed by a
// partial unique index created in the store migration.
type PaymentAttempt struct {
	ID                 uuid.UUID     `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID           uuid.UUID     `gorm:"type:uuid;not null;index:idx_attempts_tenant_order"`
	OrderID            uuid.UUID     `gorm:"type:uuid;not null;index:idx_attempts_tenant_order"`
	Status             AttemptStatus `gorm:"type:varchar(20);default:'PENDING';index"`
	Flow               AttemptFlow   `gorm:"type:varchar(10);not null"`
	AmountCents        int64         `gorm:"not null"`
	TerminalID         string        `gorm:"type:varchar(100)"`
	ProviderPaymentID  string        `gorm:"type:varchar(100);index"`
	QRPayload          string        `gorm:"type:text"`
	ResponsePayload    JSONB         `gorm:"type:jsonb"`
	ErrorPayload       JSONB         `gorm:"type:jsonb"`
	LastNotificationID string        `gorm:"type:varchar(100)"`
	LastProcessedAt    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

// NonTerminalStatuses are the states an attempt can still transition out of.
var NonTerminalStatuses = []AttemptStatus{AttemptPending, AttemptProcessing}

func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptApproved, AttemptRejected, AttemptCanceled, AttemptError:
		return true
	}
	return false
}

func (a *PaymentAttempt) Terminal() bool {
	return a.Status.Terminal()
}
