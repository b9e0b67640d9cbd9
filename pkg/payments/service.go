package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/credentials"
	"github.com/cajaflow/cajaflow/pkg/eventbus"
	"github.com/cajaflow/cajaflow/pkg/metrics"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/orders"
	"github.com/cajaflow/cajaflow/pkg/provider"
)

// Conflict reason codes surfaced to callers. These are precondition
// violations, never retried automatically.
const (
	ReasonDuplicateAttempt  = "duplicate_attempt"
	ReasonOrderNotClosed    = "order_not_closed"
	ReasonOrderTotalInvalid = "order_total_invalid"
	ReasonNotConnected      = "not_connected"
	ReasonReconnectRequired = "reconnect_required"
)

// ConflictError reports a violated precondition for starting or mutating an
// attempt. For duplicate attempts it names the existing row so staff UI can
// offer "cancel and retry".
type ConflictError struct {
	Reason         string
	ExistingID     uuid.UUID
	ExistingStatus model.AttemptStatus
}

func (e *ConflictError) Error() string {
	if e.Reason == ReasonDuplicateAttempt {
		return fmt.Sprintf("active payment attempt %s already exists in status %s", e.ExistingID, e.ExistingStatus)
	}
	return "payment attempt precondition failed: " + e.Reason
}

// AttemptRepository is implemented by postgres.AttemptRepository.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *model.PaymentAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.PaymentAttempt, error)
	ActiveByTenantOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error)
	ActiveByProviderPaymentID(ctx context.Context, tenantID uuid.UUID, providerPaymentID string) (*model.PaymentAttempt, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]model.PaymentAttempt, error)
}

// OrderTotals is the collaborator from order management.
type OrderTotals interface {
	GetOrderTotal(ctx context.Context, tenantID, orderID uuid.UUID) (orders.OrderTotal, error)
}

// CredentialSource yields a live provider credential for a tenant.
type CredentialSource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*credentials.Credential, error)
}

// CollectionAPI is the slice of the provider client the ledger drives.
type CollectionAPI interface {
	CreateQROrder(ctx context.Context, accessToken, providerUserID, externalPosID string, req provider.QROrderRequest) (*provider.QROrderResponse, error)
	CreatePointIntent(ctx context.Context, accessToken, deviceID string, req provider.PointIntentRequest) (*provider.PointIntent, error)
	CancelPointIntent(ctx context.Context, accessToken, deviceID, intentID string) error
	ListTerminals(ctx context.Context, accessToken string) ([]provider.Terminal, error)
}

// TransitionFields are the optional columns a status transition may carry.
// Only non-nil fields are written.
type TransitionFields struct {
	ProviderPaymentID *string
	TerminalID        *string
	QRPayload         *string
	ResponsePayload   model.JSONB
	ErrorPayload      model.JSONB
	NotificationID    *string
	ProcessedAt       *time.Time
}

type Service struct {
	attempts AttemptRepository
	orders   OrderTotals
	creds    CredentialSource
	api      CollectionAPI
	bus      *eventbus.Bus
	logger   *zap.Logger
}

func NewService(attempts AttemptRepository, orderTotals OrderTotals, creds CredentialSource, api CollectionAPI, bus *eventbus.Bus, logger *zap.Logger) *Service {
	return &Service{
		attempts: attempts,
		orders:   orderTotals,
		creds:    creds,
		api:      api,
		bus:      bus,
		logger:   logger,
	}
}

// StartQR opens a QR collection attempt for a closed order. The attempt is
// created PENDING and moves to PROCESSING once the provider publishes the
// in-store order.
func (s *Service) StartQR(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error) {
	amount, err := s.admit(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	credential, err := s.credential(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.create(ctx, tenantID, orderID, model.FlowQR, amount, "")
	if err != nil {
		return nil, err
	}

	qr, err := s.api.CreateQROrder(ctx, credential.AccessToken, credential.ProviderUserID, s.posID(tenantID), provider.QROrderRequest{
		ExternalReference: orderID.String(),
		Title:             "Order " + shortID(orderID),
		TotalAmount:       centsToUnits(amount),
		Items: []provider.QRItem{{
			Title:       "Order " + shortID(orderID),
			UnitPrice:   centsToUnits(amount),
			Quantity:    1,
			UnitMeasure: "unit",
			TotalAmount: centsToUnits(amount),
		}},
	})
	if err != nil {
		s.failAttempt(ctx, attempt, err)
		return nil, err
	}

	qrPayload := qr.QRData
	providerOrderID := qr.InStoreOrderID
	if err := s.Transition(ctx, attempt, model.AttemptProcessing, TransitionFields{
		QRPayload:         &qrPayload,
		ProviderPaymentID: &providerOrderID,
		ResponsePayload:   model.JSONB{"in_store_order_id": qr.InStoreOrderID},
	}); err != nil {
		return nil, err
	}
	attempt.QRPayload = qr.QRData
	return attempt, nil
}

// StartPoint pushes a collection intent to a registered terminal device.
func (s *Service) StartPoint(ctx context.Context, tenantID, orderID uuid.UUID, terminalID string) (*model.PaymentAttempt, error) {
	amount, err := s.admit(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	credential, err := s.credential(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.create(ctx, tenantID, orderID, model.FlowPoint, amount, terminalID)
	if err != nil {
		return nil, err
	}

	intent, err := s.api.CreatePointIntent(ctx, credential.AccessToken, terminalID, provider.PointIntentRequest{Amount: amount})
	if err != nil {
		s.failAttempt(ctx, attempt, err)
		return nil, err
	}

	intentID := intent.ID
	if err := s.Transition(ctx, attempt, model.AttemptProcessing, TransitionFields{
		ProviderPaymentID: &intentID,
		ResponsePayload:   model.JSONB{"intent_id": intent.ID, "state": intent.State},
	}); err != nil {
		return nil, err
	}
	attempt.ProviderPaymentID = intent.ID
	return attempt, nil
}

// CancelActive cancels the non-terminal attempt for an order, if one exists.
// For terminal-flow attempts the provider-side cancel is best effort only:
// the database transition proceeds whether or not the physical device
// acknowledges in time.
func (s *Service) CancelActive(ctx context.Context, tenantID, orderID uuid.UUID) (bool, error) {
	attempt, err := s.attempts.ActiveByTenantOrder(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	if attempt.Flow == model.FlowPoint && attempt.TerminalID != "" && attempt.ProviderPaymentID != "" {
		if credential, credErr := s.creds.Get(ctx, tenantID); credErr != nil {
			s.logger.Warn("skipping provider-side cancel, no credential",
				zap.String("attempt_id", attempt.ID.String()),
				zap.Error(credErr),
			)
		} else if cancelErr := s.api.CancelPointIntent(ctx, credential.AccessToken, attempt.TerminalID, attempt.ProviderPaymentID); cancelErr != nil {
			s.logger.Warn("provider-side intent cancel failed, proceeding with local cancel",
				zap.String("attempt_id", attempt.ID.String()),
				zap.Error(cancelErr),
			)
		}
	}

	if err := s.Transition(ctx, attempt, model.AttemptCanceled, TransitionFields{}); err != nil {
		return false, err
	}
	return true, nil
}

// Transition applies a status change plus any supplied optional fields, then
// announces the change on the event bus.
func (s *Service) Transition(ctx context.Context, attempt *model.PaymentAttempt, status model.AttemptStatus, fields TransitionFields) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if fields.ProviderPaymentID != nil {
		updates["provider_payment_id"] = *fields.ProviderPaymentID
	}
	if fields.TerminalID != nil {
		updates["terminal_id"] = *fields.TerminalID
	}
	if fields.QRPayload != nil {
		updates["qr_payload"] = *fields.QRPayload
	}
	if fields.ResponsePayload != nil {
		updates["response_payload"] = fields.ResponsePayload
	}
	if fields.ErrorPayload != nil {
		updates["error_payload"] = fields.ErrorPayload
	}
	if fields.NotificationID != nil {
		updates["last_notification_id"] = *fields.NotificationID
	}
	if fields.ProcessedAt != nil {
		updates["last_processed_at"] = *fields.ProcessedAt
	}

	if err := s.attempts.Update(ctx, attempt.ID, updates); err != nil {
		return err
	}
	attempt.Status = status

	metrics.PaymentAttemptsTotal.WithLabelValues(attempt.TenantID.String(), string(attempt.Flow), string(status)).Inc()
	s.announce(ctx, attempt)
	return nil
}

func (s *Service) GetAttempt(ctx context.Context, tenantID, attemptID uuid.UUID) (*model.PaymentAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.TenantID != tenantID {
		return nil, gorm.ErrRecordNotFound
	}
	return attempt, nil
}

func (s *Service) ActiveByTenantOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error) {
	return s.attempts.ActiveByTenantOrder(ctx, tenantID, orderID)
}

func (s *Service) ActiveByProviderPaymentID(ctx context.Context, tenantID uuid.UUID, providerPaymentID string) (*model.PaymentAttempt, error) {
	return s.attempts.ActiveByProviderPaymentID(ctx, tenantID, providerPaymentID)
}

// ListAttempts returns the full attempt history for an order, newest first.
func (s *Service) ListAttempts(ctx context.Context, tenantID, orderID uuid.UUID) ([]model.PaymentAttempt, error) {
	return s.attempts.ListByOrder(ctx, tenantID, orderID)
}

// ListTerminals proxies the tenant's registered point devices.
func (s *Service) ListTerminals(ctx context.Context, tenantID uuid.UUID) ([]provider.Terminal, error) {
	credential, err := s.credential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.api.ListTerminals(ctx, credential.AccessToken)
}

// admit verifies the order can be collected on: it must exist, be closed,
// and total a positive amount.
func (s *Service) admit(ctx context.Context, tenantID, orderID uuid.UUID) (int64, error) {
	total, err := s.orders.GetOrderTotal(ctx, tenantID, orderID)
	if err != nil {
		return 0, err
	}
	if !total.IsClosed {
		return 0, &ConflictError{Reason: ReasonOrderNotClosed}
	}
	if total.AmountCents <= 0 {
		return 0, &ConflictError{Reason: ReasonOrderTotalInvalid}
	}
	return total.AmountCents, nil
}

func (s *Service) credential(ctx context.Context, tenantID uuid.UUID) (*credentials.Credential, error) {
	credential, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			return nil, &ConflictError{Reason: ReasonNotConnected}
		}
		return nil, err
	}
	if credential.Status == model.CredentialError {
		return nil, &ConflictError{Reason: ReasonReconnectRequired}
	}
	return credential, nil
}

// create inserts the PENDING row behind the single-active-attempt guard.
// The read-then-insert race is closed by the partial unique index; a
// violation from a concurrent insert is translated into the same conflict
// error the friendly pre-check produces.
func (s *Service) create(ctx context.Context, tenantID, orderID uuid.UUID, flow model.AttemptFlow, amount int64, terminalID string) (*model.PaymentAttempt, error) {
	if existing, err := s.attempts.ActiveByTenantOrder(ctx, tenantID, orderID); err == nil {
		return nil, &ConflictError{
			Reason:         ReasonDuplicateAttempt,
			ExistingID:     existing.ID,
			ExistingStatus: existing.Status,
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	attempt := &model.PaymentAttempt{
		ID:          uuid.New(),
		TenantID:    tenantID,
		OrderID:     orderID,
		Status:      model.AttemptPending,
		Flow:        flow,
		AmountCents: amount,
		TerminalID:  terminalID,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if strings.Contains(err.Error(), "idx_payment_attempts_single_active") {
			if existing, lookupErr := s.attempts.ActiveByTenantOrder(ctx, tenantID, orderID); lookupErr == nil {
				return nil, &ConflictError{
					Reason:         ReasonDuplicateAttempt,
					ExistingID:     existing.ID,
					ExistingStatus: existing.Status,
				}
			}
			return nil, &ConflictError{Reason: ReasonDuplicateAttempt}
		}
		return nil, err
	}

	metrics.PaymentAttemptsTotal.WithLabelValues(tenantID.String(), string(flow), string(model.AttemptPending)).Inc()
	return attempt, nil
}

// failAttempt parks an attempt in ERROR after the provider rejected the
// collection intent. Failures here are logged, not returned: the original
// provider error is what the caller needs to see.
func (s *Service) failAttempt(ctx context.Context, attempt *model.PaymentAttempt, cause error) {
	if err := s.Transition(ctx, attempt, model.AttemptError, TransitionFields{
		ErrorPayload: model.JSONB{"error": cause.Error()},
	}); err != nil {
		s.logger.Error("failed to mark attempt in error",
			zap.String("attempt_id", attempt.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) announce(ctx context.Context, attempt *model.PaymentAttempt) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent("attempt_status", eventbus.AttemptEvent{
		AttemptID: attempt.ID.String(),
		TenantID:  attempt.TenantID.String(),
		OrderID:   attempt.OrderID.String(),
		Status:    string(attempt.Status),
		Flow:      string(attempt.Flow),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, eventbus.ChannelAttempt, event); err != nil {
		s.logger.Debug("failed to publish attempt event", zap.Error(err))
	}
}

// posID derives the tenant's QR point-of-sale external id registered with
// the provider during onboarding.
func (s *Service) posID(tenantID uuid.UUID) string {
	return "cajaflow-" + shortID(tenantID)
}

func shortID(id uuid.UUID) string {
	return strings.SplitN(id.String(), "-", 2)[0]
}

func centsToUnits(cents int64) float64 {
	return float64(cents) / 100
}
