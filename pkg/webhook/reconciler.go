package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/credentials"
	"github.com/cajaflow/cajaflow/pkg/metrics"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/payments"
	"github.com/cajaflow/cajaflow/pkg/provider"
)

// Notification is the provider's webhook body. The provider may deliver
// notifications out of order and more than once; nothing here is trusted to
// be fresh or unique.
type Notification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
	UserID   json.Number `json:"user_id"`
	LiveMode bool        `json:"live_mode"`
}

// Result is the reconciliation outcome. The reconciler never propagates an
// error to the HTTP layer: Handled=false with a detail means the endpoint
// should answer non-2xx so the provider redelivers; Handled=true always
// acknowledges, including for notification types this system ignores.
type Result struct {
	Handled bool
	Detail  string
}

// CredentialResolver is the slice of the credential service the reconciler
// drives.
type CredentialResolver interface {
	ResolveByProviderUserID(ctx context.Context, providerUserID string) (*credentials.Credential, error)
	Get(ctx context.Context, tenantID uuid.UUID) (*credentials.Credential, error)
	Disconnect(ctx context.Context, tenantID uuid.UUID) error
}

// AttemptLedger is the slice of the payments service the reconciler drives.
type AttemptLedger interface {
	ActiveByTenantOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error)
	ActiveByProviderPaymentID(ctx context.Context, tenantID uuid.UUID, providerPaymentID string) (*model.PaymentAttempt, error)
	Transition(ctx context.Context, attempt *model.PaymentAttempt, status model.AttemptStatus, fields payments.TransitionFields) error
}

type PaymentFetcher interface {
	GetPayment(ctx context.Context, accessToken, paymentID string) (*provider.Payment, error)
}

type AlertSink interface {
	Emit(ctx context.Context, tenantID uuid.UUID, severity model.AlertSeverity, message string, payload model.JSONB)
}

// Deduper is the advisory fast-path duplicate filter. May be nil.
type Deduper interface {
	Seen(ctx context.Context, notificationID string) bool
	Mark(ctx context.Context, notificationID string)
}

// paymentStatusMap translates provider payment statuses into attempt
// states. Anything unrecognized maps to ERROR: an unknown provider status
// must surface for investigation, never silently count as success.
var paymentStatusMap = map[string]model.AttemptStatus{
	"approved":     model.AttemptApproved,
	"authorized":   model.AttemptApproved,
	"in_process":   model.AttemptProcessing,
	"in_mediation": model.AttemptProcessing,
	"pending":      model.AttemptPending,
	"rejected":     model.AttemptRejected,
	"cancelled":    model.AttemptCanceled,
	"refunded":     model.AttemptCanceled,
	"charged_back": model.AttemptError,
}

// pointActionMap translates terminal lifecycle actions. Unrecognized
// actions are acknowledged without mutation.
var pointActionMap = map[string]model.AttemptStatus{
	"state_FINISHED": model.AttemptApproved,
	"state_CANCELED": model.AttemptCanceled,
	"state_ERROR":    model.AttemptError,
}

type Reconciler struct {
	creds        CredentialResolver
	ledger       AttemptLedger
	fetcher      PaymentFetcher
	alerts       AlertSink
	dedup        Deduper
	fetchTimeout time.Duration
	logger       *zap.Logger
}

func NewReconciler(creds CredentialResolver, ledger AttemptLedger, fetcher PaymentFetcher, alerts AlertSink, dedup Deduper, fetchTimeout time.Duration, logger *zap.Logger) *Reconciler {
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	return &Reconciler{
		creds:        creds,
		ledger:       ledger,
		fetcher:      fetcher,
		alerts:       alerts,
		dedup:        dedup,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// Process reconciles one notification against the attempt ledger or the
// credential store. Signature verification has already happened at the HTTP
// layer; everything past this point assumes an authentic but possibly
// duplicated, stale or irrelevant message.
func (r *Reconciler) Process(ctx context.Context, n Notification) (result Result) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("webhook reconciliation panicked",
				zap.String("notification_id", n.ID.String()),
				zap.Any("panic", recovered),
			)
			result = Result{Handled: false, Detail: fmt.Sprintf("internal error: %v", recovered)}
		}
		outcome := "unhandled"
		if result.Handled {
			outcome = "handled"
		}
		metrics.WebhookNotificationsTotal.WithLabelValues(n.Type, outcome).Inc()
		metrics.WebhookProcessingDuration.WithLabelValues(n.Type).Observe(time.Since(start).Seconds())
	}()

	switch n.Type {
	case "payment":
		return r.handlePayment(ctx, n)
	case "point_integration":
		return r.handlePointIntegration(ctx, n)
	case "connect", "mp-connect":
		return r.handleConnect(ctx, n)
	default:
		// The contract with the provider: always acknowledge types this
		// system does not act on, or redelivery never stops.
		return Result{Handled: true, Detail: "ignored notification type " + n.Type}
	}
}

func (r *Reconciler) handlePayment(ctx context.Context, n Notification) Result {
	credential, result := r.resolveTenant(ctx, n)
	if credential == nil {
		return result
	}

	notificationID := n.ID.String()
	if r.dedup != nil && r.dedup.Seen(ctx, notificationID) {
		return Result{Handled: true, Detail: "duplicate notification"}
	}

	// Go through Get so a near-expiry token is refreshed before the fetch.
	accessToken := credential.AccessToken
	if live, err := r.creds.Get(ctx, credential.TenantID); err == nil {
		accessToken = live.AccessToken
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	payment, err := r.fetcher.GetPayment(fetchCtx, accessToken, n.Data.ID)
	if err != nil {
		// Let the provider redeliver; the caller decides via Handled=false.
		return Result{Handled: false, Detail: "failed to fetch payment details: " + err.Error()}
	}

	orderID, err := uuid.Parse(payment.ExternalReference)
	if err != nil {
		return Result{Handled: true, Detail: "external reference is not an order id"}
	}

	attempt, err := r.ledger.ActiveByTenantOrder(ctx, credential.TenantID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The provider reports events the business layer has no open
			// attempt for (e.g. a payment made outside a collection flow).
			return Result{Handled: true, Detail: "integration-only event, no active attempt"}
		}
		return Result{Handled: false, Detail: "failed to load attempt: " + err.Error()}
	}

	if attempt.LastNotificationID == notificationID {
		return Result{Handled: true, Detail: "duplicate notification"}
	}

	status, known := paymentStatusMap[payment.Status]
	if !known {
		r.logger.Warn("unrecognized provider payment status",
			zap.String("status", payment.Status),
			zap.String("attempt_id", attempt.ID.String()),
		)
		status = model.AttemptError
	}

	now := time.Now().UTC()
	providerPaymentID := fmt.Sprintf("%d", payment.ID)
	fields := payments.TransitionFields{
		ProviderPaymentID: &providerPaymentID,
		NotificationID:    &notificationID,
		ProcessedAt:       &now,
		ResponsePayload: model.JSONB{
			"status":        payment.Status,
			"status_detail": payment.StatusDetail,
		},
	}
	if status == model.AttemptError {
		fields.ErrorPayload = model.JSONB{
			"status":        payment.Status,
			"status_detail": payment.StatusDetail,
		}
	}

	if err := r.ledger.Transition(ctx, attempt, status, fields); err != nil {
		return Result{Handled: false, Detail: "failed to update attempt: " + err.Error()}
	}

	if r.dedup != nil {
		r.dedup.Mark(ctx, notificationID)
	}
	if status.Terminal() {
		r.alerts.Emit(ctx, credential.TenantID, severityFor(status),
			fmt.Sprintf("payment attempt %s for order %s finished %s", attempt.ID, attempt.OrderID, status),
			model.JSONB{
				"attempt_id": attempt.ID.String(),
				"order_id":   attempt.OrderID.String(),
				"status":     string(status),
				"flow":       string(attempt.Flow),
			})
	}
	return Result{Handled: true, Detail: "attempt updated to " + string(status)}
}

func (r *Reconciler) handlePointIntegration(ctx context.Context, n Notification) Result {
	credential, result := r.resolveTenant(ctx, n)
	if credential == nil {
		return result
	}

	status, known := pointActionMap[n.Action]
	if !known {
		return Result{Handled: true, Detail: "ignored point action " + n.Action}
	}

	notificationID := n.ID.String()
	if r.dedup != nil && r.dedup.Seen(ctx, notificationID) {
		return Result{Handled: true, Detail: "duplicate notification"}
	}

	// Point events carry the provider intent id, never our order reference.
	attempt, err := r.ledger.ActiveByProviderPaymentID(ctx, credential.TenantID, n.Data.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{Handled: true, Detail: "integration-only event, no active attempt"}
		}
		return Result{Handled: false, Detail: "failed to load attempt: " + err.Error()}
	}

	if attempt.LastNotificationID == notificationID {
		return Result{Handled: true, Detail: "duplicate notification"}
	}

	now := time.Now().UTC()
	fields := payments.TransitionFields{
		NotificationID: &notificationID,
		ProcessedAt:    &now,
		ResponsePayload: model.JSONB{
			"action": n.Action,
		},
	}
	if err := r.ledger.Transition(ctx, attempt, status, fields); err != nil {
		return Result{Handled: false, Detail: "failed to update attempt: " + err.Error()}
	}

	if r.dedup != nil {
		r.dedup.Mark(ctx, notificationID)
	}
	r.alerts.Emit(ctx, credential.TenantID, severityFor(status),
		fmt.Sprintf("terminal payment attempt %s finished %s", attempt.ID, status),
		model.JSONB{
			"attempt_id":  attempt.ID.String(),
			"order_id":    attempt.OrderID.String(),
			"status":      string(status),
			"terminal_id": attempt.TerminalID,
		})
	return Result{Handled: true, Detail: "attempt updated to " + string(status)}
}

func (r *Reconciler) handleConnect(ctx context.Context, n Notification) Result {
	if n.Action != "application.deauthorized" {
		return Result{Handled: true, Detail: "ignored connect action " + n.Action}
	}

	credential, result := r.resolveTenant(ctx, n)
	if credential == nil {
		return result
	}

	if err := r.creds.Disconnect(ctx, credential.TenantID); err != nil {
		return Result{Handled: false, Detail: "failed to deactivate credential: " + err.Error()}
	}

	r.alerts.Emit(ctx, credential.TenantID, model.AlertCritical,
		"provider authorization revoked, reconnect required",
		model.JSONB{"provider_user_id": credential.ProviderUserID})
	return Result{Handled: true, Detail: "credential deactivated"}
}

// resolveTenant maps the provider account id to its owning credential. An
// unknown account is acknowledged without processing — retry-storming the
// provider over an account this system never connected helps nobody.
func (r *Reconciler) resolveTenant(ctx context.Context, n Notification) (*credentials.Credential, Result) {
	credential, err := r.creds.ResolveByProviderUserID(ctx, n.UserID.String())
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			r.logger.Info("notification for unknown provider account",
				zap.String("provider_user_id", n.UserID.String()),
				zap.String("type", n.Type),
			)
			return nil, Result{Handled: true, Detail: "tenant not found"}
		}
		return nil, Result{Handled: false, Detail: "failed to resolve tenant: " + err.Error()}
	}
	return credential, Result{}
}

func severityFor(status model.AttemptStatus) model.AlertSeverity {
	switch status {
	case model.AttemptApproved, model.AttemptCanceled:
		return model.AlertInfo
	case model.AttemptRejected:
		return model.AlertWarning
	default:
		return model.AlertCritical
	}
}
