package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/credentials"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/payments"
	"github.com/cajaflow/cajaflow/pkg/provider"
)

type fakeCreds struct {
	byUser       map[string]*credentials.Credential
	disconnected []uuid.UUID
}

func (f *fakeCreds) ResolveByProviderUserID(ctx context.Context, providerUserID string) (*credentials.Credential, error) {
	credential, ok := f.byUser[providerUserID]
	if !ok {
		return nil, credentials.ErrNotConnected
	}
	return credential, nil
}

func (f *fakeCreds) Get(ctx context.Context, tenantID uuid.UUID) (*credentials.Credential, error) {
	for _, credential := range f.byUser {
		if credential.TenantID == tenantID {
			return credential, nil
		}
	}
	return nil, credentials.ErrNotConnected
}

func (f *fakeCreds) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	f.disconnected = append(f.disconnected, tenantID)
	return nil
}

type transitionRecord struct {
	attemptID uuid.UUID
	status    model.AttemptStatus
	fields    payments.TransitionFields
}

type fakeLedger struct {
	byOrder      map[uuid.UUID]*model.PaymentAttempt
	byProviderID map[string]*model.PaymentAttempt
	transitions  []transitionRecord
	updateErr    error
}

func (f *fakeLedger) ActiveByTenantOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error) {
	attempt, ok := f.byOrder[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return attempt, nil
}

func (f *fakeLedger) ActiveByProviderPaymentID(ctx context.Context, tenantID uuid.UUID, providerPaymentID string) (*model.PaymentAttempt, error) {
	attempt, ok := f.byProviderID[providerPaymentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return attempt, nil
}

func (f *fakeLedger) Transition(ctx context.Context, attempt *model.PaymentAttempt, status model.AttemptStatus, fields payments.TransitionFields) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.transitions = append(f.transitions, transitionRecord{attemptID: attempt.ID, status: status, fields: fields})
	attempt.Status = status
	if fields.NotificationID != nil {
		attempt.LastNotificationID = *fields.NotificationID
	}
	return nil
}

type fakeFetcher struct {
	payment *provider.Payment
	err     error
	calls   int
}

func (f *fakeFetcher) GetPayment(ctx context.Context, accessToken, paymentID string) (*provider.Payment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

type emittedAlert struct {
	tenantID uuid.UUID
	severity model.AlertSeverity
	message  string
}

type fakeAlerts struct {
	emitted []emittedAlert
}

func (f *fakeAlerts) Emit(ctx context.Context, tenantID uuid.UUID, severity model.AlertSeverity, message string, payload model.JSONB) {
	f.emitted = append(f.emitted, emittedAlert{tenantID: tenantID, severity: severity, message: message})
}

type fakeDedup struct {
	seen   map[string]bool
	marked []string
}

func (f *fakeDedup) Seen(ctx context.Context, notificationID string) bool {
	return f.seen[notificationID]
}

func (f *fakeDedup) Mark(ctx context.Context, notificationID string) {
	f.marked = append(f.marked, notificationID)
}

type fixture struct {
	creds      *fakeCreds
	ledger     *fakeLedger
	fetcher    *fakeFetcher
	alerts     *fakeAlerts
	dedup      *fakeDedup
	reconciler *Reconciler
	tenantID   uuid.UUID
	orderID    uuid.UUID
	attempt    *model.PaymentAttempt
}

func newFixture() *fixture {
	tenantID := uuid.New()
	orderID := uuid.New()
	attempt := &model.PaymentAttempt{
		ID:       uuid.New(),
		TenantID: tenantID,
		OrderID:  orderID,
		Status:   model.AttemptProcessing,
		Flow:     model.FlowQR,
	}

	f := &fixture{
		creds: &fakeCreds{byUser: map[string]*credentials.Credential{
			"111": {ID: uuid.New(), TenantID: tenantID, AccessToken: "token", ProviderUserID: "111"},
		}},
		ledger: &fakeLedger{
			byOrder:      map[uuid.UUID]*model.PaymentAttempt{orderID: attempt},
			byProviderID: map[string]*model.PaymentAttempt{},
		},
		fetcher:  &fakeFetcher{},
		alerts:   &fakeAlerts{},
		dedup:    &fakeDedup{seen: map[string]bool{}},
		tenantID: tenantID,
		orderID:  orderID,
		attempt:  attempt,
	}
	f.reconciler = NewReconciler(f.creds, f.ledger, f.fetcher, f.alerts, f.dedup, time.Second, zap.NewNop())
	return f
}

func paymentNotification(id string) Notification {
	return Notification{
		ID:     json.Number(id),
		Type:   "payment",
		UserID: json.Number("111"),
		Data:   struct {
			ID string `json:"id"`
		}{ID: "pay-1"},
	}
}

func TestProcessPaymentApproved(t *testing.T) {
	f := newFixture()
	f.fetcher.payment = &provider.Payment{
		ID:                42,
		Status:            "approved",
		ExternalReference: f.orderID.String(),
	}

	result := f.reconciler.Process(context.Background(), paymentNotification("1001"))

	if !result.Handled {
		t.Fatalf("expected notification to be handled: %s", result.Detail)
	}
	if len(f.ledger.transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(f.ledger.transitions))
	}
	transition := f.ledger.transitions[0]
	if transition.status != model.AttemptApproved {
		t.Fatalf("expected APPROVED, got %s", transition.status)
	}
	if transition.fields.NotificationID == nil || *transition.fields.NotificationID != "1001" {
		t.Fatalf("expected notification id recorded on transition")
	}
	if len(f.dedup.marked) != 1 || f.dedup.marked[0] != "1001" {
		t.Fatalf("expected notification marked in dedup cache")
	}
	if len(f.alerts.emitted) != 1 {
		t.Fatalf("expected terminal alert, got %d", len(f.alerts.emitted))
	}
	if f.alerts.emitted[0].severity != model.AlertInfo {
		t.Fatalf("expected info severity for approval, got %s", f.alerts.emitted[0].severity)
	}
}

func TestProcessPaymentRejectedEmitsWarning(t *testing.T) {
	f := newFixture()
	f.fetcher.payment = &provider.Payment{
		ID:                42,
		Status:            "rejected",
		StatusDetail:      "cc_rejected_insufficient_amount",
		ExternalReference: f.orderID.String(),
	}

	result := f.reconciler.Process(context.Background(), paymentNotification("1002"))

	if !result.Handled {
		t.Fatalf("expected notification to be handled: %s", result.Detail)
	}
	if f.attempt.Status != model.AttemptRejected {
		t.Fatalf("expected REJECTED, got %s", f.attempt.Status)
	}
	if len(f.alerts.emitted) != 1 || f.alerts.emitted[0].severity != model.AlertWarning {
		t.Fatalf("expected warning alert for rejection")
	}
}

func TestProcessPaymentUnknownStatusBecomesError(t *testing.T) {
	f := newFixture()
	f.fetcher.payment = &provider.Payment{
		ID:                42,
		Status:            "something_new",
		ExternalReference: f.orderID.String(),
	}

	result := f.reconciler.Process(context.Background(), paymentNotification("1003"))

	if !result.Handled {
		t.Fatalf("expected notification to be handled: %s", result.Detail)
	}
	if f.attempt.Status != model.AttemptError {
		t.Fatalf("expected unknown status to map to ERROR, got %s", f.attempt.Status)
	}
	if f.ledger.transitions[0].fields.ErrorPayload == nil {
		t.Fatalf("expected error payload on transition")
	}
}

func TestProcessPaymentDuplicateByAttemptGuard(t *testing.T) {
	f := newFixture()
	f.attempt.LastNotificationID = "1001"
	f.fetcher.payment = &provider.Payment{
		ID:                42,
		Status:            "approved",
		ExternalReference: f.orderID.String(),
	}

	result := f.reconciler.Process(context.Background(), paymentNotification("1001"))

	if !result.Handled {
		t.Fatalf("expected duplicate to be acknowledged")
	}
	if len(f.ledger.transitions) != 0 {
		t.Fatalf("expected no transition for duplicate, got %d", len(f.ledger.transitions))
	}
}

func TestProcessPaymentDuplicateByDedupCache(t *testing.T) {
	f := newFixture()
	f.dedup.seen["1001"] = true

	result := f.reconciler.Process(context.Background(), paymentNotification("1001"))

	if !result.Handled {
		t.Fatalf("expected duplicate to be acknowledged")
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("expected dedup fast path to skip the provider fetch")
	}
}

func TestProcessPaymentFetchFailureRequestsRedelivery(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("connection refused")

	result := f.reconciler.Process(context.Background(), paymentNotification("1001"))

	if result.Handled {
		t.Fatalf("expected fetch failure to request redelivery")
	}
	if len(f.dedup.marked) != 0 {
		t.Fatalf("failed notification must not be marked as seen")
	}
}

func TestProcessPaymentNoActiveAttempt(t *testing.T) {
	f := newFixture()
	f.fetcher.payment = &provider.Payment{
		ID:                42,
		Status:            "approved",
		ExternalReference: uuid.NewString(),
	}

	result := f.reconciler.Process(context.Background(), paymentNotification("1001"))

	if !result.Handled {
		t.Fatalf("expected integration-only event to be acknowledged: %s", result.Detail)
	}
	if len(f.ledger.transitions) != 0 {
		t.Fatalf("expected no transition without an active attempt")
	}
}

func TestProcessUnknownTenantAcknowledged(t *testing.T) {
	f := newFixture()
	n := paymentNotification("1001")
	n.UserID = json.Number("999")

	result := f.reconciler.Process(context.Background(), n)

	if !result.Handled {
		t.Fatalf("expected unknown account to be acknowledged")
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("expected no provider fetch for unknown account")
	}
}

func TestProcessIgnoredTypeAcknowledged(t *testing.T) {
	f := newFixture()
	n := Notification{ID: json.Number("1"), Type: "subscription", UserID: json.Number("111")}

	result := f.reconciler.Process(context.Background(), n)

	if !result.Handled {
		t.Fatalf("expected ignored type to be acknowledged")
	}
}

func TestProcessPointFinished(t *testing.T) {
	f := newFixture()
	pointAttempt := &model.PaymentAttempt{
		ID:                uuid.New(),
		TenantID:          f.tenantID,
		OrderID:           f.orderID,
		Status:            model.AttemptProcessing,
		Flow:              model.FlowPoint,
		TerminalID:        "dev-1",
		ProviderPaymentID: "intent-1",
	}
	f.ledger.byProviderID["intent-1"] = pointAttempt

	n := Notification{
		ID:     json.Number("2001"),
		Type:   "point_integration",
		Action: "state_FINISHED",
		UserID: json.Number("111"),
		Data: struct {
			ID string `json:"id"`
		}{ID: "intent-1"},
	}

	result := f.reconciler.Process(context.Background(), n)

	if !result.Handled {
		t.Fatalf("expected point event to be handled: %s", result.Detail)
	}
	if pointAttempt.Status != model.AttemptApproved {
		t.Fatalf("expected APPROVED, got %s", pointAttempt.Status)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("point events must not trigger a payment fetch")
	}
}

func TestProcessPointErrorEmitsCriticalAlert(t *testing.T) {
	f := newFixture()
	pointAttempt := &model.PaymentAttempt{
		ID:                uuid.New(),
		TenantID:          f.tenantID,
		OrderID:           f.orderID,
		Status:            model.AttemptProcessing,
		Flow:              model.FlowPoint,
		TerminalID:        "dev-1",
		ProviderPaymentID: "intent-1",
	}
	f.ledger.byProviderID["intent-1"] = pointAttempt

	n := Notification{
		ID:     json.Number("2003"),
		Type:   "point_integration",
		Action: "state_ERROR",
		UserID: json.Number("111"),
		Data: struct {
			ID string `json:"id"`
		}{ID: "intent-1"},
	}

	result := f.reconciler.Process(context.Background(), n)

	if !result.Handled {
		t.Fatalf("expected point error event to be handled: %s", result.Detail)
	}
	if pointAttempt.Status != model.AttemptError {
		t.Fatalf("expected ERROR, got %s", pointAttempt.Status)
	}
	if len(f.alerts.emitted) != 1 || f.alerts.emitted[0].severity != model.AlertCritical {
		t.Fatalf("expected critical alert for terminal error")
	}

	replay := f.reconciler.Process(context.Background(), n)

	if !replay.Handled {
		t.Fatalf("expected replayed notification to be acknowledged")
	}
	if len(f.ledger.transitions) != 1 {
		t.Fatalf("expected replay to leave the attempt untouched, got %d transitions", len(f.ledger.transitions))
	}
	if len(f.alerts.emitted) != 1 {
		t.Fatalf("expected no second alert on replay, got %d", len(f.alerts.emitted))
	}
}

func TestProcessPointUnknownActionIgnored(t *testing.T) {
	f := newFixture()
	n := Notification{
		ID:     json.Number("2002"),
		Type:   "point_integration",
		Action: "state_ON_DEVICE",
		UserID: json.Number("111"),
	}

	result := f.reconciler.Process(context.Background(), n)

	if !result.Handled {
		t.Fatalf("expected unknown point action to be acknowledged")
	}
	if len(f.ledger.transitions) != 0 {
		t.Fatalf("expected no transition for unknown point action")
	}
}

func TestProcessDeauthorizationDisconnects(t *testing.T) {
	f := newFixture()
	n := Notification{
		ID:     json.Number("3001"),
		Type:   "mp-connect",
		Action: "application.deauthorized",
		UserID: json.Number("111"),
	}

	result := f.reconciler.Process(context.Background(), n)

	if !result.Handled {
		t.Fatalf("expected deauthorization to be handled: %s", result.Detail)
	}
	if len(f.creds.disconnected) != 1 || f.creds.disconnected[0] != f.tenantID {
		t.Fatalf("expected tenant credential to be deactivated")
	}
	if len(f.alerts.emitted) != 1 || f.alerts.emitted[0].severity != model.AlertCritical {
		t.Fatalf("expected critical alert for deauthorization")
	}
}

func TestProcessTransitionFailureRequestsRedelivery(t *testing.T) {
	f := newFixture()
	f.fetcher.payment = &provider.Payment{
		ID:                42,
		Status:            "approved",
		ExternalReference: f.orderID.String(),
	}
	f.ledger.updateErr = errors.New("database down")

	result := f.reconciler.Process(context.Background(), paymentNotification("1001"))

	if result.Handled {
		t.Fatalf("expected transition failure to request redelivery")
	}
	if len(f.dedup.marked) != 0 {
		t.Fatalf("failed notification must not be marked as seen")
	}
}
