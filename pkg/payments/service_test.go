package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/credentials"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/orders"
	"github.com/cajaflow/cajaflow/pkg/provider"
)

type fakeAttempts struct {
	active    *model.PaymentAttempt
	created   *model.PaymentAttempt
	createErr error
	updates   []map[string]interface{}
}

func (f *fakeAttempts) Create(ctx context.Context, attempt *model.PaymentAttempt) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = attempt
	return nil
}

func (f *fakeAttempts) GetByID(ctx context.Context, id uuid.UUID) (*model.PaymentAttempt, error) {
	if f.created != nil && f.created.ID == id {
		return f.created, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttempts) ActiveByTenantOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.PaymentAttempt, error) {
	if f.active == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.active, nil
}

func (f *fakeAttempts) ActiveByProviderPaymentID(ctx context.Context, tenantID uuid.UUID, providerPaymentID string) (*model.PaymentAttempt, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttempts) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.updates = append(f.updates, updates)
	return nil
}

func (f *fakeAttempts) ListByOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]model.PaymentAttempt, error) {
	return nil, nil
}

type fakeOrders struct {
	total orders.OrderTotal
	err   error
}

func (f *fakeOrders) GetOrderTotal(ctx context.Context, tenantID, orderID uuid.UUID) (orders.OrderTotal, error) {
	return f.total, f.err
}

type fakeCredSource struct {
	credential *credentials.Credential
	err        error
}

func (f *fakeCredSource) Get(ctx context.Context, tenantID uuid.UUID) (*credentials.Credential, error) {
	return f.credential, f.err
}

type fakeCollectionAPI struct {
	qrResp       *provider.QROrderResponse
	qrErr        error
	intent       *provider.PointIntent
	intentErr    error
	cancelErr    error
	cancelCalls  int
	terminalList []provider.Terminal
}

func (f *fakeCollectionAPI) CreateQROrder(ctx context.Context, accessToken, providerUserID, externalPosID string, req provider.QROrderRequest) (*provider.QROrderResponse, error) {
	if f.qrErr != nil {
		return nil, f.qrErr
	}
	return f.qrResp, nil
}

func (f *fakeCollectionAPI) CreatePointIntent(ctx context.Context, accessToken, deviceID string, req provider.PointIntentRequest) (*provider.PointIntent, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intent, nil
}

func (f *fakeCollectionAPI) CancelPointIntent(ctx context.Context, accessToken, deviceID, intentID string) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeCollectionAPI) ListTerminals(ctx context.Context, accessToken string) ([]provider.Terminal, error) {
	return f.terminalList, nil
}

func validCredential() *credentials.Credential {
	return &credentials.Credential{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		AccessToken:    "token",
		ProviderUserID: "111",
		Status:         model.CredentialActive,
	}
}

func newPaymentService(attempts *fakeAttempts, orderTotals *fakeOrders, creds *fakeCredSource, api *fakeCollectionAPI) *Service {
	return NewService(attempts, orderTotals, creds, api, nil, zap.NewNop())
}

func TestStartQRSuccess(t *testing.T) {
	attempts := &fakeAttempts{}
	api := &fakeCollectionAPI{qrResp: &provider.QROrderResponse{InStoreOrderID: "iso-1", QRData: "qr-code-data"}}
	svc := newPaymentService(attempts,
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: true}},
		&fakeCredSource{credential: validCredential()},
		api,
	)

	attempt, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("StartQR failed: %v", err)
	}
	if attempt.QRPayload != "qr-code-data" {
		t.Fatalf("expected QR payload on attempt, got %q", attempt.QRPayload)
	}
	if attempts.created == nil || attempts.created.AmountCents != 2500 {
		t.Fatalf("expected attempt created with order total")
	}
	if len(attempts.updates) != 1 {
		t.Fatalf("expected transition to PROCESSING, got %d updates", len(attempts.updates))
	}
	if attempts.updates[0]["status"] != model.AttemptProcessing {
		t.Fatalf("expected PROCESSING, got %v", attempts.updates[0]["status"])
	}
}

func TestStartQRDuplicateAttempt(t *testing.T) {
	existing := &model.PaymentAttempt{ID: uuid.New(), Status: model.AttemptProcessing}
	svc := newPaymentService(&fakeAttempts{active: existing},
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: true}},
		&fakeCredSource{credential: validCredential()},
		&fakeCollectionAPI{},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Reason != ReasonDuplicateAttempt {
		t.Fatalf("expected duplicate reason, got %s", conflict.Reason)
	}
	if conflict.ExistingID != existing.ID {
		t.Fatalf("expected existing attempt named in conflict")
	}
}

func TestStartQROrderNotClosed(t *testing.T) {
	svc := newPaymentService(&fakeAttempts{},
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: false}},
		&fakeCredSource{credential: validCredential()},
		&fakeCollectionAPI{},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Reason != ReasonOrderNotClosed {
		t.Fatalf("expected order_not_closed conflict, got %v", err)
	}
}

func TestStartQRZeroTotal(t *testing.T) {
	svc := newPaymentService(&fakeAttempts{},
		&fakeOrders{total: orders.OrderTotal{AmountCents: 0, IsClosed: true}},
		&fakeCredSource{credential: validCredential()},
		&fakeCollectionAPI{},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Reason != ReasonOrderTotalInvalid {
		t.Fatalf("expected order_total_invalid conflict, got %v", err)
	}
}

func TestStartQRNotConnected(t *testing.T) {
	svc := newPaymentService(&fakeAttempts{},
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: true}},
		&fakeCredSource{err: credentials.ErrNotConnected},
		&fakeCollectionAPI{},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Reason != ReasonNotConnected {
		t.Fatalf("expected not_connected conflict, got %v", err)
	}
}

func TestStartQRReconnectRequired(t *testing.T) {
	credential := validCredential()
	credential.Status = model.CredentialError
	svc := newPaymentService(&fakeAttempts{},
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: true}},
		&fakeCredSource{credential: credential},
		&fakeCollectionAPI{},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Reason != ReasonReconnectRequired {
		t.Fatalf("expected reconnect_required conflict, got %v", err)
	}
}

func TestStartQRProviderFailureParksAttempt(t *testing.T) {
	attempts := &fakeAttempts{}
	svc := newPaymentService(attempts,
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: true}},
		&fakeCredSource{credential: validCredential()},
		&fakeCollectionAPI{qrErr: &provider.APIError{StatusCode: 400, Message: "invalid pos"}},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())
	if err == nil {
		t.Fatalf("expected provider error to propagate")
	}
	if len(attempts.updates) != 1 || attempts.updates[0]["status"] != model.AttemptError {
		t.Fatalf("expected attempt parked in ERROR, got %v", attempts.updates)
	}
}

func TestStartQRUniqueViolationTranslated(t *testing.T) {
	attempts := &fakeAttempts{
		createErr: errors.New(`duplicate key value violates unique constraint "idx_payment_attempts_single_active"`),
	}
	svc := newPaymentService(attempts,
		&fakeOrders{total: orders.OrderTotal{AmountCents: 2500, IsClosed: true}},
		&fakeCredSource{credential: validCredential()},
		&fakeCollectionAPI{},
	)

	_, err := svc.StartQR(context.Background(), uuid.New(), uuid.New())

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Reason != ReasonDuplicateAttempt {
		t.Fatalf("expected concurrent insert translated to duplicate conflict, got %v", err)
	}
}

func TestStartPointSuccess(t *testing.T) {
	attempts := &fakeAttempts{}
	svc := newPaymentService(attempts,
		&fakeOrders{total: orders.OrderTotal{AmountCents: 5000, IsClosed: true}},
		&fakeCredSource{credential: validCredential()},
		&fakeCollectionAPI{intent: &provider.PointIntent{ID: "intent-1", State: "OPEN"}},
	)

	attempt, err := svc.StartPoint(context.Background(), uuid.New(), uuid.New(), "dev-1")
	if err != nil {
		t.Fatalf("StartPoint failed: %v", err)
	}
	if attempt.ProviderPaymentID != "intent-1" {
		t.Fatalf("expected intent id recorded, got %q", attempt.ProviderPaymentID)
	}
	if attempts.created.TerminalID != "dev-1" {
		t.Fatalf("expected terminal id on attempt")
	}
}

func TestCancelActiveNoAttempt(t *testing.T) {
	svc := newPaymentService(&fakeAttempts{}, &fakeOrders{}, &fakeCredSource{}, &fakeCollectionAPI{})

	canceled, err := svc.CancelActive(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CancelActive failed: %v", err)
	}
	if canceled {
		t.Fatalf("expected no-op cancel without active attempt")
	}
}

func TestCancelActiveSwallowsProviderError(t *testing.T) {
	active := &model.PaymentAttempt{
		ID:                uuid.New(),
		Status:            model.AttemptProcessing,
		Flow:              model.FlowPoint,
		TerminalID:        "dev-1",
		ProviderPaymentID: "intent-1",
	}
	attempts := &fakeAttempts{active: active}
	api := &fakeCollectionAPI{cancelErr: errors.New("device offline")}
	svc := newPaymentService(attempts, &fakeOrders{}, &fakeCredSource{credential: validCredential()}, api)

	canceled, err := svc.CancelActive(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CancelActive failed: %v", err)
	}
	if !canceled {
		t.Fatalf("expected local cancel despite provider failure")
	}
	if api.cancelCalls != 1 {
		t.Fatalf("expected provider-side cancel attempted")
	}
	if len(attempts.updates) != 1 || attempts.updates[0]["status"] != model.AttemptCanceled {
		t.Fatalf("expected attempt transitioned to CANCELED")
	}
}
