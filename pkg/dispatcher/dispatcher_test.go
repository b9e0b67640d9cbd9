package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/model"
)

type fakeEventRepo struct {
	created      []*model.EventLogEntry
	processed    map[uint64]model.JSONB
	failed       map[uint64]string
	processedErr error
	failedErr    error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		processed: map[uint64]model.JSONB{},
		failed:    map[uint64]string{},
	}
}

func (f *fakeEventRepo) Create(ctx context.Context, entry *model.EventLogEntry) error {
	entry.ID = uint64(len(f.created) + 1)
	f.created = append(f.created, entry)
	return nil
}

func (f *fakeEventRepo) MarkProcessed(ctx context.Context, id uint64, result model.JSONB) error {
	if f.processedErr != nil {
		return f.processedErr
	}
	f.processed[id] = result
	return nil
}

func (f *fakeEventRepo) MarkFailed(ctx context.Context, id uint64, errorMessage string) error {
	if f.failedErr != nil {
		return f.failedErr
	}
	f.failed[id] = errorMessage
	return nil
}

func noopHandler(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
	return nil, nil
}

func allHandlers(override func(h *Handlers)) Handlers {
	h := Handlers{
		StartQRPayment:    noopHandler,
		StartPointPayment: noopHandler,
		CancelPayment:     noopHandler,
		ConnectCredential: noopHandler,
		RevokeCredential:  noopHandler,
	}
	if override != nil {
		override(&h)
	}
	return h
}

func TestNewRejectsMissingHandler(t *testing.T) {
	handlers := allHandlers(func(h *Handlers) { h.CancelPayment = nil })

	if _, err := New(newFakeEventRepo(), handlers, zap.NewNop()); err == nil {
		t.Fatalf("expected constructor to reject a missing handler")
	}
}

func TestDispatchUnknownEventType(t *testing.T) {
	d, err := New(newFakeEventRepo(), allHandlers(nil), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := d.Dispatch(context.Background(), uuid.New(), EventType("payment.unknown"), nil); err == nil {
		t.Fatalf("expected unknown event type to be rejected")
	}
}

func TestDispatchProcessed(t *testing.T) {
	repo := newFakeEventRepo()
	handlers := allHandlers(func(h *Handlers) {
		h.StartQRPayment = func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			var p PaymentStartPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
			return PaymentStartResult{AttemptID: "a-1", Status: "PENDING"}, nil
		}
	})
	d, err := New(repo, handlers, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tenantID := uuid.New()
	raw, err := d.Dispatch(context.Background(), tenantID, EventPaymentQRStart, PaymentStartPayload{OrderID: uuid.NewString()})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	var result PaymentStartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.AttemptID != "a-1" {
		t.Fatalf("expected handler result returned, got %+v", result)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected 1 event log row, got %d", len(repo.created))
	}
	entry := repo.created[0]
	if entry.TenantID != tenantID || entry.EventType != string(EventPaymentQRStart) {
		t.Fatalf("unexpected event log entry %+v", entry)
	}
	if _, ok := repo.processed[entry.ID]; !ok {
		t.Fatalf("expected entry marked processed")
	}
}

func TestDispatchFailed(t *testing.T) {
	repo := newFakeEventRepo()
	handlers := allHandlers(func(h *Handlers) {
		h.CancelPayment = func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			return nil, errors.New("order not found")
		}
	})
	d, err := New(repo, handlers, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := d.Dispatch(context.Background(), uuid.New(), EventPaymentCancel, PaymentCancelPayload{OrderID: uuid.NewString()}); err == nil {
		t.Fatalf("expected handler error to propagate")
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected 1 event log row, got %d", len(repo.created))
	}
	if repo.failed[repo.created[0].ID] != "order not found" {
		t.Fatalf("expected entry marked failed with handler error, got %q", repo.failed[repo.created[0].ID])
	}
}

func TestDispatchPanicMarksFailed(t *testing.T) {
	repo := newFakeEventRepo()
	handlers := allHandlers(func(h *Handlers) {
		h.StartPointPayment = func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			panic("boom")
		}
	})
	d, err := New(repo, handlers, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = d.Dispatch(context.Background(), uuid.New(), EventPaymentPointStart, PaymentStartPayload{OrderID: uuid.NewString()})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}

	message := repo.failed[repo.created[0].ID]
	if !strings.Contains(message, "boom") {
		t.Fatalf("expected panic value in failure message, got %q", message)
	}
}

func TestDispatchUpdateErrorNeverMasksHandlerError(t *testing.T) {
	repo := newFakeEventRepo()
	repo.failedErr = errors.New("database down")
	handlerErr := errors.New("order not found")
	handlers := allHandlers(func(h *Handlers) {
		h.CancelPayment = func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			return nil, handlerErr
		}
	})
	d, err := New(repo, handlers, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = d.Dispatch(context.Background(), uuid.New(), EventPaymentCancel, PaymentCancelPayload{OrderID: uuid.NewString()})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected original handler error, got %v", err)
	}
}
