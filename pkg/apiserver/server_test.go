package apiserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/config"
	"github.com/cajaflow/cajaflow/pkg/webhook"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Crypto.TokenKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	return cfg
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig()
	server := NewServer(nil, nil, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	var response healthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Fatalf("expected status ok, got %q", response.Status)
	}
}

func TestAPIAuthRequired(t *testing.T) {
	cfg := testConfig()
	server := NewServer(nil, nil, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}

	var response errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Error != "missing authorization" {
		t.Fatalf("expected missing authorization error, got %q", response.Error)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.WebhookSecret = "shhh"
	server := NewServer(nil, nil, cfg, zap.NewNop())

	body := strings.NewReader(`{"id": 1, "type": "payment", "data": {"id": "123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider?data.id=123", body)
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", "ts=1704908010,v1=deadbeef")
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
}

func TestWebhookAcceptsSignedIgnoredType(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.WebhookSecret = "shhh"
	server := NewServer(nil, nil, cfg, zap.NewNop())

	manifest := webhook.BuildManifest("123", "req-1", "1704908010")
	signature := "ts=1704908010,v1=" + webhook.Sign("shhh", manifest)

	body := strings.NewReader(`{"id": 1, "type": "subscription", "data": {"id": "123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider?data.id=123", body)
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", signature)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
}
