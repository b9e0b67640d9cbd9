package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/config"
)

// Client talks to the payment provider's REST API. Every request carries the
// caller-supplied access token; mutating requests additionally carry a
// generated idempotency key so a transport-level retry of the outbound call
// cannot double-execute on the provider side.
type Client struct {
	baseURL      string
	integratorID string
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewClient(cfg *config.ProviderConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		integratorID: cfg.IntegratorID,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// ExchangeCode trades an OAuth authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
	}
	var token TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/token", "", body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// RefreshToken exchanges a refresh token for a fresh token pair.
func (c *Client) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"refresh_token": refreshToken,
	}
	var token TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/token", "", body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// GetPayment fetches full payment details for a provider payment id.
func (c *Client) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	var payment Payment
	path := "/v1/payments/" + url.PathEscape(paymentID)
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreateQROrder publishes an in-store order on the tenant's QR point of sale
// and returns the QR payload the customer scans.
func (c *Client) CreateQROrder(ctx context.Context, accessToken, providerUserID, externalPosID string, req QROrderRequest) (*QROrderResponse, error) {
	path := fmt.Sprintf("/instore/orders/qr/seller/collectors/%s/pos/%s/qrs",
		url.PathEscape(providerUserID), url.PathEscape(externalPosID))
	var resp QROrderResponse
	if err := c.do(ctx, http.MethodPost, path, accessToken, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePointIntent pushes a payment intent to a registered terminal device.
func (c *Client) CreatePointIntent(ctx context.Context, accessToken, deviceID string, req PointIntentRequest) (*PointIntent, error) {
	path := fmt.Sprintf("/point/integration-api/devices/%s/payment-intents", url.PathEscape(deviceID))
	var intent PointIntent
	if err := c.do(ctx, http.MethodPost, path, accessToken, req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CancelPointIntent asks the terminal to drop a not-yet-collected intent.
func (c *Client) CancelPointIntent(ctx context.Context, accessToken, deviceID, intentID string) error {
	path := fmt.Sprintf("/point/integration-api/devices/%s/payment-intents/%s",
		url.PathEscape(deviceID), url.PathEscape(intentID))
	return c.do(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

// ListTerminals returns the point devices registered to the tenant account.
func (c *Client) ListTerminals(ctx context.Context, accessToken string) ([]Terminal, error) {
	var list terminalList
	if err := c.do(ctx, http.MethodGet, "/point/integration-api/devices", accessToken, nil, &list); err != nil {
		return nil, err
	}
	return list.Devices, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if c.integratorID != "" {
		req.Header.Set("X-Integrator-Id", c.integratorID)
	}
	if method != http.MethodGet {
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed providerErrorBody
		if err := json.Unmarshal(data, &parsed); err == nil {
			apiErr.Code = parsed.Error
			apiErr.Message = parsed.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
