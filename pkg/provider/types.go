package provider

import (
	"encoding/json"
	"fmt"
)

// APIError is a non-2xx response from the provider. Callers classify on
// StatusCode; Code carries the provider's error identifier (e.g.
// "invalid_grant") when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// TokenResponse is the provider OAuth token endpoint payload, shared by the
// authorization-code exchange and the refresh grant.
type TokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	Scope        string      `json:"scope"`
	UserID       json.Number `json:"user_id"`
	LiveMode     bool        `json:"live_mode"`
}

// Payment is the subset of the provider payment resource reconciliation
// needs.
type Payment struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	LiveMode          bool    `json:"live_mode"`
}

type QROrderRequest struct {
	ExternalReference string   `json:"external_reference"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	NotificationURL   string   `json:"notification_url,omitempty"`
	TotalAmount       float64  `json:"total_amount"`
	Items             []QRItem `json:"items"`
}

type QRItem struct {
	Title       string  `json:"title"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
	UnitMeasure string  `json:"unit_measure"`
	TotalAmount float64 `json:"total_amount"`
}

type QROrderResponse struct {
	InStoreOrderID string `json:"in_store_order_id"`
	QRData         string `json:"qr_data"`
}

type PointIntentRequest struct {
	Amount int64 `json:"amount"`
}

type PointIntent struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Amount   int64  `json:"amount"`
	State    string `json:"state"`
}

type Terminal struct {
	ID              string `json:"id"`
	PosID           int64  `json:"pos_id"`
	StoreID         string `json:"store_id"`
	ExternalPosID   string `json:"external_pos_id"`
	OperatingMode   string `json:"operating_mode"`
}

type terminalList struct {
	Devices []Terminal `json:"devices"`
}

type providerErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
