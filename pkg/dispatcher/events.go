package dispatcher

// EventType is the closed set of dispatchable business events. Adding an
// event means adding a constant here and a field on Handlers; the dispatcher
// refuses to construct until the new field is wired.
type EventType string

const (
	EventPaymentQRStart    EventType = "payment.qr.start"
	EventPaymentPointStart EventType = "payment.point.start"
	EventPaymentCancel     EventType = "payment.cancel"
	EventCredentialConnect EventType = "credential.connect"
	EventCredentialRevoke  EventType = "credential.revoke"
)

// Payload and result shapes for each event. Handlers receive the payload as
// raw JSON and decode into these.

type PaymentStartPayload struct {
	OrderID    string `json:"order_id"`
	TerminalID string `json:"terminal_id,omitempty"`
}

type PaymentStartResult struct {
	AttemptID string `json:"attempt_id"`
	Status    string `json:"status"`
	QRData    string `json:"qr_data,omitempty"`
}

type PaymentCancelPayload struct {
	OrderID string `json:"order_id"`
}

type PaymentCancelResult struct {
	Canceled bool `json:"canceled"`
}

type CredentialConnectPayload struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	Email       string `json:"email,omitempty"`
}

type CredentialConnectResult struct {
	ProviderUserID string `json:"provider_user_id"`
	LiveMode       bool   `json:"live_mode"`
}

type CredentialRevokeResult struct {
	Disconnected bool `json:"disconnected"`
}
