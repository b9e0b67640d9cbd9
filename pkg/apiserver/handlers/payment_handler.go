package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/apiserver/middleware"
	"github.com/cajaflow/cajaflow/pkg/dispatcher"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/payments"
)

// PaymentHandler exposes the payment attempt ledger. Mutations go through
// the event dispatcher so every start and cancel leaves an audit row; reads
// hit the payments service directly.
type PaymentHandler struct {
	dispatch *dispatcher.Dispatcher
	payments *payments.Service
	logger   *zap.Logger
}

func NewPaymentHandler(dispatch *dispatcher.Dispatcher, paymentSvc *payments.Service, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{dispatch: dispatch, payments: paymentSvc, logger: logger}
}

type paymentStartRequest struct {
	Flow       string `json:"flow" binding:"required"`
	TerminalID string `json:"terminal_id"`
}

type attemptResponse struct {
	ID                string      `json:"id"`
	OrderID           string      `json:"order_id"`
	Status            string      `json:"status"`
	Flow              string      `json:"flow"`
	AmountCents       int64       `json:"amount_cents"`
	TerminalID        string      `json:"terminal_id,omitempty"`
	ProviderPaymentID string      `json:"provider_payment_id,omitempty"`
	QRPayload         string      `json:"qr_payload,omitempty"`
	ResponsePayload   model.JSONB `json:"response_payload,omitempty"`
	ErrorPayload      model.JSONB `json:"error_payload,omitempty"`
	CreatedAt         string      `json:"created_at"`
	LastProcessedAt   *string     `json:"last_processed_at,omitempty"`
}

func (h *PaymentHandler) Start(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var req paymentStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	var eventType dispatcher.EventType
	switch strings.ToLower(req.Flow) {
	case "qr":
		eventType = dispatcher.EventPaymentQRStart
	case "point":
		if req.TerminalID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id is required for point payments"})
			return
		}
		eventType = dispatcher.EventPaymentPointStart
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flow, expected qr or point"})
		return
	}

	raw, err := h.dispatch.Dispatch(c.Request.Context(), tenantID, eventType, dispatcher.PaymentStartPayload{
		OrderID:    orderID.String(),
		TerminalID: req.TerminalID,
	})
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	var result dispatcher.PaymentStartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("failed to decode dispatch result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	raw, err := h.dispatch.Dispatch(c.Request.Context(), tenantID, dispatcher.EventPaymentCancel, dispatcher.PaymentCancelPayload{
		OrderID: orderID.String(),
	})
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	var result dispatcher.PaymentCancelResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("failed to decode dispatch result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) ListByOrder(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	attempts, err := h.payments.ListAttempts(c.Request.Context(), tenantID, orderID)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	response := make([]attemptResponse, 0, len(attempts))
	for i := range attempts {
		response = append(response, mapAttempt(&attempts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"attempts": response})
}

func (h *PaymentHandler) Get(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt id"})
		return
	}

	attempt, err := h.payments.GetAttempt(c.Request.Context(), tenantID, attemptID)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapAttempt(attempt))
}

func (h *PaymentHandler) ListTerminals(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}

	terminals, err := h.payments.ListTerminals(c.Request.Context(), tenantID)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminals": terminals})
}

func mapAttempt(attempt *model.PaymentAttempt) attemptResponse {
	return attemptResponse{
		ID:                attempt.ID.String(),
		OrderID:           attempt.OrderID.String(),
		Status:            string(attempt.Status),
		Flow:              string(attempt.Flow),
		AmountCents:       attempt.AmountCents,
		TerminalID:        attempt.TerminalID,
		ProviderPaymentID: attempt.ProviderPaymentID,
		QRPayload:         attempt.QRPayload,
		ResponsePayload:   attempt.ResponsePayload,
		ErrorPayload:      attempt.ErrorPayload,
		CreatedAt:         attempt.CreatedAt.UTC().Format(timeRFC3339Nano),
		LastProcessedAt:   formatTime(attempt.LastProcessedAt),
	}
}
