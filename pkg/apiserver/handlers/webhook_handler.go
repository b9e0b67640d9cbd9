package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/webhook"
)

// WebhookHandler terminates the provider's notification endpoint. It owns
// exactly two decisions: is the signature authentic, and should the provider
// redeliver. Everything in between belongs to the reconciler.
type WebhookHandler struct {
	secret     string
	reconciler *webhook.Reconciler
	logger     *zap.Logger
}

func NewWebhookHandler(secret string, reconciler *webhook.Reconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, reconciler: reconciler, logger: logger}
}

// Receive handles one provider notification. A bad signature answers 401 and
// is never processed. A handled notification answers 200 even when this
// system ignores its type; an unhandled one answers 500 so the provider
// retries later.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	requestID := c.GetHeader("x-request-id")
	dataID := c.Query("data.id")
	if !webhook.Verify(h.secret, c.GetHeader("x-signature"), requestID, dataID) {
		h.logger.Warn("rejected webhook with invalid signature",
			zap.String("request_id", requestID),
			zap.String("data_id", dataID),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var notification webhook.Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification body"})
		return
	}
	if notification.Data.ID == "" {
		notification.Data.ID = dataID
	}

	result := h.reconciler.Process(c.Request.Context(), notification)
	if !result.Handled {
		h.logger.Warn("webhook not handled, provider will redeliver",
			zap.String("notification_id", notification.ID.String()),
			zap.String("detail", result.Detail),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
