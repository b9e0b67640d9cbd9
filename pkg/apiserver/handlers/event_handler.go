package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/apiserver/middleware"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/store/postgres"
)

// EventHandler exposes the tenant's business event audit trail.
type EventHandler struct {
	repo   *postgres.EventLogRepository
	logger *zap.Logger
}

func NewEventHandler(repo *postgres.EventLogRepository, logger *zap.Logger) *EventHandler {
	return &EventHandler{repo: repo, logger: logger}
}

type eventLogResponse struct {
	ID           uint64      `json:"id"`
	EventType    string      `json:"event_type"`
	Status       string      `json:"status"`
	Payload      model.JSONB `json:"payload,omitempty"`
	Result       model.JSONB `json:"result,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    string      `json:"created_at"`
}

func (h *EventHandler) List(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}

	limit := parseLimit(c.Query("limit"), 50)
	offset := parseOffset(c.Query("offset"))

	entries, err := h.repo.List(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list event log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	response := make([]eventLogResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, eventLogResponse{
			ID:           entry.ID,
			EventType:    entry.EventType,
			Status:       string(entry.Status),
			Payload:      entry.Payload,
			Result:       entry.Result,
			ErrorMessage: entry.ErrorMessage,
			CreatedAt:    entry.CreatedAt.UTC().Format(timeRFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": response})
}
