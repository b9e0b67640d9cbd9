package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/apiserver/middleware"
	"github.com/cajaflow/cajaflow/pkg/eventbus"
)

// StreamHandler pushes live attempt status changes to staff UI over SSE,
// backed by the redis event bus.
type StreamHandler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

func NewStreamHandler(bus *eventbus.Bus, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, logger: logger}
}

func (h *StreamHandler) Attempts(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := h.bus.Subscribe(c.Request.Context(), eventbus.ChannelAttempt)
	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			var attemptEvent eventbus.AttemptEvent
			if err := json.Unmarshal(event.Data, &attemptEvent); err != nil {
				continue
			}
			if attemptEvent.TenantID != tenantID.String() {
				continue
			}
			c.SSEvent("attempt", attemptEvent)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
