package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/orders"
	"github.com/cajaflow/cajaflow/pkg/payments"
	"github.com/cajaflow/cajaflow/pkg/provider"
)

const timeRFC3339Nano = time.RFC3339Nano

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseOffset(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(timeRFC3339Nano)
	return &formatted
}

// writeServiceError translates domain errors into HTTP responses. Conflict
// errors carry the violated precondition; duplicate-attempt conflicts also
// name the blocking attempt so staff UI can offer cancel-and-retry.
func writeServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var conflict *payments.ConflictError
	if errors.As(err, &conflict) {
		response := gin.H{"error": "conflict", "reason": conflict.Reason}
		if conflict.Reason == payments.ReasonDuplicateAttempt {
			response["existing_attempt_id"] = conflict.ExistingID.String()
			response["existing_status"] = string(conflict.ExistingStatus)
		}
		c.JSON(http.StatusConflict, response)
		return
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "provider request failed",
			"provider_status": apiErr.StatusCode,
			"details":         apiErr.Message,
		})
		return
	}

	if errors.Is(err, orders.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
