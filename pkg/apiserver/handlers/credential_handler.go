package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/apiserver/middleware"
	"github.com/cajaflow/cajaflow/pkg/credentials"
	"github.com/cajaflow/cajaflow/pkg/dispatcher"
	"github.com/cajaflow/cajaflow/pkg/model"
)

// CredentialHandler manages the tenant's provider connection. Connect and
// disconnect mutate through the dispatcher; status is a plain read.
type CredentialHandler struct {
	dispatch *dispatcher.Dispatcher
	creds    *credentials.Service
	logger   *zap.Logger
}

func NewCredentialHandler(dispatch *dispatcher.Dispatcher, creds *credentials.Service, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{dispatch: dispatch, creds: creds, logger: logger}
}

type credentialConnectRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri" binding:"required"`
	Email       string `json:"email"`
}

type credentialStatusResponse struct {
	Status         string  `json:"status"`
	ProviderUserID string  `json:"provider_user_id,omitempty"`
	Email          string  `json:"email,omitempty"`
	LiveMode       bool    `json:"live_mode"`
	ExpiresAt      *string `json:"expires_at,omitempty"`
}

func (h *CredentialHandler) Connect(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}

	var req credentialConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	raw, err := h.dispatch.Dispatch(c.Request.Context(), tenantID, dispatcher.EventCredentialConnect, dispatcher.CredentialConnectPayload{
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
		Email:       req.Email,
	})
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	var result dispatcher.CredentialConnectResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("failed to decode dispatch result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *CredentialHandler) Disconnect(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}

	raw, err := h.dispatch.Dispatch(c.Request.Context(), tenantID, dispatcher.EventCredentialRevoke, gin.H{})
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	var result dispatcher.CredentialRevokeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		h.logger.Error("failed to decode dispatch result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Status reports the connection state without mutating anything, so it skips
// the dispatcher. Reading through the service still triggers a proactive
// token refresh when the credential is close to expiry.
func (h *CredentialHandler) Status(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant"})
		return
	}

	credential, err := h.creds.Get(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			c.JSON(http.StatusOK, credentialStatusResponse{Status: "not_connected"})
			return
		}
		writeServiceError(c, h.logger, err)
		return
	}

	status := "connected"
	if credential.Status == model.CredentialError {
		status = "error"
	}
	c.JSON(http.StatusOK, credentialStatusResponse{
		Status:         status,
		ProviderUserID: credential.ProviderUserID,
		Email:          credential.Email,
		LiveMode:       credential.LiveMode,
		ExpiresAt:      formatTime(credential.ExpiresAt),
	})
}
