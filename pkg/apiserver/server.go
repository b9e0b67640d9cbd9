package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cajaflow/cajaflow/pkg/alerts"
	"github.com/cajaflow/cajaflow/pkg/apiserver/handlers"
	"github.com/cajaflow/cajaflow/pkg/apiserver/middleware"
	"github.com/cajaflow/cajaflow/pkg/auth"
	"github.com/cajaflow/cajaflow/pkg/config"
	"github.com/cajaflow/cajaflow/pkg/credentials"
	"github.com/cajaflow/cajaflow/pkg/dispatcher"
	"github.com/cajaflow/cajaflow/pkg/eventbus"
	"github.com/cajaflow/cajaflow/pkg/orders"
	"github.com/cajaflow/cajaflow/pkg/payments"
	"github.com/cajaflow/cajaflow/pkg/provider"
	"github.com/cajaflow/cajaflow/pkg/secrets"
	"github.com/cajaflow/cajaflow/pkg/store/postgres"
	redisclient "github.com/cajaflow/cajaflow/pkg/store/redis"
	"github.com/cajaflow/cajaflow/pkg/webhook"
)

type Server struct {
	router     *gin.Engine
	db         *postgres.Store
	redis      *redisclient.Client
	cfg        *config.Config
	logger     *zap.Logger
	tokens     *auth.APITokenManager
	dispatch   *dispatcher.Dispatcher
	payments   *payments.Service
	creds      *credentials.Service
	reconciler *webhook.Reconciler
	eventRepo  *postgres.EventLogRepository
	bus        *eventbus.Bus
}

func NewServer(db *postgres.Store, redisClient *redisclient.Client, cfg *config.Config, logger *zap.Logger) *Server {
	tokens := auth.NewAPITokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)

	cipher, err := secrets.NewCipher(cfg.Crypto.TokenKey)
	if err != nil {
		logger.Fatal("failed to initialize token cipher", zap.Error(err))
	}

	var (
		credRepo    *postgres.CredentialRepository
		attemptRepo *postgres.AttemptRepository
		orderRepo   *postgres.OrderRepository
		eventRepo   *postgres.EventLogRepository
		alertRepo   *postgres.AlertRepository
	)
	if db != nil {
		credRepo = postgres.NewCredentialRepository(db.DB())
		attemptRepo = postgres.NewAttemptRepository(db.DB())
		orderRepo = postgres.NewOrderRepository(db.DB())
		eventRepo = postgres.NewEventLogRepository(db.DB())
		alertRepo = postgres.NewAlertRepository(db.DB())
	}

	var bus *eventbus.Bus
	var dedup *redisclient.Deduper
	if redisClient != nil {
		bus = eventbus.NewBus(redisClient.Client())
		dedup = redisclient.NewDeduper(redisClient, 24*time.Hour)
	}

	providerClient := provider.NewClient(&cfg.Provider, logger)
	credsSvc := credentials.NewService(credRepo, providerClient, cipher, cfg.Provider, logger)
	ordersSvc := orders.NewService(orderRepo)
	paymentsSvc := payments.NewService(attemptRepo, ordersSvc, credsSvc, providerClient, bus, logger)
	emitter := alerts.NewEmitter(alertRepo, logger)
	reconciler := webhook.NewReconciler(credsSvc, paymentsSvc, providerClient, emitter, dedup, cfg.Provider.WebhookFetchTimeout, logger)

	dispatch, err := dispatcher.New(eventRepo, buildHandlers(paymentsSvc, credsSvc, bus), logger)
	if err != nil {
		logger.Fatal("failed to build event dispatcher", zap.Error(err))
	}

	s := &Server{
		db:         db,
		redis:      redisClient,
		cfg:        cfg,
		logger:     logger,
		tokens:     tokens,
		dispatch:   dispatch,
		payments:   paymentsSvc,
		creds:      credsSvc,
		reconciler: reconciler,
		eventRepo:  eventRepo,
		bus:        bus,
	}
	s.setupRouter()
	return s
}

// buildHandlers binds every dispatchable event to its service call. The
// dispatcher refuses a nil handler, so this set is necessarily complete.
func buildHandlers(paymentsSvc *payments.Service, credsSvc *credentials.Service, bus *eventbus.Bus) dispatcher.Handlers {
	return dispatcher.Handlers{
		StartQRPayment: func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			var p dispatcher.PaymentStartPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
			orderID, err := uuid.Parse(p.OrderID)
			if err != nil {
				return nil, fmt.Errorf("invalid order id: %w", err)
			}
			attempt, err := paymentsSvc.StartQR(ctx, tenantID, orderID)
			if err != nil {
				return nil, err
			}
			return dispatcher.PaymentStartResult{
				AttemptID: attempt.ID.String(),
				Status:    string(attempt.Status),
				QRData:    attempt.QRPayload,
			}, nil
		},
		StartPointPayment: func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			var p dispatcher.PaymentStartPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
			orderID, err := uuid.Parse(p.OrderID)
			if err != nil {
				return nil, fmt.Errorf("invalid order id: %w", err)
			}
			attempt, err := paymentsSvc.StartPoint(ctx, tenantID, orderID, p.TerminalID)
			if err != nil {
				return nil, err
			}
			return dispatcher.PaymentStartResult{
				AttemptID: attempt.ID.String(),
				Status:    string(attempt.Status),
			}, nil
		},
		CancelPayment: func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			var p dispatcher.PaymentCancelPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
			orderID, err := uuid.Parse(p.OrderID)
			if err != nil {
				return nil, fmt.Errorf("invalid order id: %w", err)
			}
			canceled, err := paymentsSvc.CancelActive(ctx, tenantID, orderID)
			if err != nil {
				return nil, err
			}
			return dispatcher.PaymentCancelResult{Canceled: canceled}, nil
		},
		ConnectCredential: func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			var p dispatcher.CredentialConnectPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
			credential, err := credsSvc.Connect(ctx, tenantID, p.Code, p.RedirectURI, p.Email)
			if err != nil {
				return nil, err
			}
			publishCredentialEvent(ctx, bus, tenantID, "connected")
			return dispatcher.CredentialConnectResult{
				ProviderUserID: credential.ProviderUserID,
				LiveMode:       credential.LiveMode,
			}, nil
		},
		RevokeCredential: func(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage) (interface{}, error) {
			if err := credsSvc.Disconnect(ctx, tenantID); err != nil {
				return nil, err
			}
			publishCredentialEvent(ctx, bus, tenantID, "disconnected")
			return dispatcher.CredentialRevokeResult{Disconnected: true}, nil
		},
	}
}

func publishCredentialEvent(ctx context.Context, bus *eventbus.Bus, tenantID uuid.UUID, status string) {
	if bus == nil {
		return
	}
	event, err := eventbus.NewEvent("credential_status", eventbus.CredentialEvent{
		TenantID: tenantID.String(),
		Status:   status,
	})
	if err != nil {
		return
	}
	_ = bus.Publish(ctx, eventbus.ChannelCredential, event)
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks authenticate by HMAC signature, not bearer token, so the
	// endpoint stays outside the API group.
	webhookHandler := handlers.NewWebhookHandler(s.cfg.Provider.WebhookSecret, s.reconciler, s.logger)
	r.POST("/webhooks/provider", webhookHandler.Receive)

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.tokens))

		paymentHandler := handlers.NewPaymentHandler(s.dispatch, s.payments, s.logger)
		api.POST("/orders/:id/payments", paymentHandler.Start)
		api.DELETE("/orders/:id/payments", paymentHandler.Cancel)
		api.GET("/orders/:id/payments", paymentHandler.ListByOrder)
		api.GET("/payments/:id", paymentHandler.Get)
		api.GET("/terminals", paymentHandler.ListTerminals)

		credentialHandler := handlers.NewCredentialHandler(s.dispatch, s.creds, s.logger)
		api.POST("/credentials/connect", credentialHandler.Connect)
		api.DELETE("/credentials", credentialHandler.Disconnect)
		api.GET("/credentials/status", credentialHandler.Status)

		eventHandler := handlers.NewEventHandler(s.eventRepo, s.logger)
		api.GET("/events", eventHandler.List)

		streamHandler := handlers.NewStreamHandler(s.bus, s.logger)
		api.GET("/streams/attempts", streamHandler.Attempts)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
