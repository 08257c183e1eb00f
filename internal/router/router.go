package router

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"storefront/config"
	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/handler"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/ws"
	"storefront/pkg/cloudinary"
	"storefront/pkg/payment"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Server is the wired HTTP engine plus the background workers it depends on.
type Server struct {
	Engine     *gin.Engine
	Dispatcher *service.NotificationDispatcher
	limiters   []*middleware.InMemoryRateLimiter
}

// Start runs the notification workers and rate limiter sweeps until ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.Dispatcher.Start(ctx)
	for _, l := range s.limiters {
		go l.Run(ctx)
	}
}

// Setup wires repositories, gateways, services and routes. cloud may be nil when
// proof uploads are not configured.
func Setup(cfg *config.Config, db *gorm.DB, cloud cloudinary.Client) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	globalLimiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	paymentLimiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.PaymentRequests, cfg.RateLimit.Window)

	// Repositories
	store := repository.NewStore(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	deviceTokenRepo := repository.NewDeviceTokenRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	hub := ws.NewHub()

	// Services
	fcmSvc := service.NewFCMService(context.Background(), cfg.Firebase.ServiceAccountPath)
	if fcmSvc != nil {
		log.Printf("[FCM] Push notifications enabled")
	} else if cfg.Firebase.ServiceAccountPath != "" {
		log.Printf("[FCM] Push notifications disabled: failed to init (check service account file)")
	} else {
		log.Printf("[FCM] Push notifications disabled: set STOREFRONT_FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	notifSvc := service.NewNotificationService(notificationRepo, deviceTokenRepo, fcmSvc, hub)
	dispatcher := service.NewNotificationDispatcher(notifSvc, cfg.Notify.QueueSize, cfg.Notify.Workers)

	gateways, manual, err := buildGateways(cfg)
	if err != nil {
		return nil, err
	}
	recon := service.NewReconciliationService(store, eventRepo, dispatcher)
	var uploader service.ProofUploader
	if cloud != nil {
		uploader = cloud
	}
	paymentSvc := service.NewPaymentService(store, gateways, manual, recon, dispatcher, auditRepo, uploader, cfg.Cloudinary.Folder)
	paymentSvc.SetInitiationTimeout(domain.MethodMpesa, cfg.Mpesa.Timeout)
	paymentSvc.SetInitiationTimeout(domain.MethodPaystack, cfg.Paystack.Timeout)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewWebhookHandler(gateways, recon)
	adminHandler := handler.NewAdminHandler(paymentSvc)
	notificationHandler := handler.NewNotificationHandler(notifSvc)

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	// Provider webhooks stay outside the per-IP budget: every callback comes from a handful of gateway IPs.
	ipLimit := middleware.RateLimit(globalLimiter)
	r.GET("/ws/payments", ipLimit, ws.UpgradePaymentsWS(&cfg.JWT, hub))

	v1 := r.Group("/api/v1")
	{
		webhooks := v1.Group("/webhooks")
		webhooks.POST("/mpesa", webhookHandler.Mpesa)
		webhooks.POST("/paystack", webhookHandler.Paystack)

		authed := v1.Group("")
		authed.Use(ipLimit, middleware.AuthRequired(&cfg.JWT))
		{
			payments := authed.Group("/payments")
			limited := payments.Group("", middleware.RateLimitByUser(paymentLimiter))
			limited.POST("/mpesa/initiate", paymentHandler.InitiateMpesa)
			limited.POST("/paystack/initiate", paymentHandler.InitiatePaystack)
			limited.POST("/manual", paymentHandler.SubmitManual)
			payments.GET("/:id/receipt", paymentHandler.Receipt)

			authed.GET("/orders/:id/payment", paymentHandler.OrderStatus)

			me := authed.Group("/me")
			me.POST("/fcm-token", notificationHandler.RegisterDevice)
			me.GET("/notifications", notificationHandler.List)

			admin := authed.Group("/admin", middleware.AdminRequired())
			admin.GET("/payments/manual", adminHandler.ListManualPayments)
			admin.POST("/payments/:id/approve", adminHandler.ApprovePayment)
			admin.POST("/payments/:id/reject", adminHandler.RejectPayment)
		}
	}

	return &Server{
		Engine:     r,
		Dispatcher: dispatcher,
		limiters:   []*middleware.InMemoryRateLimiter{globalLimiter, paymentLimiter},
	}, nil
}

// buildGateways uses the real provider clients when credentials are set. Outside
// production a missing credential falls back to the stub so checkout can be exercised locally.
func buildGateways(cfg *config.Config) (*gateway.Registry, *gateway.ManualAdapter, error) {
	node, err := snowflake.NewNode(cfg.Payment.NodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("snowflake node: %w", err)
	}
	stub := &payment.StubProvider{}

	var pusher payment.STKPusher = stub
	if cfg.Mpesa.ConsumerKey != "" && cfg.Mpesa.ConsumerSecret != "" {
		pusher = payment.NewDarajaClient(payment.DarajaConfig{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			Passkey:        cfg.Mpesa.Passkey,
			CallbackURL:    cfg.MpesaCallbackURL(),
		})
	} else if cfg.IsProduction() {
		return nil, nil, fmt.Errorf("mpesa consumer key and secret are required in production")
	} else {
		log.Printf("[MPESA] no Daraja credentials, using stub provider")
	}

	var initializer payment.TransactionInitializer = stub
	if cfg.Paystack.SecretKey != "" {
		initializer = payment.NewPaystackClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey)
	} else if cfg.IsProduction() {
		return nil, nil, fmt.Errorf("paystack secret key is required in production")
	} else {
		log.Printf("[Paystack] no secret key, using stub provider; webhooks will be rejected")
	}

	manual := gateway.NewManualAdapter()
	registry := gateway.NewRegistry(
		gateway.NewPushAdapter(pusher),
		gateway.NewRedirectAdapter(initializer, cfg.Paystack.SecretKey, cfg.Paystack.CallbackURL, node),
		manual,
	)
	return registry, manual, nil
}
