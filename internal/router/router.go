// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/handlers"
	"github.com/javajoker/fanvault-backend/internal/i18n"
	"github.com/javajoker/fanvault-backend/internal/lock"
	"github.com/javajoker/fanvault-backend/internal/middleware"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/services"
	"github.com/javajoker/fanvault-backend/internal/utils"
	"github.com/javajoker/fanvault-backend/pkg/rabbitmq"
)

// Dependencies are the infrastructure handles the API is built on.
type Dependencies struct {
	Store    repository.Store
	Gateways *gateway.Registry
	Locker   lock.Locker
	Events   rabbitmq.Publisher
	Notifier services.Notifier
	Archive  services.Archiver
}

// Services is the wired application layer, shared with background jobs.
type Services struct {
	Payments      *services.PaymentService
	Subscriptions *services.SubscriptionService
	Referrals     *services.ReferralService
	Wallets       *services.WalletService
	Webhooks      *services.WebhookService
	Content       *services.ContentAccessService
}

func NewServices(cfg *config.Config, deps Dependencies) *Services {
	subscriptionService := services.NewSubscriptionService(deps.Store, deps.Gateways)
	referralService := services.NewReferralService(deps.Store)
	paymentService := services.NewPaymentService(services.PaymentDeps{
		Store:         deps.Store,
		Gateways:      deps.Gateways,
		Subscriptions: subscriptionService,
		Referrals:     referralService,
		Tracking:      services.NewTrackingService(deps.Store),
		Notifier:      deps.Notifier,
		Events:        deps.Events,
		Locker:        deps.Locker,
		Retry:         services.NewRetryPolicy(cfg.Retry),
		Payment:       cfg.Payment,
		LeaseTTL:      cfg.Redis.LeaseTTL,
	})

	return &Services{
		Payments:      paymentService,
		Subscriptions: subscriptionService,
		Referrals:     referralService,
		Wallets:       services.NewWalletService(deps.Store, services.NewRetryPolicy(cfg.Retry)),
		Webhooks:      services.NewWebhookService(deps.Store, deps.Gateways, paymentService, subscriptionService, deps.Archive),
		Content:       services.NewContentAccessService(deps.Store, subscriptionService),
	}
}

func Initialize(cfg *config.Config, deps Dependencies, svc *Services) *gin.Engine {
	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, svc.Webhooks)
	webhookHandler := handlers.NewWebhookHandler(svc.Webhooks)
	walletHandler := handlers.NewWalletHandler(svc.Wallets)
	subscriptionHandler := handlers.NewSubscriptionHandler(svc.Subscriptions)
	contentHandler := handlers.NewContentHandler(svc.Content, svc.Referrals)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.I18nMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"gateways":  deps.Gateways.Names(),
			"languages": i18n.GetSupportedLanguages(),
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Provider callbacks authenticate by digest, not by token
		v1.POST("/webhooks/:gateway", webhookHandler.Receive)
		if cfg.Payment.TestMode {
			v1.GET("/payments/test-adapter/complete", paymentHandler.CompleteTestPayment)
		}

		// Payment routes
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthRequired(), middleware.GeneralRateLimit())
		{
			payments.POST("", middleware.PaymentRateLimit(), paymentHandler.InitiatePurchase)
			payments.GET("/history", paymentHandler.GetPaymentHistory)
			payments.GET("/:id", paymentHandler.GetTransaction)
		}

		// Wallet routes
		wallet := v1.Group("/wallet")
		wallet.Use(middleware.AuthRequired(), middleware.GeneralRateLimit())
		{
			wallet.GET("", walletHandler.GetWallet)
			wallet.GET("/entries", walletHandler.ListEntries)
		}

		// Subscription routes
		subscriptions := v1.Group("/subscriptions")
		subscriptions.Use(middleware.AuthRequired(), middleware.GeneralRateLimit())
		{
			subscriptions.GET("", subscriptionHandler.ListSubscriptions)
			subscriptions.POST("/:id/cancel", subscriptionHandler.CancelSubscription)
		}

		protected := v1.Group("")
		protected.Use(middleware.AuthRequired(), middleware.GeneralRateLimit())
		{
			protected.GET("/content/:kind/:id/access", contentHandler.CheckAccess)
			protected.GET("/referrals/earnings", contentHandler.ListReferralEarnings)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLogMiddleware(deps.Store))
		{
			admin.POST("/payments/:id/refund", paymentHandler.RefundTransaction)
			admin.POST("/subscriptions/:id/cancel", subscriptionHandler.CancelImmediately)
			admin.POST("/wallets/:holder_id/adjust", walletHandler.AdjustBalance)

			platform := admin.Group("/platform")
			{
				platform.GET("/balance", walletHandler.GetPlatformBalance)
				platform.POST("/withdrawals", walletHandler.WithdrawPlatform)
			}

			admin.GET("/ledger/verify", walletHandler.VerifyConservation)
		}
	}

	return r
}
