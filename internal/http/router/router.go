package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makerlink/print3d-backend/internal/config"
	"github.com/makerlink/print3d-backend/internal/http/handlers"
	"github.com/makerlink/print3d-backend/internal/http/middleware"
	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/service"
)

// Handlers собирает все HTTP хэндлеры приложения.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Project      *handlers.ProjectHandler
	Negotiation  *handlers.NegotiationHandler
	Contract     *handlers.ContractHandler
	Payout       *handlers.PayoutHandler
	Compliance   *handlers.ComplianceHandler
	Favorite     *handlers.FavoriteHandler
	Notification *handlers.NotificationHandler
	Media        *handlers.MediaHandler
	WS           *handlers.WSHandler
	Admin        *handlers.AdminHandler
	Health       *handlers.HealthHandler
}

// SetupRouter настраивает маршруты и middleware.
func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.StaticFS("/media", http.Dir(cfg.MediaStoragePath))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(5, cfg.RateLimitPeriod))
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
	}

	// Публичные маршруты.
	api.GET("/ws", h.WS.Handle)
	api.GET("/projects", h.Project.ListOpenProjects)
	api.GET("/projects/:id", middleware.UUIDValidator("id"), h.Project.GetProject)

	// Callback платёжного шлюза и служебные задачи защищены токенами,
	// а не JWT.
	api.POST("/payments/webhook", h.Contract.GatewayWebhook)
	api.POST("/admin/sweep/pauses", h.Admin.SweepExpiredPauses)

	auth := middleware.AuthMiddleware(tokenManager)
	clientOnly := middleware.RequireRole(models.RoleClient)
	printerOnly := middleware.RequireRole(models.RolePrinter)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	protected := api.Group("/")
	protected.Use(auth)
	{
		protected.GET("/auth/me", h.Auth.Me)

		// Проекты клиента.
		protected.POST("/projects", clientOnly, h.Project.CreateProject)
		protected.GET("/projects/my", clientOnly, h.Project.ListMyProjects)
		protected.POST("/projects/:id/printer-found", middleware.UUIDValidator("id"), clientOnly, h.Project.MarkPrinterFound)

		// Переговоры.
		protected.POST("/conversations", printerOnly, h.Negotiation.StartConversation)
		protected.GET("/conversations", h.Negotiation.ListConversations)
		protected.GET("/conversations/:id", middleware.UUIDValidator("id"), h.Negotiation.GetConversation)
		protected.POST("/conversations/:id/quote", middleware.UUIDValidator("id"), printerOnly, h.Negotiation.SendQuote)
		protected.POST("/conversations/:id/counter", middleware.UUIDValidator("id"), h.Negotiation.CounterQuote)
		protected.POST("/conversations/:id/accept", middleware.UUIDValidator("id"), h.Negotiation.AcceptQuote)
		protected.POST("/conversations/:id/reject", middleware.UUIDValidator("id"), h.Negotiation.RejectQuote)
		protected.POST("/conversations/:id/sign", middleware.UUIDValidator("id"), h.Negotiation.Sign)
		protected.POST("/conversations/:id/cancel", middleware.UUIDValidator("id"), h.Negotiation.Cancel)
		protected.POST("/conversations/:id/withdraw", middleware.UUIDValidator("id"), printerOnly, h.Negotiation.Withdraw)
		protected.POST("/conversations/:id/refuse", middleware.UUIDValidator("id"), clientOnly, h.Negotiation.Refuse)
		protected.POST("/conversations/:id/pause", middleware.UUIDValidator("id"), h.Negotiation.Pause)
		protected.POST("/conversations/:id/resume", middleware.UUIDValidator("id"), h.Negotiation.Resume)
		protected.POST("/conversations/:id/mediation", middleware.UUIDValidator("id"), h.Negotiation.RequestMediation)
		protected.POST("/conversations/:id/mediation/cancel", middleware.UUIDValidator("id"), adminOnly, h.Negotiation.CancelByMediation)

		// Контракты и оплата.
		protected.GET("/contracts", h.Contract.ListContracts)
		protected.GET("/contracts/:id", middleware.UUIDValidator("id"), h.Contract.GetContract)
		protected.POST("/contracts/:id/pay", middleware.UUIDValidator("id"), clientOnly, h.Contract.InitiatePayment)
		protected.POST("/transactions/:id/confirm", middleware.UUIDValidator("id"), clientOnly, h.Contract.ConfirmPayment)
		protected.GET("/transactions", h.Contract.ListTransactions)

		// Производственные вехи печатника.
		protected.POST("/contracts/:id/start-printing", middleware.UUIDValidator("id"), printerOnly, h.Contract.StartPrinting)
		protected.POST("/contracts/:id/complete-printing", middleware.UUIDValidator("id"), printerOnly, h.Contract.CompletePrinting)
		protected.POST("/contracts/:id/share-photos", middleware.UUIDValidator("id"), printerOnly, h.Contract.SharePhotos)
		protected.POST("/contracts/:id/ship", middleware.UUIDValidator("id"), printerOnly, h.Contract.ShipOrder)
		protected.POST("/contracts/:id/confirm-delivery", middleware.UUIDValidator("id"), clientOnly, h.Contract.ConfirmDelivery)

		// Баланс и выплаты печатника.
		protected.GET("/balance", printerOnly, h.Payout.GetBalance)
		protected.PUT("/bank-details", printerOnly, h.Payout.UpdateBankDetails)
		protected.POST("/payouts", printerOnly, h.Payout.RequestPayout)
		protected.GET("/payouts", printerOnly, h.Payout.ListPayouts)
		protected.GET("/payouts/:id", middleware.UUIDValidator("id"), printerOnly, h.Payout.GetPayout)
		protected.POST("/payouts/:id/cancel", middleware.UUIDValidator("id"), printerOnly, h.Payout.CancelPayout)
		protected.POST("/payouts/:id/process", middleware.UUIDValidator("id"), adminOnly, h.Payout.ProcessPayout)

		// Годовые потолки продаж.
		protected.GET("/compliance/stats", printerOnly, h.Compliance.GetSalesStatistics)
		protected.GET("/compliance/check", printerOnly, h.Compliance.CheckTransaction)
		protected.POST("/compliance/upgrade", printerOnly, h.Compliance.UpgradeBusinessStatus)
		protected.GET("/compliance/at-risk", adminOnly, h.Compliance.AtRiskReport)

		// Избранные печатники.
		protected.POST("/favorites", clientOnly, h.Favorite.AddFavorite)
		protected.GET("/favorites", h.Favorite.ListFavorites)
		protected.GET("/favorites/:id", middleware.UUIDValidator("id"), h.Favorite.CheckFavorite)
		protected.DELETE("/favorites/:id", middleware.UUIDValidator("id"), h.Favorite.RemoveFavorite)

		// Уведомления.
		protected.GET("/notifications", h.Notification.ListNotifications)
		protected.GET("/notifications/unread/count", h.Notification.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notification.MarkAsRead)
		protected.PUT("/notifications/read-all", h.Notification.MarkAllAsRead)

		// Медиа.
		protected.POST("/media/photos", h.Media.UploadPhoto)
		protected.POST("/media/models", h.Media.UploadModel)
		protected.DELETE("/media/:id", middleware.UUIDValidator("id"), h.Media.DeleteMedia)
	}

	return r
}
