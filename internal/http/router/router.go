package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmadabdelnby/freelance-backend/internal/config"
	"github.com/ahmadabdelnby/freelance-backend/internal/http/handlers"
	"github.com/ahmadabdelnby/freelance-backend/internal/http/middleware"
	"github.com/ahmadabdelnby/freelance-backend/internal/service"
)

// Handlers собирает все хэндлеры приложения.
type Handlers struct {
	Auth          *handlers.AuthHandler
	Contract      *handlers.ContractHandler
	Payment       *handlers.PaymentHandler
	Notification  *handlers.NotificationHandler
	Conversation  *handlers.ConversationHandler
	Admin         *handlers.AdminHandler
	WS            *handlers.WSHandler
	Health        *handlers.HealthHandler
}

// New собирает HTTP роутер приложения.
func New(cfg *config.Config, tokens *service.TokenManager, h Handlers) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.ErrorHandler())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	auth := api.Group("/auth")
	auth.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
	}

	api.GET("/ws", h.WS.Handle)

	authorized := api.Group("")
	authorized.Use(middleware.AuthMiddleware(tokens))
	{
		contracts := authorized.Group("/contracts")
		{
			contracts.POST("", h.Contract.Create)
			contracts.GET("", h.Contract.List)
			contracts.POST("/files", h.Contract.UploadDeliverableFile)
			contracts.GET("/:id", middleware.UUIDValidator("id"), h.Contract.Get)
			contracts.POST("/:id/complete", middleware.UUIDValidator("id"), h.Contract.Complete)
			contracts.PUT("/:id/hours", middleware.UUIDValidator("id"), h.Contract.UpdateHours)
			contracts.GET("/:id/escrow", middleware.UUIDValidator("id"), h.Payment.GetEscrow)
			contracts.POST("/:id/deliverables", middleware.UUIDValidator("id"), h.Contract.SubmitWork)
			contracts.POST("/:id/deliverables/:deliverableId/review",
				middleware.UUIDValidator("id"), middleware.UUIDValidator("deliverableId"), h.Contract.ReviewWork)
			contracts.POST("/:id/modification-requests", middleware.UUIDValidator("id"), h.Contract.RequestModification)
			contracts.GET("/:id/modification-requests", middleware.UUIDValidator("id"), h.Contract.ListModifications)
		}

		modifications := authorized.Group("/modification-requests")
		{
			modifications.GET("/pending", h.Contract.ListPendingModifications)
			modifications.POST("/:id/respond", middleware.UUIDValidator("id"), h.Contract.RespondModification)
		}

		funds := authorized.Group("/funds")
		{
			funds.GET("/balance", h.Payment.GetBalance)
			funds.GET("/transactions", h.Payment.ListTransactions)
			funds.POST("/paypal/orders", h.Payment.CreateTopUpOrder)
			funds.POST("/paypal/capture", h.Payment.CaptureTopUp)
			funds.POST("/withdrawals", h.Payment.Withdraw)
		}

		notifications := authorized.Group("/notifications")
		{
			notifications.GET("", h.Notification.List)
			notifications.GET("/unread-count", h.Notification.CountUnread)
			notifications.POST("/read-all", h.Notification.MarkAllRead)
			notifications.POST("/:id/read", middleware.UUIDValidator("id"), h.Notification.MarkRead)
			notifications.DELETE("/:id", middleware.UUIDValidator("id"), h.Notification.Delete)
			notifications.DELETE("", h.Notification.DeleteAll)
		}

		conversations := authorized.Group("/conversations")
		{
			conversations.POST("", h.Conversation.Create)
			conversations.GET("", h.Conversation.List)
			conversations.GET("/:id/messages", middleware.UUIDValidator("id"), h.Conversation.ListMessages)
			conversations.POST("/:id/messages", middleware.UUIDValidator("id"), h.Conversation.SendMessage)
			conversations.POST("/:id/read", middleware.UUIDValidator("id"), h.Conversation.MarkRead)
			conversations.GET("/:id/unread-count", middleware.UUIDValidator("id"), h.Conversation.CountUnread)
			conversations.POST("/:id/archive", middleware.UUIDValidator("id"), h.Conversation.SetArchived)
			conversations.POST("/:id/mute", middleware.UUIDValidator("id"), h.Conversation.SetMuted)
		}

		messages := authorized.Group("/messages")
		{
			messages.PUT("/:id", middleware.UUIDValidator("id"), h.Conversation.EditMessage)
			messages.DELETE("/:id", middleware.UUIDValidator("id"), h.Conversation.DeleteMessage)
		}

		admin := authorized.Group("/admin")
		admin.Use(middleware.AdminOnly())
		{
			admin.POST("/contracts/:id/cancel", middleware.UUIDValidator("id"), h.Admin.CancelContract)
			admin.POST("/contracts/:id/complete", middleware.UUIDValidator("id"), h.Admin.CompleteContract)
			admin.PUT("/contracts/:id/amount", middleware.UUIDValidator("id"), h.Admin.UpdateContractAmount)
		}
	}

	return r
}
