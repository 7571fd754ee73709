package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"rxportal/internal/api/middleware"
	"rxportal/internal/auth"
	"rxportal/internal/dashboard"
	"rxportal/internal/profile"
	"rxportal/internal/session"
	"rxportal/internal/storage"
	"rxportal/internal/store"
)

// RouteDeps 汇集路由注册所需的依赖。
type RouteDeps struct {
	Store                 store.Store
	Tokens                *auth.SessionService
	Records               session.RecordStore
	Selections            profile.SelectionStore
	RedisClient           *redis.Client
	AsynqClient           *asynq.Client
	StorageClient         *storage.Client
	Aggregator            *dashboard.Aggregator
	Logger                *slog.Logger
	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
	AllowedWsOrigins      []string
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, deps RouteDeps) {
	registry := newStateRegistry(deps.Store, deps.Tokens, deps.Records, deps.Selections, deps.Logger)

	authHandler := NewAuthHandler(
		deps.Store, deps.Tokens, deps.Records, registry,
		deps.RedisClient, deps.Logger,
		deps.LoginRateLimitPerHour, deps.LoginLockThreshold, deps.LoginLockTTL,
	)
	profileHandler := NewProfileHandler(registry, deps.Logger)
	activityHandler := NewActivityHandler(registry, deps.Store, deps.AsynqClient, deps.Logger)
	trainingHandler := NewTrainingHandler(registry, deps.Logger)
	dashboardHandler := NewDashboardHandler(registry, deps.Aggregator)
	resourceHandler := NewResourceHandler(deps.Store, deps.StorageClient, registry, deps.AsynqClient, deps.Logger)
	wsHandler := NewWsHandler(deps.RedisClient, deps.Tokens, deps.Records, deps.Logger, deps.AllowedWsOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.Tokens, deps.Records)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.GET("/session", authMiddleware, authHandler.GetSession)
			authGroup.PATCH("/account", authMiddleware, authHandler.UpdateAccount)
		}

		profileGroup := v1.Group("/profiles")
		profileGroup.Use(authMiddleware)
		{
			profileGroup.GET("", profileHandler.List)
			profileGroup.POST("", profileHandler.Create)
			profileGroup.PATCH("/:id", profileHandler.Update)
			profileGroup.DELETE("/:id", profileHandler.Delete)
			profileGroup.GET("/active", profileHandler.GetActive)
			profileGroup.PUT("/active", profileHandler.SetActive)
			profileGroup.DELETE("/active", profileHandler.ClearActive)
			profileGroup.POST("/active/refresh", profileHandler.RefreshActive)
		}

		bookmarkGroup := v1.Group("/bookmarks")
		bookmarkGroup.Use(authMiddleware)
		{
			bookmarkGroup.GET("", activityHandler.ListBookmarks)
			bookmarkGroup.GET("/status", activityHandler.BookmarkStatus)
			bookmarkGroup.POST("/toggle", activityHandler.ToggleBookmark)
		}

		activityGroup := v1.Group("/activity")
		activityGroup.Use(authMiddleware)
		{
			activityGroup.GET("", activityHandler.RecentActivity)
			activityGroup.POST("", activityHandler.RecordActivity)
		}

		trainingGroup := v1.Group("/training")
		trainingGroup.Use(authMiddleware)
		{
			trainingGroup.GET("", trainingHandler.List)
			trainingGroup.GET("/:module", trainingHandler.Get)
			trainingGroup.POST("/:module/start", trainingHandler.Start)
			trainingGroup.POST("/:module/restart", trainingHandler.Restart)
			trainingGroup.PUT("/:module/progress", trainingHandler.UpdateProgress)
			trainingGroup.POST("/:module/complete", trainingHandler.Complete)
		}

		resourceGroup := v1.Group("/resources")
		resourceGroup.Use(authMiddleware)
		{
			resourceGroup.GET("", resourceHandler.List)
			resourceGroup.GET("/download-link", resourceHandler.DownloadLink)
		}

		v1.GET("/dashboard", authMiddleware, dashboardHandler.Get)
	}
}
