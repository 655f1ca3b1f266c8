package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"desaPortal/internal/api/middleware"
	"desaPortal/internal/auth"
	"desaPortal/internal/config"
	"desaPortal/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	cfg *config.Config,
) {
	authHandler := NewAuthHandler(
		db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		time.Duration(cfg.Auth.LoginLockTTLMin)*time.Minute,
		cfg.API.CookieDomain,
	)
	userHandler := NewUserHandler(db, authService, redisClient, logger)
	positionHandler := NewPositionHandler(db, redisClient, logger)
	profileHandler := NewProfileHandler(
		db, storageClient, asynqClient, redisClient, logger,
		cfg.Upload.MaxBytes, cfg.Upload.ClamdAddr,
	)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(authService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		protected := v1.Group("")
		protected.Use(authMiddleware, passwordGate)
		{
			users := protected.Group("/users")
			{
				users.GET("", userHandler.ListUsers)
				users.POST("", userHandler.CreateUser)
				users.GET("/:id", userHandler.GetUser)
				users.PUT("/:id", userHandler.UpdateUser)
				users.DELETE("/:id", userHandler.DeleteUser)
			}

			positions := protected.Group("/positions")
			{
				positions.GET("", positionHandler.ListPositions)
				positions.POST("", positionHandler.CreatePosition)
				positions.PATCH("/:id", positionHandler.UpdatePosition)
				positions.DELETE("/:id", positionHandler.DeletePosition)
			}

			profiles := protected.Group("/village-profiles")
			{
				profiles.GET("", profileHandler.ListProfiles)
				profiles.PATCH("/:id", profileHandler.UpdateProfile)
				profiles.DELETE("/:id", profileHandler.DeleteProfile)
			}
		}
	}
}
