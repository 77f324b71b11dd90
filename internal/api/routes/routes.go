package routes

import (
	"time"

	"atypik-backend/internal/api/handlers"
	"atypik-backend/internal/api/middleware"
	"atypik-backend/internal/models"
	"atypik-backend/internal/services"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/jwt"
	"atypik-backend/pkg/ratelimit"
	"atypik-backend/pkg/redis"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies carries everything the HTTP layer is built from. DB and Redis
// may be nil when those backends are disabled; Limiter nil disables rate limiting.
type Dependencies struct {
	Location *time.Location
	JWT      *jwt.JWTUtil
	Manager  *websocket.Manager
	DB       *mongo.Database
	Redis    *redis.Client

	Limiter         ratelimit.RateLimiter
	RateLimitConfig *ratelimit.Config

	AuthService       *services.AuthService
	TransportService  *services.TransportService
	MissionService    *services.MissionService
	TrackingService   *services.TrackingService
	TripService       *services.TripService
	AssignmentService *services.AssignmentService
	AdminService      *services.AdminService
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	transportHandler := handlers.NewTransportHandler(deps.TransportService, deps.MissionService, deps.Location)
	missionHandler := handlers.NewMissionHandler(deps.MissionService, deps.TrackingService)
	trackingHandler := handlers.NewTrackingHandler(deps.TrackingService, deps.Manager)
	dashboardHandler := handlers.NewDashboardHandler(deps.TripService, deps.Location)
	adminHandler := handlers.NewAdminHandler(deps.AdminService, deps.AssignmentService, deps.MissionService)
	liveHandler := handlers.NewLiveHandler(deps.Manager, deps.MissionService)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Manager)

	var rateLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		rateLimit = middleware.RateLimitMiddleware(deps.Limiter, deps.RateLimitConfig)
	}

	api := router.Group("/api/v1")

	// Public routes
	public := api.Group("")
	public.Use(rateLimit)
	{
		public.GET("/health", healthHandler.HealthCheck)
		public.POST("/auth/register", authHandler.Register)
		public.POST("/auth/login", authHandler.Login)
		public.POST("/auth/logout", authHandler.Logout)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(deps.JWT), rateLimit)
	{
		protected.GET("/auth/me", authHandler.GetProfile)
		protected.POST("/auth/refresh", authHandler.RefreshToken)
		protected.GET("/regions", adminHandler.GetRegions)

		transports := protected.Group("/transports")
		{
			transports.POST("", middleware.RequireRole(models.RoleParent), transportHandler.CreateTransport)
			transports.GET("", transportHandler.GetTransports)
			transports.GET("/:id", transportHandler.GetTransport)
			transports.POST("/:id/cancel", transportHandler.CancelTransport)
			transports.POST("/:id/comments", transportHandler.AddComment)
			transports.POST("/:id/start", middleware.RequireRole(models.RoleDriver), transportHandler.StartMission)
			transports.GET("/:id/mission", transportHandler.GetOpenMission)
		}

		missions := protected.Group("/missions")
		{
			missions.GET("/:id", missionHandler.GetMission)
			missions.POST("/:id/complete", middleware.RequireRole(models.RoleDriver, models.RoleAdmin), missionHandler.CompleteMission)
			missions.POST("/:id/positions", middleware.RequireRole(models.RoleDriver), trackingHandler.PostPosition)
			missions.GET("/:id/history", missionHandler.GetHistory)
			missions.GET("/:id/live", missionHandler.GetLivePosition)
			missions.GET("/:id/trace", missionHandler.GetTrace)
		}

		dashboard := protected.Group("/dashboard")
		dashboard.Use(middleware.RequireRole(models.RoleParent, models.RoleAdmin))
		{
			dashboard.GET("/upcoming", dashboardHandler.GetUpcomingTrips)
			dashboard.GET("/stats", dashboardHandler.GetStats)
			dashboard.GET("/week", dashboardHandler.GetWeeklySchedule)
		}

		driver := protected.Group("/driver")
		driver.Use(middleware.RequireRole(models.RoleDriver))
		{
			driver.GET("/today", dashboardHandler.GetDriverToday)
			driver.GET("/missions", missionHandler.GetDriverMissions)
		}

		ws := protected.Group("/ws")
		{
			ws.GET("/live", liveHandler.WatchAll)
			ws.GET("/missions/:id", liveHandler.WatchMission)
			ws.GET("/driver/positions", trackingHandler.StreamPositions)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(models.RoleAdmin))
		{
			admin.GET("/stats", adminHandler.GetStats)
			admin.GET("/users", adminHandler.GetUsers)
			admin.POST("/users/:id/promote", adminHandler.PromoteUser)
			admin.PUT("/users/:id/region", adminHandler.SetUserRegion)
			admin.POST("/drivers/:id/approve", adminHandler.ApproveDriver)
			admin.POST("/drivers/:id/revoke", adminHandler.RevokeDriver)
			admin.GET("/regions", adminHandler.GetRegions)
			admin.POST("/regions", adminHandler.CreateRegion)
			admin.GET("/assignments", adminHandler.GetAssignments)
			admin.GET("/parents/:id/eligible-drivers", adminHandler.GetEligibleDrivers)
			admin.PUT("/parents/:id/driver", adminHandler.AssignParentDriver)
			admin.PUT("/transports/:id/driver", adminHandler.AssignTransportDriver)
			admin.POST("/missions/:id/archive", adminHandler.ArchiveMission)
			admin.GET("/feed/stats", liveHandler.GetFeedStats)
		}
	}
}
