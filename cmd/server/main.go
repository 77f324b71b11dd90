package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"atypik-backend/internal/api/middleware"
	"atypik-backend/internal/api/routes"
	"atypik-backend/internal/config"
	"atypik-backend/internal/logger"
	"atypik-backend/internal/repository"
	"atypik-backend/internal/repository/memory"
	"atypik-backend/internal/services"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/archive"
	"atypik-backend/pkg/cache"
	"atypik-backend/pkg/cleanup"
	"atypik-backend/pkg/database"
	"atypik-backend/pkg/geo"
	"atypik-backend/pkg/jwt"
	"atypik-backend/pkg/notify"
	"atypik-backend/pkg/ratelimit"
	"atypik-backend/pkg/redis"
	"atypik-backend/pkg/telemetry"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg.Log)
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		db     *mongo.Database
		stores *repository.Stores
	)
	if cfg.StoreDriver == "memory" {
		logrus.Warn("Using in-memory stores, data is lost on restart")
		stores = memory.NewStores()
	} else {
		var err error
		db, err = database.Connect(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to database")
		}
		defer database.Disconnect(db.Client())

		var indexers []database.Indexer
		stores, indexers = repository.NewMongoStores(db)
		database.EnsureIndexes(indexers...)
	}

	// Redis backs the live position cache and optionally the rate limiter
	var redisClient *redis.Client
	var cacheManager cache.CacheManager
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(cfg.Redis)
		defer redisClient.Close()

		healthStatus := redisClient.HealthCheck(ctx)
		if healthStatus.IsConnected {
			logrus.WithField("address", healthStatus.ConnectionInfo).Info("Redis connected successfully")
		} else {
			logrus.WithField("error", healthStatus.Error).Warn("Redis connection failed, will retry automatically")
		}
		cacheManager = cache.NewCacheManager(redisClient, cache.DefaultCacheConfig().FromTracking(cfg.Tracking))
	}

	metrics, err := telemetry.New(ctx, cfg.Telemetry, cfg.Env)
	if err != nil {
		logrus.WithError(err).Warn("Telemetry disabled")
	}

	expiry, err := time.ParseDuration(cfg.JWTExpiry)
	if err != nil {
		logrus.WithError(err).Warn("Invalid JWT_EXPIRY, using 24h")
		expiry = 24 * time.Hour
	}
	jwtUtil := jwt.NewJWTUtil(cfg.JWTSecret, expiry)

	// Mission change feed
	manager := websocket.NewManager(cfg.AllowedOrigins...)
	if err := manager.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start mission feed")
	}

	dispatcher := notify.NewDispatcher(newNotifier(cfg.Notify), 0)

	var archiver *services.TraceArchiver
	if cfg.Archive.Enabled {
		store, err := archive.NewS3Store(ctx, cfg.Archive)
		if err != nil {
			logrus.WithError(err).Warn("Trace archive disabled")
		} else {
			archiver = services.NewTraceArchiver(stores.Positions, stores.Missions, store)
		}
	}

	var distance geo.DistanceService = geo.HaversineDistance{RoadFactor: cfg.Maps.RoadFactor}
	if cfg.Maps.Provider == "google" && cfg.Maps.APIKey != "" {
		google, err := geo.NewGoogleDistance(cfg.Maps.APIKey, cfg.Maps.Timeout)
		if err != nil {
			logrus.WithError(err).Warn("Google distance disabled, using haversine estimate")
		} else {
			distance = google
		}
	}

	// Services
	missionService := services.NewMissionService(stores, loc)
	guard := services.NewIngestGuard(cfg.Tracking.MinInterval, cfg.Tracking.Burst, cfg.Tracking.LimiterIdleTTL)
	trackingService := services.NewTrackingService(stores, missionService, guard)
	trackingService.SetHistoryPageSize(cfg.Tracking.HistoryPageSize)
	tripService := services.NewTripService(stores, loc)
	tripService.SetLimit(cfg.Tracking.UpcomingLimit)
	transportService := services.NewTransportService(stores, distance, loc)
	adminService := services.NewAdminService(stores, loc)
	assignmentService := services.NewAssignmentService(stores)
	authService := services.NewAuthService(stores, jwtUtil)

	if archiver != nil {
		missionService.SetArchiver(archiver)
	}
	missionService.SetDashboardURL(cfg.Notify.DashboardURL)
	transportService.SetDashboardURL(cfg.Notify.DashboardURL)
	adminService.SetDashboardURL(cfg.Notify.DashboardURL)

	missionService.SetPublisher(manager)
	trackingService.SetPublisher(manager)
	missionService.SetNotifier(dispatcher)
	transportService.SetNotifier(dispatcher)
	adminService.SetNotifier(dispatcher)
	if cacheManager != nil {
		trackingService.SetCacheManager(cacheManager)
		tripService.SetCacheManager(cacheManager)
		missionService.SetCacheManager(cacheManager)
		adminService.SetCacheManager(cacheManager)
	}
	missionService.SetMetrics(metrics)
	trackingService.SetMetrics(metrics)

	// Rate limiting
	rateLimitConfig := ratelimit.DefaultConfig()
	rateLimitConfig.Enabled = cfg.RateLimit.Enabled
	var limiter ratelimit.RateLimiter
	memoryLimiter := ratelimit.NewMemoryRateLimiter(rateLimitConfig)
	limiter = memoryLimiter
	if cfg.RateLimit.Backend == "redis" && redisClient != nil {
		limiter = ratelimit.NewRedisRateLimiter(redisClient.GetClient(), rateLimitConfig)
	}

	// Background sweeps of idle per-key state
	janitor := cleanup.NewCleanupService(time.Minute)
	janitor.Register("ingest-guard", guard)
	janitor.Register("rate-limiter", memoryLimiter)
	janitor.Start(ctx)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	// CORS middleware
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Protocol"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID", "Retry-After"},
	}

	// Handle wildcard origin for development
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Dependencies{
		Location:          loc,
		JWT:               jwtUtil,
		Manager:           manager,
		DB:                db,
		Redis:             redisClient,
		Limiter:           limiter,
		RateLimitConfig:   rateLimitConfig,
		AuthService:       authService,
		TransportService:  transportService,
		MissionService:    missionService,
		TrackingService:   trackingService,
		TripService:       tripService,
		AssignmentService: assignmentService,
		AdminService:      adminService,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("HTTP shutdown failed")
	}
	janitor.Stop()
	if err := manager.Stop(); err != nil {
		logrus.WithError(err).Error("Mission feed shutdown failed")
	}
	if archiver != nil {
		archiver.Wait()
	}
	dispatcher.Wait()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Telemetry shutdown failed")
	}
}

func newNotifier(cfg config.NotifyConfig) notify.Notifier {
	switch cfg.Provider {
	case "smtp":
		return notify.NewSMTPNotifier(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort), cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromEmail, cfg.FromName)
	case "sendgrid":
		return notify.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName)
	default:
		return notify.LogNotifier{}
	}
}
