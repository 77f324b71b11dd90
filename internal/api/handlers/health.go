package handlers

import (
	"context"
	"net/http"
	"time"

	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/database"
	"atypik-backend/pkg/redis"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthHandler reports the state of the backing services. A nil database or
// Redis client means the component is not in use and is reported as disabled.
type HealthHandler struct {
	db          *mongo.Database
	redisClient *redis.Client
	manager     *websocket.Manager
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]interface{} `json:"services"`
}

func NewHealthHandler(db *mongo.Database, redisClient *redis.Client, manager *websocket.Manager) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
		manager:     manager,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Timestamp: time.Now(),
		Services:  make(map[string]interface{}),
	}

	mongoStatus := h.checkMongoDB(c.Request.Context())
	redisStatus := h.checkRedis(c.Request.Context())
	response.Services["mongodb"] = mongoStatus
	response.Services["redis"] = redisStatus
	if h.manager != nil {
		response.Services["feed"] = map[string]interface{}{
			"service":     "feed",
			"healthy":     true,
			"subscribers": h.manager.SubscriberCount(),
		}
	}

	if mongoStatus["healthy"].(bool) && redisStatus["healthy"].(bool) {
		response.Status = "healthy"
		c.JSON(http.StatusOK, response)
		return
	}
	response.Status = "unhealthy"
	c.JSON(http.StatusServiceUnavailable, response)
}

func (h *HealthHandler) checkMongoDB(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service": "mongodb",
		"healthy": false,
	}

	if h.db == nil {
		status["healthy"] = true
		status["message"] = "Disabled, using in-memory store"
		return status
	}

	if err := database.Health(ctx, h.db); err != nil {
		status["error"] = err.Error()
		return status
	}
	status["healthy"] = true
	status["message"] = "Connected"
	return status
}

func (h *HealthHandler) checkRedis(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service": "redis",
		"healthy": false,
	}

	if h.redisClient == nil {
		status["healthy"] = true
		status["message"] = "Disabled"
		return status
	}

	healthStatus := h.redisClient.HealthCheck(ctx)
	status["healthy"] = healthStatus.IsConnected
	status["connectionInfo"] = healthStatus.ConnectionInfo
	status["responseTime"] = healthStatus.ResponseTime.String()
	status["lastPing"] = healthStatus.LastPing
	status["connectionStats"] = h.redisClient.GetConnectionStats()
	if healthStatus.Error != "" {
		status["error"] = healthStatus.Error
	}
	return status
}
