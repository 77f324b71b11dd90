package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atypik-backend/pkg/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestMiddleware(t *testing.T) *gin.Engine {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	config := ratelimit.DefaultConfig()
	config.RedisKeyPrefix = "test_ratelimit:"
	config.DefaultLimits["default"] = ratelimit.RateLimit{
		RequestsPerMinute: 5,
		BurstSize:         2,
		WindowSize:        time.Minute,
	}
	config.DefaultLimits["auth_login"] = ratelimit.RateLimit{
		RequestsPerMinute: 1,
		BurstSize:         1,
		WindowSize:        time.Minute,
	}

	limiter := ratelimit.NewRedisRateLimiter(client, config)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, config))

	router.POST("/api/v1/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "login successful"})
	})
	router.GET("/api/v1/transports", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"transports": []string{}})
	})
	router.POST("/api/v1/missions/:id/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})

	return router
}

func doRequest(router *gin.Engine, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-For", ip)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_BasicFunctionality(t *testing.T) {
	router := setupTestMiddleware(t)

	w1 := doRequest(router, "GET", "/api/v1/transports", "192.168.1.1")
	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "5", w1.Header().Get("X-RateLimit-Limit"))

	w2 := doRequest(router, "GET", "/api/v1/transports", "192.168.1.1")
	assert.Equal(t, http.StatusOK, w2.Code)

	w3 := doRequest(router, "GET", "/api/v1/transports", "192.168.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w3.Code)
}

func TestRateLimitMiddleware_RateLimitExceeded(t *testing.T) {
	router := setupTestMiddleware(t)

	w1 := doRequest(router, "POST", "/api/v1/auth/login", "192.168.1.2")
	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "1", w1.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w1.Header().Get("X-RateLimit-Burst"))

	w2 := doRequest(router, "POST", "/api/v1/auth/login", "192.168.1.2")
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.NotEmpty(t, w2.Header().Get("Retry-After"))
	assert.Contains(t, w2.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimitMiddleware_DifferentClients(t *testing.T) {
	router := setupTestMiddleware(t)

	assert.Equal(t, http.StatusOK, doRequest(router, "POST", "/api/v1/auth/login", "192.168.1.3").Code)
	assert.Equal(t, http.StatusOK, doRequest(router, "POST", "/api/v1/auth/login", "192.168.1.4").Code)
}

func TestRateLimitMiddleware_TrackingCategoryPerMission(t *testing.T) {
	router := setupTestMiddleware(t)

	w := doRequest(router, "POST", "/api/v1/missions/64f1a2b3c4d5e6f7a8b9c0d1/positions", "192.168.1.6")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "240", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	config := ratelimit.DefaultConfig()
	config.Enabled = false
	config.DefaultLimits["default"] = ratelimit.RateLimit{RequestsPerMinute: 1, BurstSize: 1, WindowSize: time.Minute}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(ratelimit.NewMemoryRateLimiter(config), config))
	router.GET("/api/v1/transports", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(router, "GET", "/api/v1/transports", "10.0.0.1").Code)
	}
}

func TestGetClientID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name         string
		setupContext func(*gin.Context)
		expected     string
	}{
		{
			name: "authenticated user",
			setupContext: func(c *gin.Context) {
				c.Set("user_id", "user123")
			},
			expected: "user:user123",
		},
		{
			name: "forwarded ip",
			setupContext: func(c *gin.Context) {
				c.Request.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
			},
			expected: "ip:192.168.1.1",
		},
		{
			name: "real ip",
			setupContext: func(c *gin.Context) {
				c.Request.Header.Set("X-Real-IP", "172.16.0.9")
			},
			expected: "ip:172.16.0.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("GET", "/test", nil)

			tt.setupContext(c)

			assert.Equal(t, tt.expected, getClientID(c))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/api/v1/transports", "/api/v1/transports"},
		{"/api/v1/transports/123", "/api/v1/transports/*"},
		{"/api/v1/missions/64f1a2b3c4d5e6f7a8b9c0d1/positions", "/api/v1/missions/*/positions"},
		{"/api/v1/admin/drivers/550e8400-e29b-41d4-a716-446655440000/approve", "/api/v1/admin/drivers/*/approve"},
		{"/api/v1/dashboard/upcoming", "/api/v1/dashboard/upcoming"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.input))
		})
	}
}

func TestIsID(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"123", true},
		{"64f1a2b3c4d5e6f7a8b9c0d1", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"abc", false},
		{"user-profile", false},
		{"transports-for-the-week!", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, isID(tt.input))
		})
	}
}
