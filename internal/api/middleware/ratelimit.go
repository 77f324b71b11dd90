package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atypik-backend/pkg/ratelimit"
	"atypik-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimitMiddleware limits each client per endpoint category. A limiter
// failure lets the request through.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, config *ratelimit.Config) gin.HandlerFunc {
	if config == nil {
		config = ratelimit.DefaultConfig()
	}
	return func(c *gin.Context) {
		if !config.Enabled {
			c.Next()
			return
		}

		category := config.Category(c.Request.Method, normalizePath(c.Request.URL.Path))
		clientID := getClientID(c)

		allowed, resetTime, err := limiter.Allow(c.Request.Context(), clientID, category)
		if err != nil {
			logrus.WithError(err).WithField("category", category).Warn("Rate limiter unavailable")
			c.Header("X-RateLimit-Error", "Rate limiter unavailable")
			c.Next()
			return
		}

		setRateLimitHeaders(c, limiter.Limit(category), allowed, resetTime)

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(resetTime)))
			c.JSON(http.StatusTooManyRequests, utils.APIResponse{
				Success: false,
				Message: fmt.Sprintf("Too many requests. Try again in %v", resetTime.Round(time.Second)),
				Error:   "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// getClientID prefers the authenticated user, then the client IP.
func getClientID(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if uid, ok := userID.(string); ok && uid != "" {
			return "user:" + uid
		}
	}
	return "ip:" + getClientIP(c)
}

func getClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}

// normalizePath replaces id segments with "*" so that every mission or
// transport shares its endpoint's category.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if isID(segment) {
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}

// isID matches ObjectIDs, UUIDs and numeric ids.
func isID(s string) bool {
	if s == "" {
		return false
	}
	if len(s) == 24 && isHex(s) {
		return true
	}
	if len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-' {
		return true
	}
	if _, err := strconv.Atoi(s); err == nil {
		return true
	}
	return false
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func setRateLimitHeaders(c *gin.Context, limit ratelimit.RateLimit, allowed bool, resetTime time.Duration) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit.RequestsPerMinute))
	c.Header("X-RateLimit-Window", strconv.Itoa(int(limit.WindowSize.Seconds())))
	c.Header("X-RateLimit-Burst", strconv.Itoa(limit.BurstSize))

	if !allowed {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(resetTime).Unix(), 10))
	}
}
