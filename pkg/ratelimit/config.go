package ratelimit

import (
	"strings"
	"time"
)

// Config holds the configuration for rate limiting
type Config struct {
	// Limits per endpoint category
	DefaultLimits map[string]RateLimit `json:"defaultLimits"`

	// Redis key prefix for rate limiting data
	RedisKeyPrefix string `json:"redisKeyPrefix"`

	// Buckets idle for longer than this are dropped by Sweep
	IdleTTL time.Duration `json:"idleTtl"`

	Enabled bool `json:"enabled"`
}

// DefaultConfig returns a default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultLimits: map[string]RateLimit{
			"auth":       {RequestsPerMinute: 10, BurstSize: 5, WindowSize: time.Minute},
			"auth_login": {RequestsPerMinute: 5, BurstSize: 2, WindowSize: time.Minute},

			"transports_create": {RequestsPerMinute: 20, BurstSize: 5, WindowSize: time.Minute},
			"missions":          {RequestsPerMinute: 30, BurstSize: 10, WindowSize: time.Minute},

			// Drivers post a sample every few seconds per mission
			"tracking": {RequestsPerMinute: 240, BurstSize: 60, WindowSize: time.Minute},

			"admin":  {RequestsPerMinute: 100, BurstSize: 20, WindowSize: time.Minute},
			"health": {RequestsPerMinute: 1000, BurstSize: 100, WindowSize: time.Minute},

			"default": {RequestsPerMinute: 60, BurstSize: 15, WindowSize: time.Minute},
		},
		RedisKeyPrefix: "atypik_ratelimit:",
		IdleTTL:        10 * time.Minute,
		Enabled:        true,
	}
}

var endpointCategories = map[string]string{
	"POST:/api/v1/auth/login":    "auth_login",
	"POST:/api/v1/auth/register": "auth",
	"GET:/api/v1/auth/me":        "auth",

	"POST:/api/v1/transports":          "transports_create",
	"POST:/api/v1/transports/*/start":  "missions",
	"POST:/api/v1/missions/*/complete": "missions",

	"POST:/api/v1/missions/*/positions": "tracking",
	"GET:/api/v1/missions/*/live":       "tracking",

	"GET:/api/v1/admin/*":  "admin",
	"POST:/api/v1/admin/*": "admin",
	"PUT:/api/v1/admin/*":  "admin",

	"GET:/api/v1/health": "health",
}

// Category maps a method and a normalized path (ids replaced by *) to a limit category.
func (c *Config) Category(method, path string) string {
	key := method + ":" + path
	if category, ok := endpointCategories[key]; ok {
		return category
	}
	best, bestLen := "default", 0
	for pattern, category := range endpointCategories {
		if matchesPattern(key, pattern) && len(pattern) > bestLen {
			best, bestLen = category, len(pattern)
		}
	}
	return best
}

// Limit returns the limit configured for a category, falling back to "default".
func (c *Config) Limit(category string) RateLimit {
	if limit, ok := c.DefaultLimits[category]; ok {
		return limit
	}
	if limit, ok := c.DefaultLimits["default"]; ok {
		return limit
	}
	return RateLimit{RequestsPerMinute: 60, BurstSize: 15, WindowSize: time.Minute}
}

// matchesPattern matches "*" against exactly one path segment, or against the
// remainder when it is the final segment.
func matchesPattern(key, pattern string) bool {
	keyParts := strings.Split(key, "/")
	patternParts := strings.Split(pattern, "/")
	for i, part := range patternParts {
		if i >= len(keyParts) {
			return false
		}
		if part == "*" {
			if i == len(patternParts)-1 {
				return true
			}
			continue
		}
		if part != keyParts[i] {
			return false
		}
	}
	return len(keyParts) == len(patternParts)
}
