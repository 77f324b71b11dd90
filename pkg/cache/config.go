package cache

import (
	"time"

	"atypik-backend/internal/config"
)

// CacheConfig holds cache TTLs and key layout
type CacheConfig struct {
	LivePositionTTL time.Duration `json:"livePositionTTL"`
	DriverNameTTL   time.Duration `json:"driverNameTTL"`
	GenericTTL      time.Duration `json:"genericTTL"`
	TagTTL          time.Duration `json:"tagTTL"`
	KeyPrefix       string        `json:"keyPrefix"`
	TagPrefix       string        `json:"tagPrefix"`
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LivePositionTTL: 2 * time.Hour,
		DriverNameTTL:   30 * time.Minute,
		GenericTTL:      5 * time.Minute,
		TagTTL:          4 * time.Hour,
		KeyPrefix:       "atypik:",
		TagPrefix:       "atypik_tag:",
	}
}

// FromTracking overrides TTLs with the tracking settings when set.
func (c CacheConfig) FromTracking(t config.TrackingConfig) CacheConfig {
	if t.LivePositionTTL > 0 {
		c.LivePositionTTL = t.LivePositionTTL
	}
	if t.DriverNameTTL > 0 {
		c.DriverNameTTL = t.DriverNameTTL
	}
	if c.TagTTL < c.LivePositionTTL {
		c.TagTTL = c.LivePositionTTL * 2
	}
	return c
}
