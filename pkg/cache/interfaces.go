package cache

import (
	"context"
	"time"

	"atypik-backend/internal/models"
)

// CacheManager defines the caching operations used by the tracking engine
type CacheManager interface {
	// Live positions, one per mission. Older samples never replace newer ones.
	GetLivePosition(ctx context.Context, missionID string) (*models.Position, error)
	SetLivePosition(ctx context.Context, missionID string, pos models.Position, ttl time.Duration) (bool, error)
	InvalidateMission(ctx context.Context, missionID string) error

	// Driver display names used by the dashboard feed
	GetDriverName(ctx context.Context, driverID string) (string, bool, error)
	SetDriverName(ctx context.Context, driverID, name string, ttl time.Duration) error
	InvalidateDriver(ctx context.Context, driverID string) error

	// Generic operations
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Tag operations for grouped invalidation
	TagKey(ctx context.Context, key string, tags ...string) error
	InvalidateByTag(ctx context.Context, tag string) error

	GetCacheStats() CacheStats
	HealthCheck(ctx context.Context) error
}

// CacheStats provides cache performance metrics
type CacheStats struct {
	HitRate       float64 `json:"hitRate"`
	MissRate      float64 `json:"missRate"`
	EvictionCount int64   `json:"evictionCount"`
	TotalHits     int64   `json:"totalHits"`
	TotalMisses   int64   `json:"totalMisses"`
}
