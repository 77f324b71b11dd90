package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"atypik-backend/internal/models"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// setIfNewer stores a position only when its timestamp is strictly newer.
var setIfNewer = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'ts')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1])
redis.call('HSET', KEYS[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCacheManager implements CacheManager using Redis
type RedisCacheManager struct {
	client ClientProvider
	config CacheConfig
	stats  *cacheStats
}

type cacheStats struct {
	mu            sync.RWMutex
	totalHits     int64
	totalMisses   int64
	evictionCount int64
}

// NewRedisCacheManager creates a new Redis-backed cache manager
func NewRedisCacheManager(client ClientProvider, config CacheConfig) *RedisCacheManager {
	return &RedisCacheManager{
		client: client,
		config: config,
		stats:  &cacheStats{},
	}
}

func (r *RedisCacheManager) GetLivePosition(ctx context.Context, missionID string) (*models.Position, error) {
	key := r.buildKey("live", missionID)

	data, err := r.client.GetClient().HGet(ctx, key, "data").Result()
	if err != nil {
		if err == goredis.Nil {
			r.recordMiss()
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get live position from cache")
	}

	var pos models.Position
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal live position")
	}

	r.recordHit()
	return &pos, nil
}

func (r *RedisCacheManager) SetLivePosition(ctx context.Context, missionID string, pos models.Position, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = r.config.LivePositionTTL
	}
	key := r.buildKey("live", missionID)

	data, err := json.Marshal(pos)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal live position")
	}

	stored, err := setIfNewer.Run(ctx, r.client.GetClient(), []string{key},
		strconv.FormatInt(pos.Timestamp.UnixMilli(), 10),
		string(data),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "failed to set live position in cache")
	}

	if err := r.TagKey(ctx, key, missionTag(missionID)); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("failed to tag cache key")
	}
	return stored == 1, nil
}

func (r *RedisCacheManager) InvalidateMission(ctx context.Context, missionID string) error {
	return r.InvalidateByTag(ctx, missionTag(missionID))
}

func (r *RedisCacheManager) GetDriverName(ctx context.Context, driverID string) (string, bool, error) {
	key := r.buildKey("driver_name", driverID)

	name, err := r.client.GetClient().Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			r.recordMiss()
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "failed to get driver name from cache")
	}

	r.recordHit()
	return name, true, nil
}

func (r *RedisCacheManager) SetDriverName(ctx context.Context, driverID, name string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DriverNameTTL
	}
	key := r.buildKey("driver_name", driverID)

	if err := r.client.GetClient().Set(ctx, key, name, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set driver name in cache")
	}
	if err := r.TagKey(ctx, key, driverTag(driverID)); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("failed to tag cache key")
	}
	return nil
}

func (r *RedisCacheManager) InvalidateDriver(ctx context.Context, driverID string) error {
	return r.InvalidateByTag(ctx, driverTag(driverID))
}

// Get reports whether the key was present and decodes it into dest.
func (r *RedisCacheManager) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	cacheKey := r.buildKey("generic", key)

	data, err := r.client.GetClient().Get(ctx, cacheKey).Result()
	if err != nil {
		if err == goredis.Nil {
			r.recordMiss()
			return false, nil
		}
		return false, errors.Wrap(err, "failed to get from cache")
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, errors.Wrap(err, "failed to unmarshal data")
	}

	r.recordHit()
	return true, nil
}

func (r *RedisCacheManager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.GenericTTL
	}
	cacheKey := r.buildKey("generic", key)

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal data")
	}

	return r.client.GetClient().Set(ctx, cacheKey, data, ttl).Err()
}

func (r *RedisCacheManager) Delete(ctx context.Context, key string) error {
	cacheKey := r.buildKey("generic", key)
	if err := r.removeKeyTags(ctx, cacheKey); err != nil {
		logrus.WithError(err).WithField("key", cacheKey).Warn("failed to remove cache key tags")
	}
	return r.client.GetClient().Del(ctx, cacheKey).Err()
}

// TagKey associates tags with a cache key for grouped invalidation
func (r *RedisCacheManager) TagKey(ctx context.Context, key string, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	pipe := r.client.GetClient().Pipeline()

	keyTagsKey := r.buildTagKey("key_tags", key)
	pipe.SAdd(ctx, keyTagsKey, tags)
	pipe.Expire(ctx, keyTagsKey, r.config.TagTTL)

	for _, tag := range tags {
		tagKeysKey := r.buildTagKey("tag_keys", tag)
		pipe.SAdd(ctx, tagKeysKey, key)
		pipe.Expire(ctx, tagKeysKey, r.config.TagTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateByTag removes all keys associated with a tag
func (r *RedisCacheManager) InvalidateByTag(ctx context.Context, tag string) error {
	tagKeysKey := r.buildTagKey("tag_keys", tag)

	keys, err := r.client.GetClient().SMembers(ctx, tagKeysKey).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to get keys for tag %s", tag)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := r.client.GetClient().Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
		pipe.Del(ctx, r.buildTagKey("key_tags", key))
	}
	pipe.Del(ctx, tagKeysKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to invalidate keys for tag %s", tag)
	}

	r.stats.mu.Lock()
	r.stats.evictionCount += int64(len(keys))
	r.stats.mu.Unlock()
	return nil
}

// GetCacheStats returns cache performance statistics
func (r *RedisCacheManager) GetCacheStats() CacheStats {
	r.stats.mu.RLock()
	defer r.stats.mu.RUnlock()

	stats := CacheStats{
		TotalHits:     r.stats.totalHits,
		TotalMisses:   r.stats.totalMisses,
		EvictionCount: r.stats.evictionCount,
	}
	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRate = float64(stats.TotalHits) / float64(total)
		stats.MissRate = float64(stats.TotalMisses) / float64(total)
	}
	return stats
}

// HealthCheck verifies cache connectivity
func (r *RedisCacheManager) HealthCheck(ctx context.Context) error {
	return r.client.GetClient().Ping(ctx).Err()
}

func (r *RedisCacheManager) buildKey(keyType, identifier string) string {
	return fmt.Sprintf("%s%s:%s", r.config.KeyPrefix, keyType, identifier)
}

func (r *RedisCacheManager) buildTagKey(keyType, identifier string) string {
	return fmt.Sprintf("%s%s:%s", r.config.TagPrefix, keyType, identifier)
}

func (r *RedisCacheManager) recordHit() {
	r.stats.mu.Lock()
	r.stats.totalHits++
	r.stats.mu.Unlock()
}

func (r *RedisCacheManager) recordMiss() {
	r.stats.mu.Lock()
	r.stats.totalMisses++
	r.stats.mu.Unlock()
}

func (r *RedisCacheManager) removeKeyTags(ctx context.Context, key string) error {
	keyTagsKey := r.buildTagKey("key_tags", key)

	tags, err := r.client.GetClient().SMembers(ctx, keyTagsKey).Result()
	if err != nil {
		return err
	}

	pipe := r.client.GetClient().Pipeline()
	for _, tag := range tags {
		pipe.SRem(ctx, r.buildTagKey("tag_keys", tag), key)
	}
	pipe.Del(ctx, keyTagsKey)

	_, err = pipe.Exec(ctx)
	return err
}

func missionTag(missionID string) string { return "mission:" + missionID }
func driverTag(driverID string) string   { return "driver:" + driverID }
