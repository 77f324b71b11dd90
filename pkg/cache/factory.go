package cache

import (
	goredis "github.com/redis/go-redis/v9"
)

// ClientProvider hands out the current Redis client. *redis.Client from pkg/redis
// implements it and may swap the underlying client on reconnect.
type ClientProvider interface {
	GetClient() *goredis.Client
}

// StaticClient adapts a plain go-redis client to ClientProvider.
type StaticClient struct {
	Client *goredis.Client
}

func (s StaticClient) GetClient() *goredis.Client { return s.Client }

// NewCacheManager creates a new cache manager with the specified Redis client and configuration
func NewCacheManager(provider ClientProvider, config CacheConfig) CacheManager {
	return NewRedisCacheManager(provider, config)
}
