package redis

import (
	"context"
	"testing"
	"time"

	"atypik-backend/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mr *miniredis.Miniredis) config.RedisConfig {
	return config.RedisConfig{
		Host:         mr.Host(),
		Port:         mr.Port(),
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   1,
		RetryDelay:   10 * time.Millisecond,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  time.Second,
		IdleTimeout:  time.Minute,
	}
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewClient(testConfig(mr))
	defer client.Close()

	require.NotNil(t, client.GetClient())
	assert.True(t, client.IsConnected())
}

func TestHealthCheck(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewClient(testConfig(mr))
	defer client.Close()

	status := client.HealthCheck(context.Background())
	assert.True(t, status.IsConnected)
	assert.Equal(t, mr.Addr(), status.ConnectionInfo)
	assert.False(t, status.LastPing.IsZero())
	assert.Empty(t, status.Error)
}

func TestHealthCheck_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := NewClient(testConfig(mr))
	defer client.Close()

	mr.Close()

	status := client.HealthCheck(context.Background())
	assert.False(t, status.IsConnected)
	assert.NotEmpty(t, status.Error)
}

func TestGetConnectionStats(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewClient(testConfig(mr))
	defer client.Close()

	stats := client.GetConnectionStats()
	for _, key := range []string{"hits", "misses", "timeouts", "totalConns", "idleConns", "staleConns", "isConnected"} {
		assert.Contains(t, stats, key)
	}
}
