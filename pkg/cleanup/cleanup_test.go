package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	s := NewCleanupService(time.Hour)
	s.Register("failing", SweeperFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("boom")
	}))
	s.Register("ok", SweeperFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 3, nil
	}))

	s.RunOnce(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestStartRunsOnTickAndStops(t *testing.T) {
	var calls atomic.Int32
	s := NewCleanupService(10 * time.Millisecond)
	s.Register("count", SweeperFunc(func(context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}))

	go s.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}
