package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper removes stale in-process state and reports how many entries it dropped.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(ctx context.Context) (int, error)

func (f SweeperFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

type task struct {
	name    string
	sweeper Sweeper
}

// CleanupService runs registered sweepers on a fixed interval.
type CleanupService struct {
	interval time.Duration
	tasks    []task
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewCleanupService(interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CleanupService{
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a sweeper. Call before Start.
func (s *CleanupService) Register(name string, sweeper Sweeper) {
	s.tasks = append(s.tasks, task{name: name, sweeper: sweeper})
}

// Start runs the sweepers until Stop is called or ctx is done.
func (s *CleanupService) Start(ctx context.Context) {
	defer close(s.done)
	logrus.WithField("interval", s.interval).Info("Starting cleanup service")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			logrus.Info("Stopping cleanup service")
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs every sweeper once.
func (s *CleanupService) RunOnce(ctx context.Context) {
	for _, t := range s.tasks {
		count, err := t.sweeper.Sweep(ctx)
		if err != nil {
			logrus.WithError(err).WithField("task", t.name).Warn("Cleanup task failed")
			continue
		}
		if count > 0 {
			logrus.WithFields(logrus.Fields{"task": t.name, "removed": count}).Debug("Cleanup task removed entries")
		}
	}
}

// Stop ends Start and waits for it to return.
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}
