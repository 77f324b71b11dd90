package services

import (
	"context"

	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/cache"
	"atypik-backend/pkg/notify"
	"atypik-backend/pkg/telemetry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// sideEffects holds the optional collaborators a service reports to. Every one of
// them is best-effort: failures are logged and never change the result.
type sideEffects struct {
	cacheManager cache.CacheManager
	publisher    websocket.Publisher
	notifier     *notify.Dispatcher
	metrics      *telemetry.Metrics
}

// SetCacheManager allows setting the cache manager for live positions and driver names
func (s *sideEffects) SetCacheManager(cacheManager cache.CacheManager) {
	s.cacheManager = cacheManager
}

// SetPublisher allows setting the change feed mission updates are published to
func (s *sideEffects) SetPublisher(publisher websocket.Publisher) {
	s.publisher = publisher
}

// SetNotifier allows setting the email dispatcher
func (s *sideEffects) SetNotifier(notifier *notify.Dispatcher) {
	s.notifier = notifier
}

// SetMetrics allows setting the metric instruments
func (s *sideEffects) SetMetrics(metrics *telemetry.Metrics) {
	s.metrics = metrics
}

func (s *sideEffects) publish(ctx context.Context, update websocket.MissionUpdate) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(update); err != nil {
		if errors.Is(err, websocket.ErrFeedFull) {
			s.metrics.RecordFeedDrop(ctx)
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"mission": update.MissionID,
			"type":    update.UpdateType,
		}).Warn("Failed to publish mission update")
	}
}

func (s *sideEffects) notify(msg notify.Message) {
	s.notifier.Notify(msg)
}
