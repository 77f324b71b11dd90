package services

import (
	"context"
	"sync"
	"time"

	"atypik-backend/internal/repository"
	"atypik-backend/pkg/archive"
	"atypik-backend/pkg/geo"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TraceArchiver uploads a completed mission's GPS history as GeoJSON and records
// the resulting URL on the mission.
type TraceArchiver struct {
	positions repository.PositionStore
	missions  repository.MissionStore
	store     archive.Store
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewTraceArchiver(positions repository.PositionStore, missions repository.MissionStore, store archive.Store) *TraceArchiver {
	return &TraceArchiver{
		positions: positions,
		missions:  missions,
		store:     store,
		timeout:   time.Minute,
	}
}

// Archive uploads the trace and returns its URL.
func (a *TraceArchiver) Archive(ctx context.Context, missionID string) (string, error) {
	positions, err := a.positions.FindByMission(ctx, missionID, 0)
	if err != nil {
		return "", errors.Wrap(err, "failed to load positions")
	}

	values := derefPositions(positions)
	data, err := geo.EncodeTrace(missionID, values)
	if err != nil {
		return "", err
	}

	url, err := a.store.Put(ctx, missionID+".geojson", data, "application/geo+json")
	if err != nil {
		return "", err
	}
	if err := a.missions.SetTraceURL(ctx, missionID, url); err != nil {
		return "", errors.Wrap(err, "failed to record trace url")
	}
	return url, nil
}

// ArchiveAsync archives in the background. Failures are logged.
func (a *TraceArchiver) ArchiveAsync(missionID string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		url, err := a.Archive(ctx, missionID)
		log := logrus.WithField("mission", missionID)
		switch {
		case errors.Is(err, geo.ErrEmptyTrace):
			log.Debug("No positions to archive")
		case err != nil:
			log.WithError(err).Warn("Trace archive failed")
		default:
			log.WithField("url", url).Info("Trace archived")
		}
	}()
}

// Wait blocks until background uploads finish.
func (a *TraceArchiver) Wait() {
	a.wg.Wait()
}
