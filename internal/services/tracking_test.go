package services

import (
	"context"
	"testing"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingFixture struct {
	*fixture
	parent   *models.User
	driver   *models.User
	mission  *models.ActiveMission
	missions *MissionService
	tracking *TrackingService
	pub      *recordingPublisher
}

func newTrackingFixture(t *testing.T, guard *IngestGuard) *trackingFixture {
	f := newFixture(t)
	tf := &trackingFixture{
		fixture: f,
		parent:  f.parent("alice", "r1"),
		driver:  f.driver("bob", "r1", models.DriverVerified),
		pub:     &recordingPublisher{},
	}
	tr := f.transport(tf.parent, day(0), "08:30", models.TransportProgrammed, tf.driver.ID.Hex())

	tf.missions = f.missionService()
	tf.missions.SetPublisher(tf.pub)
	mission, err := tf.missions.StartMission(f.ctx, principal(tf.driver), tr.ID.Hex())
	require.NoError(t, err)
	tf.mission = mission

	tf.tracking = NewTrackingService(f.stores, tf.missions, guard)
	tf.tracking.now = fixedClock
	tf.tracking.SetPublisher(tf.pub)
	return tf
}

func sample(lat, lng float64, ts time.Time) models.Sample {
	return models.Sample{Lat: lat, Lng: lng, Timestamp: ts}
}

func TestIngest_TwoSamplesUpdateCurrentAndHistory(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()
	t1 := testNow.Add(time.Minute)
	t2 := t1.Add(5 * time.Second)

	res, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, t1))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Current)

	res, err = tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.86, 2.36, t2))
	require.NoError(t, err)
	assert.True(t, res.Current)

	stored, err := tf.stores.Missions.FindByID(tf.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.CurrentPosition)
	assert.Equal(t, 48.86, stored.CurrentPosition.Lat)
	assert.Equal(t, 2.36, stored.CurrentPosition.Lng)
	assert.True(t, stored.CurrentPosition.Timestamp.Equal(t2))
	assert.Equal(t, models.MissionInProgress, stored.Status)

	history, err := tf.tracking.History(tf.ctx, principal(tf.parent), id, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 48.85, history[0].Lat)
	assert.Equal(t, 48.86, history[1].Lat)
}

func TestIngest_OlderSampleIsKeptInHistoryButNotCurrent(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()
	newer := testNow.Add(2 * time.Minute)
	older := testNow.Add(time.Minute)

	_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.86, 2.36, newer))
	require.NoError(t, err)

	res, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, older))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Current)
	assert.Equal(t, ReasonStale, res.Reason)

	stored, err := tf.stores.Missions.FindByID(tf.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 48.86, stored.CurrentPosition.Lat)

	history, err := tf.stores.Positions.FindByMission(tf.ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestIngest_FirstSampleAdvancesMission(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()

	_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
	require.NoError(t, err)

	var statuses []string
	var positions int
	for _, u := range tf.pub.all() {
		switch u.UpdateType {
		case websocket.UpdateStatus:
			statuses = append(statuses, u.Status)
		case websocket.UpdatePosition:
			positions++
		}
	}
	assert.Equal(t, []string{string(models.MissionStarted), string(models.MissionInProgress)}, statuses)
	assert.Equal(t, 1, positions)

	advanced, err := tf.missions.AdvanceToInProgress(tf.ctx, id)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestIngest_Throttled(t *testing.T) {
	tf := newTrackingFixture(t, NewIngestGuard(2*time.Second, 1, time.Minute))
	id := tf.mission.ID.Hex()

	res, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.851, 2.351, testNow.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonThrottled, res.Reason)

	tf.tracking.now = func() time.Time { return testNow.Add(3 * time.Second) }
	res, err = tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.852, 2.352, testNow.Add(3*time.Second)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	history, err := tf.stores.Positions.FindByMission(tf.ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestIngest_StoreFailureDropsSample(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	tf.stores.Positions = failingPositions{tf.stores.Positions}
	id := tf.mission.ID.Hex()

	res, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonDropped, res.Reason)

	stored, err := tf.stores.Missions.FindByID(tf.ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.CurrentPosition)
	assert.Equal(t, models.MissionStarted, stored.Status)
}

func TestIngest_Rejections(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()
	other := tf.fixture.driver("carl", "r1", models.DriverVerified)

	t.Run("invalid coordinates", func(t *testing.T) {
		_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(95, 2.35, testNow))
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("missing timestamp", func(t *testing.T) {
		_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, models.Sample{Lat: 48.85, Lng: 2.35})
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("another driver", func(t *testing.T) {
		_, err := tf.tracking.Ingest(tf.ctx, principal(other), id, sample(48.85, 2.35, testNow))
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("unknown mission", func(t *testing.T) {
		_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), "5f1d7f1c2b3a4d5e6f708192", sample(48.85, 2.35, testNow))
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("completed mission", func(t *testing.T) {
		_, err := tf.missions.CompleteMission(tf.ctx, principal(tf.driver), id)
		require.NoError(t, err)
		_, err = tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
		assert.True(t, apperr.Is(err, apperr.KindInvalidState))
	})
}

func TestLivePosition_UsesCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	manager := cache.NewRedisCacheManager(cache.StaticClient{Client: client}, cache.DefaultCacheConfig())

	tf := newTrackingFixture(t, nil)
	tf.tracking.SetCacheManager(manager)
	id := tf.mission.ID.Hex()

	_, err = tf.tracking.LivePosition(tf.ctx, principal(tf.parent), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
	require.NoError(t, err)

	cached, err := manager.GetLivePosition(tf.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 48.85, cached.Lat)

	pos, err := tf.tracking.LivePosition(tf.ctx, principal(tf.parent), id)
	require.NoError(t, err)
	assert.Equal(t, 2.35, pos.Lng)
}

func TestTrace(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()

	_, err := tf.tracking.Trace(tf.ctx, principal(tf.parent), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	for i, lat := range []float64{48.85, 48.86, 48.87} {
		_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(lat, 2.35, testNow.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	feature, err := tf.tracking.Trace(tf.ctx, principal(tf.parent), id)
	require.NoError(t, err)
	assert.Equal(t, id, feature.Properties["missionId"])
	assert.Equal(t, 3, feature.Properties["pointCount"])
}

func TestIngestGuard_Sweep(t *testing.T) {
	guard := NewIngestGuard(time.Second, 1, time.Nanosecond)
	assert.True(t, guard.Allow("m1", time.Now().Add(-time.Hour)))

	n, err := guard.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var nilGuard *IngestGuard
	assert.True(t, nilGuard.Allow("m1", time.Now()))
}

func TestHistory_ReturnsNewestPage(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	tf.tracking.SetHistoryPageSize(3)
	id := tf.mission.ID.Hex()

	for i := 0; i < 5; i++ {
		ts := testNow.Add(time.Duration(i) * time.Minute)
		res, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85+float64(i)*0.001, 2.35, ts))
		require.NoError(t, err)
		require.True(t, res.Accepted)
	}

	page, err := tf.tracking.History(tf.ctx, principal(tf.parent), id, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	for i, p := range page {
		assert.True(t, p.Timestamp.Equal(testNow.Add(time.Duration(i+2)*time.Minute)), "sample %d at %s", i, p.Timestamp)
	}

	page, err = tf.tracking.History(tf.ctx, principal(tf.parent), id, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Timestamp.Equal(testNow.Add(4*time.Minute)))

	all, err := tf.stores.Positions.FindByMission(tf.ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestCompleteMission_ForgetsIngestLimiter(t *testing.T) {
	guard := NewIngestGuard(time.Second, 1, time.Hour)
	tf := newTrackingFixture(t, guard)
	id := tf.mission.ID.Hex()

	res, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, 1, guard.limiter.Len())

	_, err = tf.missions.CompleteMission(tf.ctx, principal(tf.driver), id)
	require.NoError(t, err)
	assert.Equal(t, 0, guard.limiter.Len())
}
