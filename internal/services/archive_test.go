package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryArchive keeps uploaded objects by key.
type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memoryArchive) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = data
	return "https://traces.example.com/" + key, nil
}

func (a *memoryArchive) get(key string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.objects[key]
}

func TestCompleteMission_ArchivesTrace(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	store := &memoryArchive{}
	archiver := NewTraceArchiver(tf.stores.Positions, tf.stores.Missions, store)
	tf.missions.SetArchiver(archiver)
	id := tf.mission.ID.Hex()

	for i, lat := range []float64{48.85, 48.86} {
		_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(lat, 2.35, testNow.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	_, err := tf.missions.CompleteMission(tf.ctx, principal(tf.driver), id)
	require.NoError(t, err)
	archiver.Wait()

	raw := store.get(id + ".geojson")
	require.NotEmpty(t, raw)
	var feature map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &feature))
	assert.Equal(t, "Feature", feature["type"])

	stored, err := tf.stores.Missions.FindByID(tf.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://traces.example.com/"+id+".geojson", stored.TraceURL)
}

func TestArchiveTrace(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()

	_, err := tf.missions.ArchiveTrace(tf.ctx, adminPrincipal, id)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))

	tf.missions.SetArchiver(NewTraceArchiver(tf.stores.Positions, tf.stores.Missions, &memoryArchive{}))

	_, err = tf.missions.ArchiveTrace(tf.ctx, principal(tf.driver), id)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = tf.missions.ArchiveTrace(tf.ctx, adminPrincipal, id)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	_, err = tf.missions.CompleteMission(tf.ctx, principal(tf.driver), id)
	require.NoError(t, err)

	_, err = tf.missions.ArchiveTrace(tf.ctx, adminPrincipal, id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestArchiveTrace_Reupload(t *testing.T) {
	tf := newTrackingFixture(t, nil)
	id := tf.mission.ID.Hex()

	_, err := tf.tracking.Ingest(tf.ctx, principal(tf.driver), id, sample(48.85, 2.35, testNow))
	require.NoError(t, err)
	_, err = tf.missions.CompleteMission(tf.ctx, principal(tf.driver), id)
	require.NoError(t, err)

	store := &memoryArchive{}
	tf.missions.SetArchiver(NewTraceArchiver(tf.stores.Positions, tf.stores.Missions, store))

	url, err := tf.missions.ArchiveTrace(tf.ctx, adminPrincipal, id)
	require.NoError(t, err)
	assert.Equal(t, "https://traces.example.com/"+id+".geojson", url)
	assert.NotEmpty(t, store.get(id+".geojson"))
	assert.Equal(t, models.MissionCompleted, mustMission(t, tf, id).Status)
}

func mustMission(t *testing.T, tf *trackingFixture, id string) *models.ActiveMission {
	m, err := tf.stores.Missions.FindByID(tf.ctx, id)
	require.NoError(t, err)
	return m
}
