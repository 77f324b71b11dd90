package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atypik-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

func TestHaversine(t *testing.T) {
	// Paris Notre-Dame to Eiffel Tower is roughly 4.1 km
	d := Haversine(48.8530, 2.3499, 48.8584, 2.2945)
	assert.InDelta(t, 4100, d, 150)
	assert.Equal(t, 0.0, Haversine(48.85, 2.35, 48.85, 2.35))
}

func TestHaversineDistanceRoadFactor(t *testing.T) {
	from := models.Place{Lat: 48.8530, Lng: 2.3499}
	to := models.Place{Lat: 48.8584, Lng: 2.2945}

	plain, err := HaversineDistance{}.Distance(context.Background(), from, to)
	require.NoError(t, err)
	road, err := HaversineDistance{RoadFactor: 1.3}.Distance(context.Background(), from, to)
	require.NoError(t, err)
	assert.InDelta(t, plain*1.3, road, 1)
}

func TestGoogleDistance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/distancematrix/json", r.URL.Path)
		assert.Equal(t, "driving", r.URL.Query().Get("mode"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "1.000000,2.000000", r.URL.Query().Get("origins"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","rows":[{"elements":[{"status":"OK","distance":{"value":5230}}]}]}`))
	}))
	defer srv.Close()

	g, err := NewGoogleDistance("k", time.Second, maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	d, err := g.Distance(context.Background(), models.Place{Lat: 1, Lng: 2}, models.Place{Lat: 3, Lng: 4})
	require.NoError(t, err)
	assert.Equal(t, 5230.0, d)
}

func TestGoogleDistanceNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","rows":[{"elements":[{"status":"ZERO_RESULTS"}]}]}`))
	}))
	defer srv.Close()

	g, err := NewGoogleDistance("k", time.Second, maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = g.Distance(context.Background(), models.Place{}, models.Place{})
	assert.Error(t, err)
}

func TestGoogleDistanceRequestDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key","rows":[]}`))
	}))
	defer srv.Close()

	g, err := NewGoogleDistance("k", time.Second, maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = g.Distance(context.Background(), models.Place{}, models.Place{})
	assert.Error(t, err)
}

func TestNewGoogleDistanceRequiresKey(t *testing.T) {
	_, err := NewGoogleDistance("", time.Second)
	assert.Error(t, err)
}

func TestEncodeTraceOrdersByTimestamp(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	positions := []models.GPSPosition{
		{Lat: 48.86, Lng: 2.36, Timestamp: t0.Add(10 * time.Second)},
		{Lat: 48.85, Lng: 2.35, Timestamp: t0},
	}

	data, err := EncodeTrace("m1", positions)
	require.NoError(t, err)

	var out struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "Feature", out.Type)
	assert.Equal(t, "LineString", out.Geometry.Type)
	require.Len(t, out.Geometry.Coordinates, 2)
	assert.Equal(t, []float64{2.35, 48.85}, out.Geometry.Coordinates[0])
	assert.Equal(t, []float64{2.36, 48.86}, out.Geometry.Coordinates[1])
	assert.Equal(t, float64(2), out.Properties["pointCount"])
	assert.Equal(t, "2026-03-02T08:00:00Z", out.Properties["startTime"])
}

func TestEncodeTraceSinglePointAndEmpty(t *testing.T) {
	data, err := EncodeTrace("m1", []models.GPSPosition{{Lat: 1, Lng: 2, Timestamp: time.Now()}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Point"`)

	_, err = EncodeTrace("m1", nil)
	assert.ErrorIs(t, err, ErrEmptyTrace)
}
