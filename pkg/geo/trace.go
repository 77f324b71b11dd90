// Package geo holds distance estimation and GeoJSON encoding of mission traces.
package geo

import (
	"sort"
	"time"

	"atypik-backend/internal/models"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

var ErrEmptyTrace = errors.New("mission has no recorded positions")

// TraceFeature encodes a mission's position history as a GeoJSON Feature. Positions
// are ordered by timestamp; a single sample becomes a Point, more become a LineString.
func TraceFeature(missionID string, positions []models.GPSPosition) (*geojson.Feature, error) {
	if len(positions) == 0 {
		return nil, ErrEmptyTrace
	}

	sorted := make([]models.GPSPosition, len(positions))
	copy(sorted, positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	coords := make([]geom.Coord, 0, len(sorted))
	timestamps := make([]string, 0, len(sorted))
	distance := 0.0
	for i, p := range sorted {
		coords = append(coords, geom.Coord{p.Lng, p.Lat})
		timestamps = append(timestamps, p.Timestamp.UTC().Format(time.RFC3339))
		if i > 0 {
			prev := sorted[i-1]
			distance += Haversine(prev.Lat, prev.Lng, p.Lat, p.Lng)
		}
	}

	var g geom.T
	if len(coords) == 1 {
		pt, err := geom.NewPoint(geom.XY).SetCoords(coords[0])
		if err != nil {
			return nil, errors.Wrap(err, "failed to build point")
		}
		g = pt
	} else {
		ls, err := geom.NewLineString(geom.XY).SetCoords(coords)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build line string")
		}
		g = ls
	}

	return &geojson.Feature{
		ID:       missionID,
		Geometry: g,
		Properties: map[string]interface{}{
			"missionId":      missionID,
			"pointCount":     len(sorted),
			"startTime":      timestamps[0],
			"endTime":        timestamps[len(timestamps)-1],
			"distanceMeters": distance,
			"timestamps":     timestamps,
		},
	}, nil
}

// EncodeTrace returns the GeoJSON bytes for a mission trace.
func EncodeTrace(missionID string, positions []models.GPSPosition) ([]byte, error) {
	f, err := TraceFeature(missionID, positions)
	if err != nil {
		return nil, err
	}
	data, err := f.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode trace")
	}
	return data, nil
}
