package geo

import (
	"context"
	"math"
	"strconv"
	"time"

	"atypik-backend/internal/models"

	"github.com/pkg/errors"
	"googlemaps.github.io/maps"
)

const earthRadiusMeters = 6371000.0

// DistanceService returns the driving distance between two places in meters.
type DistanceService interface {
	Distance(ctx context.Context, from, to models.Place) (float64, error)
}

// Haversine returns the great-circle distance between two coordinates in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// HaversineDistance estimates road distance as the great-circle distance times RoadFactor.
type HaversineDistance struct {
	RoadFactor float64
}

func (h HaversineDistance) Distance(_ context.Context, from, to models.Place) (float64, error) {
	factor := h.RoadFactor
	if factor <= 0 {
		factor = 1
	}
	return math.Round(Haversine(from.Lat, from.Lng, to.Lat, to.Lng) * factor), nil
}

// GoogleDistance queries the Google Distance Matrix API in driving mode.
type GoogleDistance struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleDistance builds a client for apiKey. Extra options are passed to the
// maps client, which lets tests point it at a local server.
func NewGoogleDistance(apiKey string, timeout time.Duration, opts ...maps.ClientOption) (*GoogleDistance, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create maps client")
	}
	return &GoogleDistance{client: client, timeout: timeout}, nil
}

func (g *GoogleDistance) Distance(ctx context.Context, from, to models.Place) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: []string{latLng(to)},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsMetric,
	})
	if err != nil {
		return 0, errors.Wrap(err, "distance request failed")
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, errors.New("distance service returned no route")
	}
	element := resp.Rows[0].Elements[0]
	if element.Status != "OK" {
		return 0, errors.Errorf("no driving route: %s", element.Status)
	}
	return float64(element.Distance.Meters), nil
}

func latLng(p models.Place) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
