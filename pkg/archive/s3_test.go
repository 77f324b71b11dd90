package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"atypik-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3StorePutPathStyle(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), config.ArchiveConfig{
		Bucket:          "traces",
		Region:          "eu-west-3",
		Endpoint:        srv.URL,
		Prefix:          "missions/",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "m1.geojson", []byte(`{"type":"Feature"}`), "application/geo+json")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/traces/missions/m1.geojson", gotPath)
	assert.Equal(t, "application/geo+json", gotType)
	assert.Contains(t, string(gotBody), `{"type":"Feature"}`)
	assert.Equal(t, srv.URL+"/traces/missions/m1.geojson", url)
}

func TestS3StoreURL(t *testing.T) {
	s := &S3Store{bucket: "b", region: "eu-west-3"}
	assert.Equal(t, "https://b.s3.eu-west-3.amazonaws.com/k", s.url("k"))

	s.publicDomain = "cdn.atypik.fr"
	assert.Equal(t, "https://cdn.atypik.fr/k", s.url("k"))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.ArchiveConfig{Region: "eu-west-3"})
	assert.Error(t, err)
}
