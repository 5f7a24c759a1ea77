package overpass

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
)

const sampleResponse = `{
  "version": 0.6,
  "generator": "Overpass API",
  "osm3s": {"timestamp_osm_base": "2024-03-01T00:00:00Z", "copyright": "ODbL"},
  "elements": [
    {"type": "way", "id": 20, "nodes": [1, 2], "tags": {"highway": "track"}},
    {"type": "way", "id": 10, "nodes": [3, 4], "tags": {"waterway": "river", "name": "Ewaso Ng'iro"}},
    {"type": "node", "id": 5, "lat": -2.0, "lon": 37.5, "tags": {"place": "village", "name": "Olkaria"}},
    {"type": "node", "id": 6, "lat": -2.02, "lon": 37.52, "tags": {"natural": "spring"}},
    {"type": "node", "id": 7, "lat": -2.03, "lon": 37.53, "tags": {"amenity": "school"}},
    {"type": "node", "id": 1, "lat": -2.01, "lon": 37.4},
    {"type": "node", "id": 2, "lat": -2.01, "lon": 37.6},
    {"type": "node", "id": 3, "lat": -1.95, "lon": 37.45},
    {"type": "node", "id": 4, "lat": -1.96, "lon": 37.55}
  ]
}`

func testBounds() domain.Bounds {
	return domain.Bounds{
		SouthWest: domain.LatLng{Lat: -2.1, Lng: 37.4},
		NorthEast: domain.LatLng{Lat: -1.9, Lng: 37.6},
	}
}

func testSource(endpoint string) *Source {
	return NewSource(endpoint, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSource_References(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "highway")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	set, err := testSource(srv.URL).References(context.Background(), testBounds())
	require.NoError(t, err)

	assert.Equal(t, []features.Path{
		{{Lat: -2.01, Lng: 37.4}, {Lat: -2.01, Lng: 37.6}},
	}, set.Roads)
	assert.Equal(t, []features.Path{
		{{Lat: -1.95, Lng: 37.45}, {Lat: -1.96, Lng: 37.55}},
		{{Lat: -2.02, Lng: 37.52}},
	}, set.Water, "ways first, then springs")
	assert.Equal(t, []features.Path{
		{{Lat: -2.0, Lng: 37.5}},
	}, set.Settlements)
}

func TestSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	_, err := testSource(srv.URL).References(context.Background(), testBounds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overpass query")
}

func TestSource_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testSource(srv.URL).References(ctx, testBounds())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuery(t *testing.T) {
	q := Query(testBounds(), 25*time.Second)

	assert.Contains(t, q, "[out:json][timeout:25];")
	assert.Contains(t, q, `way["waterway"~"^(river|stream|canal)$"](-2.100000,37.400000,-1.900000,37.600000);`)
	assert.Contains(t, q, `node["natural"="spring"]`)
	assert.Contains(t, q, "out skel qt;")
}

func TestIsSettlement(t *testing.T) {
	tests := []struct {
		place string
		want  bool
	}{
		{"village", true},
		{"Town", true},
		{"hamlet", true},
		{"locality", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.place, func(t *testing.T) {
			assert.Equal(t, tt.want, isSettlement(tt.place))
		})
	}
}
