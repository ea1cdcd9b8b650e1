package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

func TestNominatimLookup(t *testing.T) {
	var gotPath, gotUA string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query()
		_, _ = io.WriteString(w, `[{"lat": "44.4268", "lon": "26.1025", "display_name": "Bucharest, Romania"}]`)
	}))
	defer srv.Close()

	n := NewNominatimSource(srv.URL+"/", "enrich-cli/test", srv.Client())
	m, err := n.Lookup(context.Background(), "bucharest")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, "enrich-cli/test", gotUA)
	assert.Equal(t, "bucharest", gotQuery["q"][0])
	assert.Equal(t, "jsonv2", gotQuery["format"][0])
	assert.Equal(t, "1", gotQuery["limit"][0])
	assert.InDelta(t, 44.4268, m.Latitude, 1e-6)
	assert.InDelta(t, 26.1025, m.Longitude, 1e-6)
	assert.Equal(t, "Bucharest, Romania", m.Label)
	assert.Equal(t, SourceCommunity, n.Name())
}

func TestNominatimLookup_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	m, err := NewNominatimSource(srv.URL, "ua", srv.Client()).Lookup(context.Background(), "nowhereville")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNominatimLookup_BadCoordinate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"lat": "north", "lon": "1.0"}]`)
	}))
	defer srv.Close()

	_, err := NewNominatimSource(srv.URL, "ua", srv.Client()).Lookup(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latitude")
}

func TestNominatimLookup_TooManyRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewNominatimSource(srv.URL, "ua", srv.Client()).Lookup(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestPhotonLookup(t *testing.T) {
	var gotPath, gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQ = r.URL.Query().Get("q")
		_, _ = io.WriteString(w, `{
			"type": "FeatureCollection",
			"features": [{
				"type": "Feature",
				"geometry": {"type": "Point", "coordinates": [24.7536, 59.4370]},
				"properties": {"name": "Tallinn", "state": "Harju County", "country": "Estonia"}
			}]
		}`)
	}))
	defer srv.Close()

	p := NewPhotonSource(srv.URL, srv.Client())
	m, err := p.Lookup(context.Background(), "tallinn")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "/api/", gotPath)
	assert.Equal(t, "tallinn", gotQ)
	assert.InDelta(t, 59.4370, m.Latitude, 1e-6)
	assert.InDelta(t, 24.7536, m.Longitude, 1e-6)
	assert.Equal(t, "Tallinn, Harju County, Estonia", m.Label)
	assert.Equal(t, SourceSecondary, p.Name())
}

func TestPhotonLookup_NoFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"type": "FeatureCollection", "features": []}`)
	}))
	defer srv.Close()

	m, err := NewPhotonSource(srv.URL, srv.Client()).Lookup(context.Background(), "nowhereville")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPhotonLookup_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPhotonSource(srv.URL, srv.Client()).Lookup(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestGazetteerLookup(t *testing.T) {
	g := NewGazetteer(map[string]Place{
		"Springfield, USA": {Label: "Springfield, IL, USA", Latitude: 39.7817, Longitude: -89.6501},
	})

	m, err := g.Lookup(context.Background(), "san francisco")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.InDelta(t, 37.7749, m.Latitude, 1e-9)
	assert.InDelta(t, -122.4194, m.Longitude, 1e-9)
	assert.Equal(t, "America/Los_Angeles", m.TimeZone)

	m, err = g.Lookup(context.Background(), "springfield")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Springfield, IL, USA", m.Label)

	m, err = g.Lookup(context.Background(), "nowhereville")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Greater(t, g.Len(), 30)
}

func TestLoadPlaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
"Austin, Texas":
  label: Austin, TX, USA
  lat: 30.2672
  lng: -97.7431
  tz: America/Chicago
boise:
  lat: 43.615
  lng: -116.2023
`), 0o644))

	places, err := LoadPlaces(path)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "boise", places["boise"].Label)

	g := NewGazetteer(places)
	m, err := g.Lookup(context.Background(), Normalize("Austin, Texas"))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Austin, TX, USA", m.Label)
	assert.Equal(t, "America/Chicago", m.TimeZone)
}

func TestLoadPlaces_Invalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadPlaces(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("x:\n  lat: 123\n  lng: 0\n"), 0o644))
	_, err = LoadPlaces(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid coordinates")
}
