package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no stray config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "entities.csv", cfg.Entities.Path)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "enrich.db", cfg.Store.Path)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, 100, cfg.Batch.SubmitDelayMs)
	assert.InDelta(t, 0.5, cfg.Batch.GeoMinCoverage, 0.001)
	assert.InDelta(t, 0.8, cfg.Batch.NetworkMinCoverage, 0.001)
	assert.InDelta(t, 25, cfg.Batch.NetworkRadiusKM, 0.001)
	assert.Equal(t, 1000, cfg.Geocode.CommunityIntervalMs)
	assert.Equal(t, 15, cfg.Geocode.TimeoutSecs)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.NominatimURL)
	assert.Equal(t, "https://photon.komoot.io", cfg.Geocode.PhotonURL)
	assert.Equal(t, "https://api.github.com", cfg.Sources.GitHub.BaseURL)
	assert.Equal(t, 3, cfg.Sources.Web.MaxAttempts)
	assert.Equal(t, 20, cfg.Sources.Reviews.TimeoutSecs)
	assert.Equal(t, int64(300), cfg.Anthropic.MaxTokens)
	assert.Empty(t, cfg.Anthropic.Key)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: pebble
  path: ./records
log:
  level: debug
  format: console
batch:
  workers: 8
sources:
  reviews:
    url: https://reviews.example.com/v1/lookup
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pebble", cfg.Store.Driver)
	assert.Equal(t, "./records", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, "https://reviews.example.com/v1/lookup", cfg.Sources.Reviews.URL)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Batch.SubmitDelayMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ENRICH_STORE_DRIVER", "postgres")
	t.Setenv("ENRICH_LOG_LEVEL", "warn")
	t.Setenv("ENRICH_SOURCES_GITHUB_TOKEN", "ghp_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "ghp_test", cfg.Sources.GitHub.Token)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation for every phase
// except the generic source phases.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Entities.Path = "entities.csv"
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "enrich.db"
	cfg.Batch.Workers = 4
	cfg.Batch.GeoMinCoverage = 0.5
	cfg.Batch.NetworkMinCoverage = 0.8
	cfg.Batch.NetworkRadiusKM = 25
	cfg.Geocode.UserAgent = "enrich-cli/test"
	cfg.Sources.GitHub.BaseURL = "https://api.github.com"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, p := range []model.Phase{"", model.PhaseWeb, model.PhaseGeo, model.PhaseTechnical, model.PhaseNetwork, model.PhaseSynthesis} {
		assert.NoError(t, cfg.Validate(p), "phase %q", p)
	}
}

func TestValidate_SourceEndpoints(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate(model.PhasePatents)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingSetting))
	assert.Contains(t, err.Error(), "sources.patents.url is required")

	cfg.Sources.Patents.URL = "https://patents.example.com"
	assert.NoError(t, cfg.Validate(model.PhasePatents))
	assert.Error(t, cfg.Validate(model.PhaseHiring))
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/enrich"
	assert.NoError(t, cfg.Validate(""))

	cfg.Store.Driver = "memory"
	cfg.Store.Path = ""
	assert.NoError(t, cfg.Validate(""))

	cfg.Store.Driver = "mongo"
	err = cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mongo"`)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := &Config{}
	cfg.Batch.NetworkMinCoverage = 1.5

	err := cfg.Validate(model.PhaseNetwork)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entities.path is required")
	assert.Contains(t, err.Error(), "store.path is required")
	assert.Contains(t, err.Error(), "batch.workers must be between 1 and 64")
	assert.Contains(t, err.Error(), "batch.network_min_coverage must be between 0 and 1")
	assert.Contains(t, err.Error(), "batch.network_radius_km must be > 0")
}

func TestValidate_Synthesis(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-test"
	err := cfg.Validate(model.PhaseSynthesis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.model")

	cfg.Anthropic.Model = "claude-haiku-4-5-20251001"
	assert.NoError(t, cfg.Validate(model.PhaseSynthesis))
}

func TestValidate_UnknownPhase(t *testing.T) {
	err := validDefaults().Validate("astrology")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown phase "astrology"`)
}

func TestSourcesEndpoint(t *testing.T) {
	s := SourcesConfig{Reviews: EndpointConfig{URL: "https://r.example.com"}}
	ep, ok := s.Endpoint(model.PhaseReviews)
	assert.True(t, ok)
	assert.Equal(t, "https://r.example.com", ep.URL)

	_, ok = s.Endpoint(model.PhaseWeb)
	assert.False(t, ok)
}
