package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/enrich"
	"github.com/sells-group/enrich-cli/internal/entities"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/pkg/anthropic"
	"github.com/sells-group/enrich-cli/pkg/geocode"
)

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func storeConfig(c config.StoreConfig) store.Config {
	return store.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DatabaseURL,
		Pool:   &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns},
	}
}

// initStore opens and migrates the configured record store.
func initStore(ctx context.Context, c *config.Config) (store.RecordStore, error) {
	st, err := store.Open(ctx, storeConfig(c.Store))
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// loadEntities reads the configured entity source.
func loadEntities(ctx context.Context, c *config.Config) ([]model.Entity, error) {
	src, err := entities.Open(c.Entities.Path)
	if err != nil {
		return nil, err
	}
	list, err := src.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Info("entities loaded", zap.String("path", c.Entities.Path), zap.Int("count", len(list)))
	return list, nil
}

// newResolver builds the location resolver chain. The primary source is
// only added when a key is configured, and only used after a successful
// health check.
func newResolver(ctx context.Context, c config.GeocodeConfig) *geocode.Resolver {
	client := &http.Client{Timeout: secs(c.TimeoutSecs)}
	opts := []geocode.Option{
		geocode.WithCommunity(
			geocode.NewNominatimSource(c.NominatimURL, c.UserAgent, client),
			time.Duration(c.CommunityIntervalMs)*time.Millisecond,
		),
		geocode.WithSecondary(geocode.NewPhotonSource(c.PhotonURL, client)),
		geocode.WithSourceTimeout(secs(c.TimeoutSecs)),
		geocode.WithBreakers(resilience.BreakerFromSettings(c.BreakerThreshold, c.BreakerCooldownSecs)),
	}
	if c.GazetteerFile != "" {
		places, err := geocode.LoadPlaces(c.GazetteerFile)
		if err != nil {
			zap.L().Warn("ignoring gazetteer file", zap.String("path", c.GazetteerFile), zap.Error(err))
		} else {
			opts = append(opts, geocode.WithGazetteer(geocode.NewGazetteer(places)))
		}
	}
	if c.GoogleKey != "" {
		opts = append(opts, geocode.WithPrimary(geocode.NewGoogleSource(c.GoogleKey, c.GoogleQPS, client)))
	}
	r := geocode.NewResolver(opts...)
	if err := r.CheckHealth(ctx); err != nil {
		zap.L().Warn("primary geocoder unavailable, continuing with free sources", zap.Error(err))
	}
	return r
}

// newRegistry builds the enricher for phase. Only the selected phase is
// constructed so that unrelated sources need no configuration.
func newRegistry(ctx context.Context, c *config.Config, phase model.Phase) (*enrich.Registry, error) {
	var e enrich.Enricher
	switch phase {
	case model.PhaseWeb:
		w := c.Sources.Web
		e = enrich.NewWebEnricher(&http.Client{Timeout: secs(w.TimeoutSecs)},
			enrich.WithWebUserAgent(w.UserAgent),
			enrich.WithWebRetry(resilience.PolicyFromSettings(w.MaxAttempts, w.InitialBackoffMs, w.MaxBackoffMs)),
		)
	case model.PhaseGeo:
		e = enrich.NewGeoEnricher(newResolver(ctx, c.Geocode), c.Batch.GeoMinCoverage)
	case model.PhaseTechnical:
		gh := c.Sources.GitHub
		e = enrich.NewTechnicalEnricher(gh.BaseURL, gh.Token, gh.QPS, &http.Client{Timeout: 30 * time.Second})
	case model.PhaseNetwork:
		e = enrich.NewNetworkEnricher(c.Batch.NetworkMinCoverage, c.Batch.NetworkRadiusKM)
	case model.PhasePatents, model.PhaseReviews, model.PhaseHiring:
		ep, _ := c.Sources.Endpoint(phase)
		e = enrich.NewSourceEnricher(phase, ep.URL, ep.Key, &http.Client{Timeout: secs(ep.TimeoutSecs)})
	case model.PhaseSynthesis:
		var client anthropic.Client
		if c.Anthropic.Key != "" {
			client = anthropic.NewClient(c.Anthropic.Key)
		}
		e = enrich.NewSynthesisEnricher(client, c.Anthropic.Model, c.Anthropic.MaxTokens)
	default:
		return nil, eris.Errorf("no enricher for phase %q", phase)
	}
	return enrich.NewRegistry(e), nil
}
