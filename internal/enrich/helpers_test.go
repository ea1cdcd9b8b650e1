package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/pkg/anthropic"
	"github.com/sells-group/enrich-cli/pkg/geocode"
)

var sf = density.Point{Lat: 37.7749, Lng: -122.4194}

// north returns a point km kilometres due north of p.
func north(p density.Point, km float64) *density.Point {
	return &density.Point{Lat: p.Lat + km/111.19, Lng: p.Lng}
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     1,
	}
}

// withPayloads builds a record with the given phases completed.
func withPayloads(t *testing.T, id string, payloads map[model.Phase]any) *model.EnrichmentRecord {
	t.Helper()
	rec := model.NewRecord(id)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range model.AllPhases {
		v, ok := payloads[p]
		if !ok {
			continue
		}
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		rec, err = rec.WithPhase(p, raw, at)
		require.NoError(t, err)
	}
	return rec
}

type fakeResolver struct {
	mu      sync.Mutex
	results map[string]*geocode.Result
	queries []string
}

func (f *fakeResolver) Resolve(_ context.Context, query string) *geocode.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if r, ok := f.results[query]; ok {
		return r
	}
	return &geocode.Result{Status: geocode.StatusNotFound}
}

// mockLLM implements anthropic.Client for testing.
type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Narrate(ctx context.Context, req anthropic.NarrativeRequest) (*anthropic.Narrative, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Narrative), args.Error(1)
}
