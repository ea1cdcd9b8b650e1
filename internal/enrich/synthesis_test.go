package enrich

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/anthropic"
	"github.com/sells-group/enrich-cli/pkg/geocode"
)

func synthesisRecord(t *testing.T) *model.EnrichmentRecord {
	t.Helper()
	return withPayloads(t, "e1", map[model.Phase]any{
		model.PhaseWeb: WebPayload{Found: true, FinalURL: "https://acme.com/", Title: "Acme", Description: "Widgets"},
		model.PhaseGeo: GeoPayload{
			Status: geocode.StatusSuccess, Label: "San Francisco, CA, USA", TimeZone: "America/Los_Angeles",
			Latitude: sf.Lat, Longitude: sf.Lng,
			Density: &density.Report{Within: map[int]int{1: 0, 5: 2, 10: 3, 25: 7, 50: 9}},
		},
		model.PhaseTechnical: TechnicalPayload{Found: true, Organization: "acme-inc", Stars: 42, Languages: []string{"Go"}},
		model.PhasePatents:   json.RawMessage(`{"found":false}`),
		model.PhaseReviews:   json.RawMessage(`[{"rating":4}]`),
	})
}

func TestSynthesisEnricher_Profile(t *testing.T) {
	s := NewSynthesisEnricher(nil, "", 0)
	out, err := s.Enrich(context.Background(),
		model.Entity{ID: "e1", Name: "Acme", Website: "acme.com", Group: "tools"},
		Context{Record: synthesisRecord(t)})
	require.NoError(t, err)

	p := out.(SynthesisPayload)
	assert.Equal(t, []string{"web", "geo", "technical", "patents", "reviews"}, p.Phases)
	assert.InDelta(t, 5.0/7.0, p.Completeness, 1e-9)
	assert.Empty(t, p.Narrative)
	assert.Equal(t, Profile{
		Name:        "Acme",
		Group:       "tools",
		Website:     "https://acme.com/",
		Title:       "Acme",
		Description: "Widgets",
		Location:    "San Francisco, CA, USA",
		TimeZone:    "America/Los_Angeles",
		Nearby:      7,
		GitHubOrg:   "acme-inc",
		Stars:       42,
		Languages:   []string{"Go"},
		Sources:     []string{"reviews"},
	}, p.Profile)
}

func TestSynthesisEnricher_EmptyRecord(t *testing.T) {
	out, err := NewSynthesisEnricher(nil, "", 0).Enrich(context.Background(),
		model.Entity{ID: "e1"}, Context{Record: model.NewRecord("e1")})
	require.NoError(t, err)
	p := out.(SynthesisPayload)
	assert.Zero(t, p.Completeness)
	assert.Equal(t, "e1", p.Profile.Name)
	assert.NotNil(t, p.Phases)
}

func TestSynthesisEnricher_Narrative(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Narrate", mock.Anything, mock.MatchedBy(func(req anthropic.NarrativeRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 300 &&
			req.Instructions == synthesisInstructions &&
			strings.Contains(req.Facts, `"github_org": "acme-inc"`)
	})).Return(&anthropic.Narrative{
		Text:  "Acme makes widgets in San Francisco.",
		Usage: anthropic.Usage{Input: 1_000_000, Output: 100_000},
	}, nil)

	s := NewSynthesisEnricher(llm, "claude-haiku-4-5-20251001", 0)
	out, err := s.Enrich(context.Background(), model.Entity{ID: "e1", Name: "Acme"}, Context{Record: synthesisRecord(t)})
	require.NoError(t, err)

	p := out.(SynthesisPayload)
	assert.Equal(t, "Acme makes widgets in San Francisco.", p.Narrative)
	assert.Equal(t, "claude-haiku-4-5-20251001", p.Model)
	assert.InDelta(t, 1.20, p.NarrativeCostUSD, 1e-9)
	llm.AssertExpectations(t)
}

func TestSynthesisEnricher_TruncatedNarrativeKept(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Narrate", mock.Anything, mock.Anything).Return(&anthropic.Narrative{Text: "Acme makes", Truncated: true}, nil)

	out, err := NewSynthesisEnricher(llm, "unknown-model", 5).Enrich(context.Background(),
		model.Entity{ID: "e1", Name: "Acme"}, Context{Record: synthesisRecord(t)})
	require.NoError(t, err)
	p := out.(SynthesisPayload)
	assert.Equal(t, "Acme makes", p.Narrative)
	assert.Zero(t, p.NarrativeCostUSD)
}

func TestNarrativeCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage anthropic.Usage
		want  float64
	}{
		{"haiku", "claude-haiku-4-5-20251001", anthropic.Usage{Input: 1_000_000, Output: 1_000_000}, 4.80},
		{"sonnet", "claude-sonnet-4-5-20250929", anthropic.Usage{Input: 1_000_000, Output: 1_000_000}, 18.00},
		{"cache", "claude-haiku-4-5-20251001", anthropic.Usage{Input: 500_000, Output: 100_000, CacheWrite: 200_000, CacheRead: 300_000}, 1.024},
		{"unknown", "unknown-model", anthropic.Usage{Input: 1_000_000}, 0},
		{"zero", "claude-haiku-4-5-20251001", anthropic.Usage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, narrativeCost(tt.model, tt.usage), 0.001)
		})
	}
}

func TestSynthesisEnricher_NarrativeFailureKeepsProfile(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Narrate", mock.Anything, mock.Anything).Return(nil, eris.New("overloaded"))

	s := NewSynthesisEnricher(llm, "claude-haiku-4-5-20251001", 100)
	out, err := s.Enrich(context.Background(), model.Entity{ID: "e1", Name: "Acme"}, Context{Record: synthesisRecord(t)})
	require.NoError(t, err)

	p := out.(SynthesisPayload)
	assert.Empty(t, p.Narrative)
	assert.Empty(t, p.Model)
	assert.Equal(t, "acme-inc", p.Profile.GitHubOrg)
	llm.AssertExpectations(t)
}
