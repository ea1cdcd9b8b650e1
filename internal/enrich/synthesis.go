package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/anthropic"
)

const synthesisInstructions = `You write short factual profiles of organizations from structured enrichment data.
Use only the facts in the provided JSON. Write two or three plain sentences. Do not speculate, do not use marketing language, and do not mention missing data.`

// Profile is the deterministic summary assembled from other phases.
type Profile struct {
	Name        string   `json:"name"`
	Group       string   `json:"group,omitempty"`
	Website     string   `json:"website,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	TimeZone    string   `json:"time_zone,omitempty"`
	Nearby      int      `json:"nearby_within_25km,omitempty"`
	GitHubOrg   string   `json:"github_org,omitempty"`
	Stars       int      `json:"stars,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// SynthesisPayload is the synthesis phase payload.
type SynthesisPayload struct {
	Profile      Profile  `json:"profile"`
	Completeness float64  `json:"completeness"`
	Phases       []string `json:"phases"`
	Narrative    string   `json:"narrative,omitempty"`
	Model        string   `json:"model,omitempty"`
	// NarrativeCostUSD is the estimated cost of the narrative call.
	NarrativeCostUSD float64 `json:"narrative_cost_usd,omitempty"`
}

// SynthesisEnricher combines the other payloads into a profile with a
// completeness score, optionally asking an LLM for a short narrative.
type SynthesisEnricher struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewSynthesisEnricher creates a synthesis enricher. A nil client skips the
// narrative.
func NewSynthesisEnricher(client anthropic.Client, modelID string, maxTokens int64) *SynthesisEnricher {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &SynthesisEnricher{client: client, model: modelID, maxTokens: maxTokens}
}

// Phase implements Enricher.
func (s *SynthesisEnricher) Phase() model.Phase { return model.PhaseSynthesis }

// Enrich implements Enricher. Narrative failures are logged and leave the
// narrative empty; the deterministic profile is always produced.
func (s *SynthesisEnricher) Enrich(ctx context.Context, e model.Entity, ec Context) (any, error) {
	rec := ec.Record
	out := SynthesisPayload{
		Profile: Profile{Name: e.DisplayName(), Group: e.Group, Website: e.Website},
		Phases:  []string{},
	}

	var contributing int
	for _, p := range model.AllPhases {
		if p == model.PhaseSynthesis {
			continue
		}
		if rec.Done(p) {
			contributing++
			out.Phases = append(out.Phases, string(p))
		}
	}
	out.Completeness = float64(contributing) / float64(len(model.AllPhases)-1)

	s.applyPayloads(e, rec, &out.Profile)

	if s.client == nil || s.model == "" {
		return out, nil
	}
	n, err := s.narrate(ctx, out.Profile)
	if err != nil {
		zap.L().Warn("synthesis: narrative failed", zap.String("entity", e.ID), zap.Error(err))
		return out, nil
	}
	out.NarrativeCostUSD = narrativeCost(s.model, n.Usage)
	logNarrativeCost(e.ID, s.model, n.Usage, out.NarrativeCostUSD)
	if n.Truncated {
		zap.L().Warn("synthesis: narrative hit max tokens", zap.String("entity", e.ID), zap.Int64("max_tokens", s.maxTokens))
	}
	out.Narrative = n.Text
	out.Model = s.model
	return out, nil
}

func (s *SynthesisEnricher) applyPayloads(e model.Entity, rec *model.EnrichmentRecord, p *Profile) {
	decode := func(phase model.Phase, v any) bool {
		ok, err := rec.DecodePayload(phase, v)
		if err != nil {
			zap.L().Warn("synthesis: unreadable payload", zap.String("entity", e.ID), zap.String("phase", string(phase)), zap.Error(err))
		}
		return ok && err == nil
	}

	var web WebPayload
	if decode(model.PhaseWeb, &web) && web.Found {
		p.Title = web.Title
		p.Description = web.Description
		if web.FinalURL != "" {
			p.Website = web.FinalURL
		}
	}
	var geo GeoPayload
	if decode(model.PhaseGeo, &geo) && geo.Point() != nil {
		p.Location = geo.Label
		p.TimeZone = geo.TimeZone
		if geo.Density != nil {
			p.Nearby = geo.Density.Within[25]
		}
	}
	var tech TechnicalPayload
	if decode(model.PhaseTechnical, &tech) && tech.Found {
		p.GitHubOrg = tech.Organization
		p.Stars = tech.Stars
		p.Languages = tech.Languages
	}
	for _, phase := range []model.Phase{model.PhasePatents, model.PhaseReviews, model.PhaseHiring} {
		raw := rec.Payload(phase)
		if raw == nil {
			continue
		}
		// Source payloads are opaque; only an explicit found=false excludes them.
		var head struct {
			Found *bool `json:"found"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Found == nil || *head.Found {
			p.Sources = append(p.Sources, string(phase))
		}
	}
}

func (s *SynthesisEnricher) narrate(ctx context.Context, p Profile) (*anthropic.Narrative, error) {
	facts, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	return s.client.Narrate(ctx, anthropic.NarrativeRequest{
		Model:        s.model,
		MaxTokens:    s.maxTokens,
		Instructions: synthesisInstructions,
		Facts:        fmt.Sprintf("Profile data:\n%s", facts),
	})
}
