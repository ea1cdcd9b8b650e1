package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/pkg/geocode"
)

// DefaultGeoMinCoverage is the index coverage above which the geo phase
// attaches a density report.
const DefaultGeoMinCoverage = 0.5

// GeoPayload is the geographic phase payload.
type GeoPayload struct {
	Query     string          `json:"query,omitempty"`
	Status    geocode.Status  `json:"status"`
	Source    string          `json:"source,omitempty"`
	Label     string          `json:"label,omitempty"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	TimeZone  string          `json:"time_zone,omitempty"`
	Attempted []string        `json:"attempted,omitempty"`
	Density   *density.Report `json:"density,omitempty"`
	// Coverage is the index coverage at the time density was computed.
	Coverage float64 `json:"coverage,omitempty"`
}

// Point returns the resolved coordinate, or nil.
func (p GeoPayload) Point() *density.Point {
	if p.Status != geocode.StatusSuccess {
		return nil
	}
	pt := density.Point{Lat: p.Latitude, Lng: p.Longitude}
	if !pt.Valid() {
		return nil
	}
	return &pt
}

// Resolver is the subset of geocode.Resolver the geo phase uses.
type Resolver interface {
	Resolve(ctx context.Context, query string) *geocode.Result
}

// GeoEnricher resolves an entity's location and, once enough of the
// population is geocoded, attaches its spatial density.
type GeoEnricher struct {
	resolver    Resolver
	minCoverage float64
}

// NewGeoEnricher creates a geo enricher. minCoverage <= 0 uses
// DefaultGeoMinCoverage.
func NewGeoEnricher(resolver Resolver, minCoverage float64) *GeoEnricher {
	if minCoverage <= 0 {
		minCoverage = DefaultGeoMinCoverage
	}
	return &GeoEnricher{resolver: resolver, minCoverage: minCoverage}
}

// Phase implements Enricher.
func (g *GeoEnricher) Phase() model.Phase { return model.PhaseGeo }

// IndexRequirement implements IndexUser. Density is optional for this phase.
func (g *GeoEnricher) IndexRequirement() IndexRequirement {
	return IndexRequirement{MinCoverage: g.minCoverage, Strict: false}
}

// Enrich implements Enricher. A location that resolves nowhere completes
// with status not_found; a resolver error fails the unit so a later run
// retries it. When a prior payload already carries coordinates they are
// reused and only the density is recomputed.
func (g *GeoEnricher) Enrich(ctx context.Context, e model.Entity, ec Context) (any, error) {
	var out GeoPayload
	var prior GeoPayload
	if ok, err := ec.Record.DecodePayload(model.PhaseGeo, &prior); err != nil {
		zap.L().Warn("geo: ignoring unreadable prior payload", zap.String("entity", e.ID), zap.Error(err))
	} else if ok && prior.Point() != nil {
		out = prior
		out.Density = nil
		out.Coverage = 0
	}

	if out.Point() == nil {
		if g.resolver == nil {
			return nil, eris.New("geo: no resolver configured")
		}
		res := g.resolver.Resolve(ctx, e.Location)
		if res == nil {
			return nil, eris.Errorf("geo: resolver returned nothing for %q", e.Location)
		}
		if res.Status == geocode.StatusError {
			return nil, eris.Errorf("geo: every source failed for %q (tried %v)", e.Location, res.Attempted)
		}
		out = GeoPayload{
			Query:     e.Location,
			Status:    res.Status,
			Source:    res.Source,
			Label:     res.Label,
			Latitude:  res.Latitude,
			Longitude: res.Longitude,
			TimeZone:  res.TimeZone,
			Attempted: res.Attempted,
		}
	}

	pt := out.Point()
	if pt == nil || ec.Index == nil {
		return out, nil
	}
	if cov := ec.Index.Coverage(); cov >= g.minCoverage {
		report := ec.Index.Density(e.ID, *pt)
		out.Density = &report
		out.Coverage = cov
	}
	return out, nil
}
