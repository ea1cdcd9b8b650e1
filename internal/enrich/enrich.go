// Package enrich holds the per-phase enrichers. Each enricher turns one
// entity (plus its prior record) into the payload for a single phase.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/model"
)

// Enricher produces the payload of one phase for one entity. The returned
// payload must be JSON-serializable.
type Enricher interface {
	Phase() model.Phase
	Enrich(ctx context.Context, e model.Entity, ec Context) (any, error)
}

// Context carries the read-only state available to an enricher call.
type Context struct {
	// Record is the entity's stored record. Never nil; empty when the entity
	// has not been seen before.
	Record *model.EnrichmentRecord
	// Index holds every resolved coordinate of the run's population. Only
	// set for enrichers implementing IndexUser.
	Index *density.Index
}

// IndexRequirement declares how far the geo phase must have progressed
// before an enricher can run.
type IndexRequirement struct {
	// MinCoverage is a fraction of the population. Strict users are gated on
	// the geo phase completion rate; non-strict users compare it with the
	// resolved fraction and degrade per entity.
	MinCoverage float64
	// Strict refuses the whole phase run below MinCoverage.
	Strict bool
}

// IndexUser is implemented by enrichers that need the coordinate index.
type IndexUser interface {
	IndexRequirement() IndexRequirement
}

// EnrichmentError is a single entity's failure in one phase. It never
// aborts a run.
type EnrichmentError struct {
	EntityID string
	Phase    model.Phase
	Cause    error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich: %s %s: %v", e.Phase, e.EntityID, e.Cause)
}

func (e *EnrichmentError) Unwrap() error { return e.Cause }

// Failure wraps cause as an EnrichmentError for the entity and phase. An
// existing EnrichmentError is returned unchanged.
func Failure(entityID string, phase model.Phase, cause error) *EnrichmentError {
	var ee *EnrichmentError
	if errors.As(cause, &ee) {
		return ee
	}
	if cause == nil {
		cause = eris.New("unknown failure")
	}
	return &EnrichmentError{EntityID: entityID, Phase: phase, Cause: cause}
}

// Registry maps phases to their enrichers.
type Registry struct {
	enrichers map[model.Phase]Enricher
}

// NewRegistry returns a registry holding the given enrichers. Later entries
// replace earlier ones for the same phase.
func NewRegistry(enrichers ...Enricher) *Registry {
	r := &Registry{enrichers: make(map[model.Phase]Enricher, len(enrichers))}
	for _, e := range enrichers {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the enricher for e.Phase().
func (r *Registry) Register(e Enricher) {
	if e == nil {
		return
	}
	r.enrichers[e.Phase()] = e
}

// Get returns the enricher for phase p.
func (r *Registry) Get(p model.Phase) (Enricher, error) {
	e, ok := r.enrichers[p]
	if !ok {
		return nil, eris.Errorf("enrich: no enricher registered for phase %s", p)
	}
	return e, nil
}

// Phases returns the registered phases in canonical order.
func (r *Registry) Phases() []model.Phase {
	out := make([]model.Phase, 0, len(r.enrichers))
	for p := range r.enrichers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}
