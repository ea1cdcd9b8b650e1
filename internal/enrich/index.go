package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// IndexBuild is the coordinate index together with how far the geo phase
// has progressed over the same entities.
type IndexBuild struct {
	Index *density.Index
	// GeoComplete counts entities whose geo phase is complete, resolved or
	// not_found.
	GeoComplete int
}

// GeoCompletion is the fraction of the population whose geo phase is
// complete.
func (b *IndexBuild) GeoCompletion() float64 {
	pop := b.Index.Population()
	if pop == 0 {
		return 0
	}
	return float64(b.GeoComplete) / float64(pop)
}

// BuildIndex collects the resolved coordinate of every entity from stored
// geo payloads. The index population is len(entities), so its coverage is
// the fraction of this run's entities with a resolved coordinate.
func BuildIndex(ctx context.Context, st store.RecordStore, entities []model.Entity) (*IndexBuild, error) {
	recs, err := st.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list records for index")
	}
	byID := make(map[string]*model.EnrichmentRecord, len(recs))
	for _, r := range recs {
		byID[r.EntityID] = r
	}

	var geoDone int
	candidates := make([]density.Candidate, 0, len(entities))
	for _, e := range entities {
		c := density.Candidate{ID: e.ID, Group: e.Group}
		if rec := byID[e.ID]; rec != nil {
			if rec.Done(model.PhaseGeo) {
				geoDone++
			}
			var geo GeoPayload
			ok, err := rec.DecodePayload(model.PhaseGeo, &geo)
			if err != nil {
				zap.L().Warn("enrich: skipping unreadable geo payload", zap.String("entity", e.ID), zap.Error(err))
			} else if ok {
				c.Point = geo.Point()
			}
		}
		candidates = append(candidates, c)
	}
	return &IndexBuild{Index: density.NewIndex(len(entities), candidates), GeoComplete: geoDone}, nil
}
