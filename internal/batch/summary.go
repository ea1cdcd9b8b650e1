package batch

import (
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Failure is one entity's error in a phase run.
type Failure struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Error    string `json:"error"`
}

// Summary reports the outcome of one phase run.
type Summary struct {
	RunID string      `json:"run_id"`
	Phase model.Phase `json:"phase"`
	// Total is the number of entities considered.
	Total int `json:"total"`
	// Dispatched is the number of units handed to the enricher pool.
	Dispatched int `json:"dispatched"`
	Processed  int `json:"processed"`
	Cached     int `json:"cached"`
	Blocked    int `json:"blocked"`
	Errored    int `json:"errored"`
	// Deferred counts entities left for a later run by the limit.
	Deferred int       `json:"deferred"`
	Failures []Failure `json:"failures,omitempty"`
	// Coverage is the resolved fraction of the index population.
	Coverage float64 `json:"coverage,omitempty"`
	// GeoCompletion is the fraction whose geo phase is complete.
	GeoCompletion float64   `json:"geo_completion,omitempty"`
	Interrupted   bool      `json:"interrupted"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Skipped is the number of entities not dispatched because they were
// cached or blocked.
func (s *Summary) Skipped() int { return s.Cached + s.Blocked }

// Pending is the number of dispatched-or-planned units that never finished,
// which is only non-zero for an interrupted run.
func (s *Summary) Pending() int {
	return s.Total - s.Processed - s.Errored - s.Skipped() - s.Deferred
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Log writes the final summary line and one line per failure.
func (s *Summary) Log() {
	log := zap.L().With(zap.String("run_id", s.RunID), zap.String("phase", string(s.Phase)))
	for _, f := range s.Failures {
		log.Warn("entity failed", zap.String("entity", f.EntityID), zap.String("name", f.Name), zap.String("error", f.Error))
	}
	log.Info("phase run complete",
		zap.String("total", humanize.Comma(int64(s.Total))),
		zap.String("processed", humanize.Comma(int64(s.Processed))),
		zap.String("cached", humanize.Comma(int64(s.Cached))),
		zap.String("blocked", humanize.Comma(int64(s.Blocked))),
		zap.String("errored", humanize.Comma(int64(s.Errored))),
		zap.Int("deferred", s.Deferred),
		zap.Int("pending", s.Pending()),
		zap.Bool("interrupted", s.Interrupted),
		zap.Duration("elapsed", s.Duration().Round(time.Millisecond)),
	)
}
