package batch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Unit outcomes used as the "outcome" metric label.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeCached  = "cached"
	OutcomeBlocked = "blocked"
)

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	units    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	coverage *prometheus.GaugeVec
	runs     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_units_total",
			Help: "Entity-phase units by outcome.",
		}, []string{"phase", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enrich_unit_duration_seconds",
			Help:    "Wall time of dispatched entity-phase units.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"phase"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enrich_units_in_flight",
			Help: "Units currently being enriched.",
		}, []string{"phase"}),
		coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enrich_index_coverage_ratio",
			Help: "Fraction of entities with a resolved coordinate at phase start.",
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_runs_total",
			Help: "Phase runs by result.",
		}, []string{"phase", "result"}),
	}
	for _, c := range []prometheus.Collector{m.units, m.duration, m.inFlight, m.coverage, m.runs} {
		if err := reg.Register(c); err != nil {
			return nil, eris.Wrap(err, "batch: register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) unit(phase model.Phase, outcome string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(string(phase), outcome).Inc()
}

func (m *Metrics) observe(phase model.Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

func (m *Metrics) flight(phase model.Phase, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(phase)).Add(delta)
}

func (m *Metrics) indexCoverage(phase model.Phase, v float64) {
	if m == nil {
		return
	}
	m.coverage.WithLabelValues(string(phase)).Set(v)
}

func (m *Metrics) run(phase model.Phase, result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(phase), result).Inc()
}

// ServeMetrics exposes gatherer on addr at /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "batch: metrics server")
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return eris.Wrap(err, "batch: metrics server shutdown")
		}
		return nil
	}
}
