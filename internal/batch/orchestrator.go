// Package batch runs one enrichment phase across a set of entities with a
// bounded worker pool, skipping work that is already durable.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrich-cli/internal/density"
	"github.com/sells-group/enrich-cli/internal/enrich"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// Defaults for the orchestrator.
const (
	DefaultWorkers          = 4
	DefaultSubmitDelay      = 100 * time.Millisecond
	DefaultUnitTimeout      = 2 * time.Minute
	DefaultProgressInterval = 30 * time.Second
)

// ErrInsufficientCoverage is returned when a strict index user is run
// before the geo phase has completed for enough entities.
var ErrInsufficientCoverage = eris.New("insufficient index coverage")

// RunOptions control one phase run.
type RunOptions struct {
	// Force recomputes entities whose phase is already complete.
	Force bool
	// Limit caps the number of units dispatched; 0 means no limit.
	Limit int
	// Workers overrides the orchestrator's pool size when positive.
	Workers int
	// AllowPartialIndex runs a strict index user below its minimum coverage.
	AllowPartialIndex bool
}

// Orchestrator dispatches entity-phase units to enrichers and persists the
// results.
type Orchestrator struct {
	store            store.RecordStore
	registry         *enrich.Registry
	workers          int
	submitDelay      time.Duration
	unitTimeout      time.Duration
	progressInterval time.Duration
	metrics          *Metrics
	barOut           io.Writer
	now              func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the default pool size.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSubmitDelay sets the pause between unit submissions.
func WithSubmitDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.submitDelay = d
		}
	}
}

// WithUnitTimeout bounds a single enricher call.
func WithUnitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.unitTimeout = d
		}
	}
}

// WithProgressInterval sets how often a progress line is logged. Zero
// disables periodic lines.
func WithProgressInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.progressInterval = d }
}

// WithMetrics records unit outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProgressBar draws a progress bar on w. Pass nil to disable it.
func WithProgressBar(w io.Writer) Option {
	return func(o *Orchestrator) { o.barOut = w }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. The progress bar is drawn on stderr when it
// is a terminal unless overridden with WithProgressBar.
func New(st store.RecordStore, registry *enrich.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:            st,
		registry:         registry,
		workers:          DefaultWorkers,
		submitDelay:      DefaultSubmitDelay,
		unitTimeout:      DefaultUnitTimeout,
		progressInterval: DefaultProgressInterval,
		now:              time.Now,
	}
	if stderrIsTerminal() {
		o.barOut = os.Stderr
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type unit struct {
	entity model.Entity
	record *model.EnrichmentRecord
}

// RunPhase enriches entities for phase. Per-entity failures are collected
// in the summary and never abort the run. The returned error is reserved
// for conditions that make the whole run meaningless: an unknown phase, a
// strict index requirement that is not met, or a store that cannot be read.
//
// Cancelling ctx stops new submissions; units already running finish and
// are persisted, and the summary is marked interrupted.
func (o *Orchestrator) RunPhase(ctx context.Context, phase model.Phase, entities []model.Entity, opts RunOptions) (*Summary, error) {
	enricher, err := o.registry.Get(phase)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:     uuid.NewString(),
		Phase:     phase,
		Total:     len(entities),
		StartedAt: o.now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", sum.RunID), zap.String("phase", string(phase)))

	var idx *density.Index
	if user, ok := enricher.(enrich.IndexUser); ok {
		build, err := enrich.BuildIndex(ctx, o.store, entities)
		if err != nil {
			o.metrics.run(phase, "failed")
			return nil, err
		}
		idx = build.Index
		sum.Coverage = idx.Coverage()
		sum.GeoCompletion = build.GeoCompletion()
		o.metrics.indexCoverage(phase, sum.Coverage)
		if err := checkCoverage(user.IndexRequirement(), build, opts.AllowPartialIndex); err != nil {
			o.metrics.run(phase, "refused")
			return nil, eris.Wrapf(err, "batch: %s", phase)
		}
		log.Info("coordinate index ready",
			zap.Int("resolved", idx.Len()),
			zap.Float64("coverage", sum.Coverage),
			zap.Float64("geo_completion", sum.GeoCompletion),
		)
	}

	units, err := o.plan(ctx, phase, entities, opts, sum, log)
	if err != nil {
		o.metrics.run(phase, "failed")
		return nil, err
	}

	workers := o.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	log.Info("phase run starting",
		zap.Int("entities", sum.Total),
		zap.Int("dispatch", len(units)),
		zap.Int("cached", sum.Cached),
		zap.Int("blocked", sum.Blocked),
		zap.Int("deferred", sum.Deferred),
		zap.Int("workers", workers),
	)

	prog := newProgress(phase, sum.RunID, len(units), sum.Cached, sum.Blocked, o.barOut, o.now)
	reportCtx, stopReport := context.WithCancel(ctx)
	go prog.report(reportCtx, o.progressInterval)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

submit:
	for i, u := range units {
		if i > 0 && o.submitDelay > 0 {
			t := time.NewTimer(o.submitDelay)
			select {
			case <-gctx.Done():
				t.Stop()
				break submit
			case <-t.C:
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// In-flight units outlive cancellation so finished work is kept.
			err := o.runUnit(context.WithoutCancel(gctx), phase, enricher, u, idx, sum.RunID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Errored++
				sum.Failures = append(sum.Failures, Failure{
					EntityID: u.entity.ID,
					Name:     u.entity.DisplayName(),
					Error:    err.Error(),
				})
			} else {
				sum.Processed++
			}
			prog.record(err != nil)
			return nil
		})
		sum.Dispatched++
	}
	_ = g.Wait()
	stopReport()
	prog.finish()

	sum.Interrupted = ctx.Err() != nil && sum.Pending() > 0
	sum.FinishedAt = o.now().UTC()
	result := "completed"
	if sum.Interrupted {
		result = "interrupted"
		log.Warn("phase run interrupted, in-flight units drained", zap.Int("pending", sum.Pending()))
	}
	o.metrics.run(phase, result)
	prog.log()
	return sum, nil
}

// plan loads each entity's record and sorts it into cached, blocked, or
// dispatchable.
func (o *Orchestrator) plan(ctx context.Context, phase model.Phase, entities []model.Entity, opts RunOptions, sum *Summary, log *zap.Logger) ([]unit, error) {
	var units []unit
	for _, e := range entities {
		if ctx.Err() != nil {
			break
		}
		rec, err := o.store.Get(ctx, e.ID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return nil, eris.Wrapf(err, "batch: load record %s", e.ID)
		}
		if rec == nil {
			rec = model.NewRecord(e.ID)
		}

		if rec.Done(phase) && !opts.Force {
			sum.Cached++
			o.metrics.unit(phase, OutcomeCached)
			continue
		}
		if missing := rec.MissingRequirements(phase); len(missing) > 0 {
			sum.Blocked++
			o.metrics.unit(phase, OutcomeBlocked)
			log.Debug("entity blocked", zap.String("entity", e.ID), zap.Any("missing", missing))
			continue
		}
		if opts.Limit > 0 && len(units) >= opts.Limit {
			sum.Deferred++
			continue
		}
		units = append(units, unit{entity: e, record: rec})
	}
	return units, nil
}

// runUnit enriches one entity and persists the result. Panics in the
// enricher are converted into a failure for this unit only.
func (o *Orchestrator) runUnit(ctx context.Context, phase model.Phase, enricher enrich.Enricher, u unit, idx *density.Index, runID string) (err error) {
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("entity", u.entity.ID),
		zap.String("phase", string(phase)),
	)
	start := o.now()
	o.metrics.flight(phase, 1)
	defer func() {
		if r := recover(); r != nil {
			err = enrich.Failure(u.entity.ID, phase, eris.Errorf("panic: %v", r))
		}
		o.metrics.flight(phase, -1)
		o.metrics.observe(phase, o.now().Sub(start))
		if err != nil {
			o.metrics.unit(phase, OutcomeError)
			log.Warn("unit failed", zap.Error(err))
			return
		}
		o.metrics.unit(phase, OutcomeSuccess)
		log.Debug("unit complete", zap.Duration("elapsed", o.now().Sub(start)))
	}()

	uctx, cancel := context.WithTimeout(ctx, o.unitTimeout)
	defer cancel()

	payload, err := enricher.Enrich(uctx, u.entity, enrich.Context{Record: u.record, Index: idx})
	if err != nil {
		return enrich.Failure(u.entity.ID, phase, err)
	}
	if payload == nil {
		return enrich.Failure(u.entity.ID, phase, eris.New("enricher returned no payload"))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return enrich.Failure(u.entity.ID, phase, eris.Wrap(err, "marshal payload"))
	}
	next, err := u.record.WithPhase(phase, raw, o.now())
	if err != nil {
		return enrich.Failure(u.entity.ID, phase, err)
	}
	if err := o.store.Upsert(ctx, u.entity.ID, next); err != nil {
		return enrich.Failure(u.entity.ID, phase, eris.Wrap(err, "persist record"))
	}
	return nil
}

// checkCoverage gates strict index users on geo phase completion. Entities
// the geocoder answered not_found count as complete.
func checkCoverage(req enrich.IndexRequirement, build *enrich.IndexBuild, allowPartial bool) error {
	done := build.GeoCompletion()
	if !req.Strict || done >= req.MinCoverage {
		return nil
	}
	msg := fmt.Sprintf("geo complete for %.1f%% of %d entities, need %.1f%%",
		done*100, build.Index.Population(), req.MinCoverage*100)
	if allowPartial {
		zap.L().Warn("running below minimum index coverage", zap.String("coverage", msg))
		return nil
	}
	return eris.Wrap(ErrInsufficientCoverage, msg)
}
