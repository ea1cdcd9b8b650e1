package geocode

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

// DefaultCommunityInterval is the minimum spacing between community
// geocoder requests across the whole process.
const DefaultCommunityInterval = time.Second

// DefaultSourceTimeout bounds a single source call.
const DefaultSourceTimeout = 15 * time.Second

// Resolver resolves location strings through the fallback chain. It is safe
// for concurrent use; the result cache and the community limiter are shared
// by every caller.
type Resolver struct {
	gazetteer Source
	primary   Source
	community Source
	secondary Source

	limiter  *IntervalLimiter
	timeout  time.Duration
	breakers *resilience.BreakerSet

	primaryReady atomic.Bool

	mu    sync.RWMutex
	cache map[string]*Result
	group singleflight.Group

	cacheHits atomic.Int64
	statsMu   sync.Mutex
	calls     map[string]int64
	successes map[string]int64
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithGazetteer replaces the built-in gazetteer.
func WithGazetteer(src Source) Option {
	return func(r *Resolver) {
		r.gazetteer = src
	}
}

// WithPrimary sets the metered primary source. It is not consulted until
// CheckHealth has confirmed it is reachable.
func WithPrimary(src Source) Option {
	return func(r *Resolver) {
		r.primary = src
	}
}

// WithCommunity sets the community source and the minimum interval between
// its requests.
func WithCommunity(src Source, interval time.Duration) Option {
	return func(r *Resolver) {
		r.community = src
		r.limiter = NewIntervalLimiter(interval)
	}
}

// WithSecondary sets the secondary source.
func WithSecondary(src Source) Option {
	return func(r *Resolver) {
		r.secondary = src
	}
}

// WithSourceTimeout sets the per-call timeout for external sources.
func WithSourceTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreakers sets the circuit-breaker configuration shared by external
// sources.
func WithBreakers(cfg resilience.BreakerConfig) Option {
	return func(r *Resolver) {
		r.breakers = resilience.NewBreakerSet(cfg)
	}
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		gazetteer: NewGazetteer(nil),
		limiter:   NewIntervalLimiter(DefaultCommunityInterval),
		timeout:   DefaultSourceTimeout,
		breakers:  resilience.NewBreakerSet(resilience.DefaultBreakerConfig()),
		cache:     make(map[string]*Result),
		calls:     make(map[string]int64),
		successes: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckHealth probes the primary source and records whether it may be used.
// Sources that do not implement HealthChecker are marked reachable. A failed
// probe is returned so the caller can log it; resolution continues without
// the primary source.
func (r *Resolver) CheckHealth(ctx context.Context) error {
	if r.primary == nil {
		r.primaryReady.Store(false)
		return nil
	}
	hc, ok := r.primary.(HealthChecker)
	if !ok {
		r.primaryReady.Store(true)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := hc.Ping(ctx); err != nil {
		r.primaryReady.Store(false)
		return eris.Wrap(err, "geocode: primary health check")
	}
	r.primaryReady.Store(true)
	return nil
}

// PrimaryReady reports whether the primary source passed its health check.
func (r *Resolver) PrimaryReady() bool {
	return r.primary != nil && r.primaryReady.Load()
}

// Resolve maps a free-text location to coordinates. It never returns nil.
// Successful results are cached by the exact query string; the returned
// value is a copy the caller may modify. Concurrent callers for the same
// query share one lookup, which is detached from any single caller's
// cancellation and bounded by the chain budget instead.
func (r *Resolver) Resolve(ctx context.Context, query string) *Result {
	if cached, ok := r.lookupCache(query); ok {
		r.cacheHits.Add(1)
		return cached
	}

	v, _, _ := r.group.Do(query, func() (any, error) {
		if cached, ok := r.lookupCache(query); ok {
			r.cacheHits.Add(1)
			return cached, nil
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.chainBudget())
		defer cancel()
		res := r.resolve(sctx, query)
		if res.Status == StatusSuccess {
			r.mu.Lock()
			r.cache[query] = res.clone()
			r.mu.Unlock()
		}
		return res, nil
	})
	return v.(*Result).clone()
}

// chainBudget bounds one shared lookup: a full per-source timeout for every
// external source plus one community interval.
func (r *Resolver) chainBudget() time.Duration {
	n := 0
	for _, src := range []Source{r.primary, r.community, r.secondary} {
		if src != nil {
			n++
		}
	}
	budget := time.Duration(max(n, 1)) * r.timeout
	if r.community != nil {
		budget += r.limiter.Interval()
	}
	return budget
}

func (r *Resolver) lookupCache(query string) (*Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.cache[query]
	if !ok {
		return nil, false
	}
	return res.clone(), true
}

func (r *Resolver) resolve(ctx context.Context, query string) *Result {
	key := Normalize(query)
	if key == "" {
		return &Result{Status: StatusNotFound}
	}

	var attempted []string
	if r.gazetteer != nil {
		attempted = append(attempted, r.gazetteer.Name())
		if m, _ := r.gazetteer.Lookup(ctx, key); m != nil {
			r.countCall(r.gazetteer.Name(), true)
			return found(r.gazetteer.Name(), m, attempted)
		}
		r.countCall(r.gazetteer.Name(), false)
	}

	external := 0
	failed := 0
	try := func(src Source, limiter *IntervalLimiter) *Result {
		attempted = append(attempted, src.Name())
		external++
		m, err := r.callSource(ctx, src, key, limiter)
		if err != nil {
			failed++
			zap.L().Debug("geocode: source error, trying next",
				zap.String("source", src.Name()),
				zap.String("query", key),
				zap.Error(err),
			)
			return nil
		}
		if m == nil {
			return nil
		}
		return found(src.Name(), m, attempted)
	}

	if r.primary != nil && r.primaryReady.Load() {
		if res := try(r.primary, nil); res != nil {
			return res
		}
	}
	if r.community != nil {
		if res := try(r.community, r.limiter); res != nil {
			return res
		}
	}
	if r.secondary != nil {
		if res := try(r.secondary, nil); res != nil {
			return res
		}
	}

	status := StatusNotFound
	if external > 0 && failed == external {
		status = StatusError
	}
	return &Result{Status: status, Attempted: attempted}
}

// callSource runs one external lookup behind its breaker. With a limiter
// the lookup runs inside the limiter's turn; queueing uses the parent
// context so it does not eat into the per-call timeout.
func (r *Resolver) callSource(ctx context.Context, src Source, query string, limiter *IntervalLimiter) (*Match, error) {
	breaker := r.breakers.Get(src.Name())
	if breaker.State() == resilience.BreakerOpen {
		r.countCall(src.Name(), false)
		return nil, eris.Wrap(resilience.ErrBreakerOpen, src.Name())
	}

	var m *Match
	ran := false
	call := func(ctx context.Context) error {
		ran = true
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		m, err = resilience.BreakerVal(callCtx, breaker, func(ctx context.Context) (*Match, error) {
			return src.Lookup(ctx, query)
		})
		return err
	}

	var err error
	if limiter != nil {
		err = limiter.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if ran {
		r.countCall(src.Name(), err == nil && m != nil)
	}
	return m, err
}

func (r *Resolver) countCall(source string, success bool) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.calls[source]++
	if success {
		r.successes[source]++
	}
}

func found(source string, m *Match, attempted []string) *Result {
	return &Result{
		Status:    StatusSuccess,
		Source:    source,
		Label:     m.Label,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		TimeZone:  m.TimeZone,
		Attempted: attempted,
	}
}

// Stats is a snapshot of resolver activity.
type Stats struct {
	CacheHits int64             `json:"cache_hits"`
	CacheSize int               `json:"cache_size"`
	Calls     map[string]int64  `json:"calls"`
	Successes map[string]int64  `json:"successes"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

// Stats returns counters for cache hits and per-source calls.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	size := len(r.cache)
	r.mu.RUnlock()

	r.statsMu.Lock()
	calls := make(map[string]int64, len(r.calls))
	for k, v := range r.calls {
		calls[k] = v
	}
	successes := make(map[string]int64, len(r.successes))
	for k, v := range r.successes {
		successes[k] = v
	}
	r.statsMu.Unlock()

	breakers := make(map[string]string)
	for name, st := range r.breakers.States() {
		breakers[name] = st.String()
	}

	return Stats{
		CacheHits: r.cacheHits.Load(),
		CacheSize: size,
		Calls:     calls,
		Successes: successes,
		Breakers:  breakers,
	}
}
