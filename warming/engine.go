// Package warming populates the cache ahead of demand. Strategies pick
// candidate actions from the recorded access history; the engine skips
// the ones already cached, computes the rest through an Executor and
// writes the results in concurrent batches.
package warming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/types"
)

// Cache is what the engine warms. *cache.TieredCache implements it.
type Cache interface {
	Contains(ctx context.Context, action types.ObjectAction) bool
	Set(ctx context.Context, action types.ObjectAction, result types.ActionResult, ttl time.Duration) error
}

var _ Cache = (*cache.TieredCache)(nil)

// Executor computes the result of an action.
type Executor interface {
	Execute(ctx context.Context, action types.ObjectAction) (types.ActionResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action types.ObjectAction) (types.ActionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, action types.ObjectAction) (types.ActionResult, error) {
	return f(ctx, action)
}

// Result describes one WarmCache run.
type Result struct {
	ID       uuid.UUID
	Strategy string
	Planned  int // distinct candidates
	Skipped  int // already cached
	Warmed   int
	Failed   int
	Duration time.Duration
}

// Engine runs warming strategies against a cache.
type Engine struct {
	cache   Cache
	exec    Executor
	cfg     Config
	opts    options
	logger  cache.Logger
	history *history
	metrics metrics

	mu       sync.Mutex
	runs     map[uuid.UUID]context.CancelCauseFunc
	warmed   map[string]struct{}
	bgCancel context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// New creates an engine writing to c and computing results with exec.
func New(c Cache, exec Executor, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.logger == nil {
		o.logger = cache.NewNoOpLogger()
	}
	if o.stats == nil {
		o.stats = stats.NewNoop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	return &Engine{
		cache:   c,
		exec:    exec,
		cfg:     cfg,
		opts:    o,
		logger:  o.logger,
		history: newHistory(cfg.HistorySize),
		runs:    make(map[uuid.UUID]context.CancelCauseFunc),
		warmed:  make(map[string]struct{}),
	}, nil
}

// RecordAccess adds a lookup to the history strategies plan from. With
// AdaptiveLearning, a hit on a warmed key counts as a useful warm.
func (e *Engine) RecordAccess(action types.ObjectAction, hit bool) {
	key := types.NewCacheKey(action)
	e.history.add(Access{Action: action, Key: key, Hit: hit, Time: e.opts.now()})

	if !hit || !e.cfg.AdaptiveLearning {
		return
	}
	e.mu.Lock()
	_, ok := e.warmed[key.String()]
	delete(e.warmed, key.String())
	e.mu.Unlock()
	if ok {
		e.metrics.useful()
	}
}

// History returns the recorded accesses, oldest first.
func (e *Engine) History() []Access {
	return e.history.snapshot()
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() Metrics {
	return e.metrics.snapshot()
}

// ActiveRuns returns the number of runs in progress.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// WarmCache plans s and warms its candidates. The run is bounded by
// WarmingTimeout and fails with ErrTimeout when it expires; entries
// written until then remain cached.
func (e *Engine) WarmCache(ctx context.Context, s Strategy) (Result, error) {
	res := Result{ID: uuid.New(), Strategy: s.Name()}

	base, cancelRun := context.WithCancelCause(ctx)
	runCtx, cancelTimeout := context.WithTimeoutCause(base, e.cfg.WarmingTimeout, ErrTimeout)
	defer cancelTimeout()
	defer cancelRun(nil)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return res, ErrClosed
	}
	e.runs[res.ID] = cancelRun
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, res.ID)
		e.mu.Unlock()
	}()

	start := time.Now()
	env := Env{Config: e.cfg, Now: e.opts.now(), History: e.history.snapshot()}

	actions, err := s.Plan(runCtx, env)
	if err == nil {
		e.warm(runCtx, dedupe(actions), &res)
	}
	res.Duration = time.Since(start)

	if runCtx.Err() != nil {
		err = context.Cause(runCtx)
	}
	timedOut := errors.Is(err, ErrTimeout)
	e.metrics.run(res.Strategy, res.Duration, e.opts.now(), timedOut)
	e.opts.stats.ObserveHistogram(stats.MetricWarmRunSecond, res.Duration.Seconds())

	if err != nil {
		e.logger.Warn("warming run failed", "strategy", res.Strategy, "warmed", res.Warmed, "error", err)
		return res, err
	}
	e.logger.Info("warming run complete", "strategy", res.Strategy,
		"planned", res.Planned, "skipped", res.Skipped, "warmed", res.Warmed, "failed", res.Failed,
		"duration", res.Duration)
	return res, nil
}

func dedupe(actions []types.ObjectAction) []types.ObjectAction {
	seen := make(map[string]struct{}, len(actions))
	out := actions[:0:0]
	for _, a := range actions {
		k := types.NewCacheKey(a).String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

// warm writes actions in batches of WarmingBatchSize with up to
// MaxConcurrentWarming writes in flight. A failed action does not stop
// the others.
func (e *Engine) warm(ctx context.Context, actions []types.ObjectAction, res *Result) {
	res.Planned = len(actions)

	var todo []types.ObjectAction
	for _, a := range actions {
		if e.cache.Contains(ctx, a) {
			res.Skipped++
			continue
		}
		todo = append(todo, a)
	}

	var warmed, failed atomic.Int64
	for start := 0; start < len(todo); start += e.cfg.WarmingBatchSize {
		if ctx.Err() != nil {
			break
		}
		batch := todo[start:min(start+e.cfg.WarmingBatchSize, len(todo))]

		var g errgroup.Group
		g.SetLimit(e.cfg.MaxConcurrentWarming)
		for _, a := range batch {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				if err := e.warmOne(ctx, a); err != nil {
					failed.Add(1)
					e.logger.Debug("warm failed", "object", a.ObjectID, "action", string(a.Type), "error", err)
					return nil
				}
				warmed.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Warmed = int(warmed.Load())
	res.Failed = int(failed.Load())
	e.opts.stats.IncCounter(stats.MetricWarmed, warmed.Load())
	e.opts.stats.IncCounter(stats.MetricWarmFailures, failed.Load())
}

func (e *Engine) warmOne(ctx context.Context, a types.ObjectAction) error {
	result, err := e.exec.Execute(ctx, a)
	if err == nil {
		err = e.cache.Set(ctx, a, result, e.cfg.WarmTTL)
	}
	e.metrics.warmed(err == nil)
	if err != nil {
		return err
	}

	if e.cfg.AdaptiveLearning {
		e.mu.Lock()
		if len(e.warmed) < e.cfg.HistorySize {
			e.warmed[types.NewCacheKey(a).String()] = struct{}{}
		}
		e.mu.Unlock()
	}
	return nil
}

// CancelAll stops every run in progress; they return ErrCancelled.
// It returns the number of runs cancelled.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.runs)
	for id, cancel := range e.runs {
		cancel(ErrCancelled)
		delete(e.runs, id)
	}
	return n
}

// StartBackground runs strategies in order, pausing StrategyPause between
// them and CyclePause between cycles, until ctx ends or StopBackground or
// Close is called. Failed runs are logged and the cycle continues.
func (e *Engine) StartBackground(ctx context.Context, strategies []Strategy) error {
	if len(strategies) == 0 {
		return errors.New("warming: no strategies")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.bgCancel != nil {
		return ErrBackgroundRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.bgCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.background(ctx, strategies)
	}()
	return nil
}

func (e *Engine) background(ctx context.Context, strategies []Strategy) {
	for {
		for _, s := range strategies {
			if _, err := e.WarmCache(ctx, s); err != nil && ctx.Err() == nil {
				e.logger.Warn("background warming strategy failed", "strategy", s.Name(), "error", err)
				if e.opts.onError != nil {
					e.opts.onError(err)
				}
			}
			if !pause(ctx, e.cfg.StrategyPause) {
				return
			}
		}
		if !pause(ctx, e.cfg.CyclePause) {
			return
		}
	}
}

// pause waits for d and reports whether ctx is still live.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return ctx.Err() == nil
	}
}

// StopBackground stops background warming and waits for it to exit.
func (e *Engine) StopBackground() {
	e.mu.Lock()
	cancel := e.bgCancel
	e.bgCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Close stops background warming and cancels all runs.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.StopBackground()
	e.CancelAll()
	return nil
}
