// Package invalidation removes cache entries in response to events, rules
// and object dependencies.
package invalidation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/types"
)

// Target is the cache an Engine invalidates. *cache.TieredCache implements it.
type Target interface {
	Invalidate(ctx context.Context, pred func(types.CacheKey) bool) int
	Clear(ctx context.Context) error
}

var _ Target = (*cache.TieredCache)(nil)

// Report summarizes one ProcessEvent or SmartInvalidate call.
type Report struct {
	Removed  int
	Fired    []string
	Cascaded []string
	Cleared  bool
	Rebuild  bool
	Errors   []error
}

// Engine evaluates invalidation rules and the dependency graph.
type Engine struct {
	target Target
	opts   options
	logger cache.Logger

	mu        sync.RWMutex
	rules     []Rule
	graph     *graph
	history   []Event
	lastFired map[uuid.UUID]time.Time
	created   time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates an engine over target.
func New(target Target, opts ...Option) *Engine {
	o := options{historySize: DefaultHistorySize}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.logger == nil {
		o.logger = cache.NewNoOpLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.historySize <= 0 {
		o.historySize = DefaultHistorySize
	}

	e := &Engine{
		target:    target,
		opts:      o,
		logger:    o.logger,
		graph:     newGraph(),
		lastFired: make(map[uuid.UUID]time.Time),
		created:   o.now(),
	}
	for _, r := range o.rules {
		e.AddRule(r)
	}
	return e
}

// AddRule installs r. Rules fire in descending priority, in insertion
// order among equals.
func (e *Engine) AddRule(r Rule) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	e.sortRules()
}

func (e *Engine) sortRules() {
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority > e.rules[j].Priority })
}

// RemoveRule deletes the rule with id and reports whether it existed.
func (e *Engine) RemoveRule(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.lastFired, id)
			return true
		}
	}
	return false
}

// UpdateRule replaces the rule with the same id.
func (e *Engine) UpdateRule(r Rule) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == r.ID {
			e.rules[i] = r
			e.sortRules()
			return true
		}
	}
	return false
}

// Rules returns the installed rules in firing order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// RegisterDependency records that invalidating from also invalidates to.
// Keys are "objectType:objectId" references.
func (e *Engine) RegisterDependency(from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.add(from, to)
}

// RemoveDependency deletes the edge from -> to.
func (e *Engine) RemoveDependency(from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.remove(from, to)
}

// Dependents returns the transitive dependents of key, sorted.
func (e *Engine) Dependents(key string) []string {
	deps := e.dependents(key)
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) dependents(key string) map[string]struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.dependents(key)
}

// History returns recorded events, oldest first.
func (e *Engine) History() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Event(nil), e.history...)
}

func (e *Engine) record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, ev)
	if over := len(e.history) - e.opts.historySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
}

// ProcessEvent records ev, fires every matching active rule in priority
// order, invalidates ev.Scope if set, then cascades to the dependents of
// ev.Key. Failing rules are logged and reported; they do not stop the rest.
func (e *Engine) ProcessEvent(ctx context.Context, ev Event) Report {
	var r Report
	if ev.Time.IsZero() {
		ev.Time = e.opts.now()
	}

	e.record(ev)
	e.apply(ctx, ev, &r)

	if ev.Key != "" && !ev.Cascade {
		for _, dep := range e.Dependents(ev.Key) {
			scope := refScope(dep)
			cascade := Event{
				Kind:       KindDependency,
				Dependency: dep,
				Scope:      &scope,
				Cascade:    true,
				Source:     ev.Key,
				Remote:     ev.Remote,
				Time:       ev.Time,
			}
			e.record(cascade)
			e.apply(ctx, cascade, &r)
			r.Cascaded = append(r.Cascaded, dep)
		}
	}

	if !ev.Remote && !ev.Cascade && e.opts.publish != nil {
		e.opts.publish(ctx, ev)
	}
	return r
}

// apply runs the rules matching ev and its direct scope.
func (e *Engine) apply(ctx context.Context, ev Event, r *Report) {
	for _, rule := range e.Rules() {
		if !rule.IsActive || !rule.Trigger.Matches(ev) {
			continue
		}
		if ev.Kind == KindTime {
			e.mu.Lock()
			e.lastFired[rule.ID] = ev.Time
			e.mu.Unlock()
		}
		e.execute(ctx, rule.Name, rule.Scope, r)
		r.Fired = append(r.Fired, rule.Name)
	}
	if ev.Scope != nil {
		e.execute(ctx, ev.Kind.String(), *ev.Scope, r)
	}
}

func (e *Engine) execute(ctx context.Context, name string, scope Scope, r *Report) {
	pred, err := scope.predicate(e.dependents)
	if err != nil {
		e.logger.Warn("invalidation skipped", "rule", name, "scope", scope.String(), "error", err)
		r.Errors = append(r.Errors, err)
		return
	}
	n := e.target.Invalidate(ctx, pred)
	r.Removed += n
	e.logger.Info("invalidation applied", "rule", name, "scope", scope.String(), "removed", n)
}

// Invalidate removes scope as a manual event. ManualTrigger rules fire too.
func (e *Engine) Invalidate(ctx context.Context, scope Scope) Report {
	return e.ProcessEvent(ctx, Event{Kind: KindManual, Scope: &scope})
}

// InvalidateCascade removes entries about key and about every transitive dependent.
func (e *Engine) InvalidateCascade(ctx context.Context, key string) Report {
	scope := refScope(key)
	return e.ProcessEvent(ctx, Event{Kind: KindDependency, Dependency: key, Key: key, Scope: &scope})
}

// ReportThreshold processes a threshold measurement.
func (e *Engine) ReportThreshold(ctx context.Context, kind ThresholdKind, value float64) Report {
	return e.ProcessEvent(ctx, Event{Kind: KindThreshold, Threshold: kind, Value: value})
}

// Tick fires every time rule whose interval has elapsed since it last
// fired, or since the engine was created.
func (e *Engine) Tick(ctx context.Context) Report {
	now := e.opts.now()

	type due struct {
		rule    Rule
		elapsed time.Duration
	}
	var fire []due

	e.mu.Lock()
	for _, rule := range e.rules {
		if !rule.IsActive || rule.Trigger.Kind != KindTime {
			continue
		}
		last, ok := e.lastFired[rule.ID]
		if !ok {
			last = e.created
		}
		if elapsed := now.Sub(last); elapsed >= rule.Trigger.Interval {
			e.lastFired[rule.ID] = now
			fire = append(fire, due{rule: rule, elapsed: elapsed})
		}
	}
	e.mu.Unlock()

	var r Report
	for _, d := range fire {
		e.record(Event{Kind: KindTime, Elapsed: d.elapsed, Time: now})
		e.execute(ctx, d.rule.Name, d.rule.Scope, &r)
		r.Fired = append(r.Fired, d.rule.Name)
	}
	return r
}

// StartTimers calls Tick every resolution until ctx ends or Close is called.
func (e *Engine) StartTimers(ctx context.Context, resolution time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		cancel()
		return
	}
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(resolution)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Close stops the timers.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}
