package warming

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huykn/actioncache/types"
)

// Env is the state a strategy plans against.
type Env struct {
	Config  Config
	Now     time.Time
	History []Access // oldest first
}

// within returns the accesses newer than window. A zero window returns all.
func (e Env) within(window time.Duration) []Access {
	if window <= 0 {
		return e.History
	}
	cutoff := e.Now.Add(-window)
	i := sort.Search(len(e.History), func(i int) bool { return e.History[i].Time.After(cutoff) })
	return e.History[i:]
}

// recent returns up to limit distinct keys, most recently accessed first.
func (e Env) recent(limit int) []Access {
	seen := make(map[string]struct{})
	var out []Access
	for i := len(e.History) - 1; i >= 0 && len(out) < limit; i-- {
		a := e.History[i]
		k := a.Key.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Strategy selects actions to warm.
type Strategy interface {
	// Name identifies the strategy in metrics and logs.
	Name() string

	// Plan returns the actions to warm. It must stop when ctx is done.
	Plan(ctx context.Context, env Env) ([]types.ObjectAction, error)
}

// ActionPattern describes a family of actions. An empty ObjectID matches
// every object of ObjectType found in the access history.
type ActionPattern struct {
	ActionType types.ActionType
	ObjectType types.ObjectType
	ObjectID   string
	Context    types.ActionContext
	Priority   float64

	// Predicate, if set, must accept an action for it to be warmed.
	Predicate func(types.ObjectAction) bool
}

// expand turns p into concrete actions.
func (p ActionPattern) expand(history []Access, limit int) []types.ObjectAction {
	var out []types.ObjectAction
	keep := func(a types.ObjectAction) {
		if p.Predicate == nil || p.Predicate(a) {
			out = append(out, a)
		}
	}

	if p.ObjectID != "" {
		keep(types.NewObjectAction(p.ActionType, p.ObjectType, p.ObjectID, p.Context))
		return out
	}

	seen := make(map[string]struct{})
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		a := history[i].Action
		if a.Type != p.ActionType || a.ObjectType != p.ObjectType {
			continue
		}
		k := history[i].Key.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keep(a)
	}
	return out
}

// Predictive warms the keys most likely to be requested soon: those
// accessed often within HistoryWindow, weighted towards the current hour.
type Predictive struct {
	HistoryWindow  time.Duration
	MinConfidence  float64
	MaxPredictions int
}

func (Predictive) Name() string { return "predictive" }

// Plan scores each key by 0.6 × its frequency relative to the most
// frequent key plus 0.4 × the share of its accesses made at this hour.
func (s Predictive) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	candidates := rank(env.within(s.HistoryWindow), env.Now.Hour())
	if len(candidates) == 0 {
		return nil, nil
	}

	type prediction struct {
		action     types.ObjectAction
		confidence float64
	}
	top := float64(candidates[0].count)
	var predictions []prediction
	for _, c := range candidates {
		conf := 0.6*float64(c.count)/top + 0.4*float64(c.hour)/float64(c.count)
		if conf >= s.MinConfidence {
			predictions = append(predictions, prediction{action: c.action, confidence: conf})
		}
	}
	sort.SliceStable(predictions, func(i, j int) bool { return predictions[i].confidence > predictions[j].confidence })

	if s.MaxPredictions > 0 && len(predictions) > s.MaxPredictions {
		predictions = predictions[:s.MaxPredictions]
	}
	out := make([]types.ObjectAction, len(predictions))
	for i, p := range predictions {
		out[i] = p.action
	}
	return out, ctx.Err()
}

// TimeOfDay is an hour and minute in the engine clock's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Scheduled warms Patterns when the current minute is one of Times.
type Scheduled struct {
	Times    []TimeOfDay
	Patterns []ActionPattern
}

func (Scheduled) Name() string { return "scheduled" }

func (s Scheduled) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	due := false
	for _, t := range s.Times {
		if env.Now.Hour() == t.Hour && env.Now.Minute() == t.Minute {
			due = true
			break
		}
	}
	if !due {
		return nil, nil
	}

	var out []types.ObjectAction
	for _, p := range s.Patterns {
		if p.Priority < env.Config.PriorityThreshold {
			continue
		}
		out = append(out, p.expand(env.History, env.Config.WarmingBatchSize)...)
	}
	return out, ctx.Err()
}

// OnDemand warms historical keys whose "objectType:objectId" matches any
// of Patterns.
type OnDemand struct {
	Patterns []string
}

func (OnDemand) Name() string { return "onDemand" }

func (s OnDemand) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	res := make([]*regexp.Regexp, 0, len(s.Patterns))
	for _, p := range s.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("on-demand pattern %q: %w", p, err)
		}
		res = append(res, re)
	}

	var out []types.ObjectAction
	for _, a := range env.recent(len(env.History)) {
		ref := a.Key.ObjectRef()
		for _, re := range res {
			if re.MatchString(ref) {
				out = append(out, a.Action)
				break
			}
		}
	}
	return out, ctx.Err()
}

// Trending warms the most frequently accessed keys within Window.
type Trending struct {
	Window time.Duration
	Limit  int // defaults to 10
}

func (Trending) Name() string { return "trending" }

func (s Trending) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = 10
	}
	candidates := rank(env.within(s.Window), env.Now.Hour())
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]types.ObjectAction, len(candidates))
	for i, c := range candidates {
		out[i] = c.action
	}
	return out, ctx.Err()
}

// DefaultUserPatterns are warmed for users without history.
var DefaultUserPatterns = []ActionPattern{
	{ActionType: types.ActionGenerate, ObjectType: types.ObjectDocument, Priority: 0.9},
	{ActionType: types.ActionAnalyze, ObjectType: types.ObjectRequirement, Priority: 0.8},
}

// UserBased warms the actions UserID performs most often. Without any
// history for the user, Defaults (or DefaultUserPatterns) are expanded
// over everyone's history and re-issued in the user's context.
type UserBased struct {
	UserID   string
	Limit    int // defaults to WarmingBatchSize
	Defaults []ActionPattern
}

func (UserBased) Name() string { return "userBased" }

func (s UserBased) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = env.Config.WarmingBatchSize
	}

	var mine []Access
	for _, a := range env.History {
		if a.Action.Context.UserID == s.UserID {
			mine = append(mine, a)
		}
	}

	if len(mine) > 0 {
		candidates := rank(mine, env.Now.Hour())
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		out := make([]types.ObjectAction, len(candidates))
		for i, c := range candidates {
			out[i] = c.action
		}
		return out, ctx.Err()
	}

	patterns := s.Defaults
	if patterns == nil {
		patterns = DefaultUserPatterns
	}
	var out []types.ObjectAction
	for _, p := range patterns {
		if p.Priority < env.Config.PriorityThreshold {
			continue
		}
		for _, a := range p.expand(env.History, limit) {
			a.Context = types.ActionContext{UserID: s.UserID, Environment: a.Context.Environment}
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, ctx.Err()
}

// Hybrid plans several strategies concurrently, at most
// MaxConcurrentWarming at a time, and warms the union of their actions.
// A failing sub-strategy fails the whole plan.
type Hybrid struct {
	Strategies []Strategy
}

func (Hybrid) Name() string { return "hybrid" }

func (s Hybrid) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	plans := make([][]types.ObjectAction, len(s.Strategies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.Config.MaxConcurrentWarming)
	for i, sub := range s.Strategies {
		g.Go(func() error {
			actions, err := sub.Plan(gctx, env)
			if err != nil {
				return fmt.Errorf("%s: %w", sub.Name(), err)
			}
			plans[i] = actions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.ObjectAction
	for _, p := range plans {
		out = append(out, p...)
	}
	return out, nil
}
