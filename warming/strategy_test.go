package warming

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/huykn/actioncache/types"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func access(at types.ActionType, ot types.ObjectType, id, user string, when time.Time) Access {
	a := types.NewObjectAction(at, ot, id, types.ActionContext{UserID: user})
	return Access{Action: a, Key: types.NewCacheKey(a), Time: when}
}

func ids(actions []types.ObjectAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a.Type) + ":" + a.ObjectID
	}
	return out
}

func plan(t *testing.T, s Strategy, env Env) []string {
	t.Helper()
	actions, err := s.Plan(context.Background(), env)
	if err != nil {
		t.Fatalf("Failed to plan %s: %v", s.Name(), err)
	}
	return ids(actions)
}

func env(history ...Access) Env {
	return Env{Config: DefaultConfig(), Now: base, History: history}
}

func TestPredictive(t *testing.T) {
	h := []Access{
		access(types.ActionRead, types.ObjectDocument, "a", "u1", base.Add(-48*time.Hour)),
		access(types.ActionRead, types.ObjectDocument, "a", "u1", base.Add(-48*time.Hour+time.Minute)),
		access(types.ActionRead, types.ObjectDocument, "a", "u1", base.Add(-24*time.Hour)),
		access(types.ActionRead, types.ObjectDocument, "a", "u1", base.Add(-24*time.Hour+time.Minute)),
		access(types.ActionRead, types.ObjectDocument, "c", "u1", base.Add(-24*time.Hour+2*time.Minute)),
		access(types.ActionRead, types.ObjectDocument, "b", "u1", base.Add(-7*time.Hour)),
		access(types.ActionRead, types.ObjectDocument, "b", "u1", base.Add(-7*time.Hour)),
	}

	// a: 4 hits, all at 10:xx -> 1.0; c: 1 hit at 10:xx -> 0.55; b: 2 hits at 03:00 -> 0.3
	got := plan(t, Predictive{HistoryWindow: 72 * time.Hour, MinConfidence: 0.5}, env(h...))
	if !reflect.DeepEqual(got, []string{"read:a", "read:c"}) {
		t.Fatalf("Unexpected predictions %v", got)
	}

	got = plan(t, Predictive{HistoryWindow: 72 * time.Hour, MinConfidence: 0.5, MaxPredictions: 1}, env(h...))
	if !reflect.DeepEqual(got, []string{"read:a"}) {
		t.Fatalf("Expected predictions capped at 1, got %v", got)
	}

	got = plan(t, Predictive{HistoryWindow: 12 * time.Hour, MinConfidence: 0.5}, env(h...))
	if !reflect.DeepEqual(got, []string{"read:b"}) {
		t.Fatalf("Expected only b within the window, got %v", got)
	}

	if got := plan(t, Predictive{HistoryWindow: time.Hour}, env()); len(got) != 0 {
		t.Fatalf("Expected no predictions without history, got %v", got)
	}
}

func TestScheduled(t *testing.T) {
	h := []Access{
		access(types.ActionAnalyze, types.ObjectRequirement, "r1", "u1", base.Add(-time.Hour)),
		access(types.ActionAnalyze, types.ObjectRequirement, "r2", "u1", base.Add(-time.Minute)),
	}
	s := Scheduled{
		Times: []TimeOfDay{{Hour: 10, Minute: 0}},
		Patterns: []ActionPattern{
			{ActionType: types.ActionGenerate, ObjectType: types.ObjectDocument, ObjectID: "report", Priority: 0.9},
			{ActionType: types.ActionAnalyze, ObjectType: types.ObjectRequirement, Priority: 0.8},
			{ActionType: types.ActionRead, ObjectType: types.ObjectVendor, ObjectID: "v1", Priority: 0.5},
			{
				ActionType: types.ActionRead, ObjectType: types.ObjectContract, ObjectID: "c1", Priority: 1,
				Predicate: func(types.ObjectAction) bool { return false },
			},
		},
	}

	got := plan(t, s, env(h...))
	want := []string{"generate:report", "analyze:r2", "analyze:r1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	later := env(h...)
	later.Now = base.Add(time.Minute)
	if got := plan(t, s, later); len(got) != 0 {
		t.Fatalf("Expected nothing outside the schedule, got %v", got)
	}
}

func TestOnDemand(t *testing.T) {
	e := env(
		access(types.ActionRead, types.ObjectDocument, "d1", "u1", base),
		access(types.ActionRead, types.ObjectVendor, "v1", "u1", base),
		access(types.ActionValidate, types.ObjectDocument, "d2", "u1", base),
	)

	got := plan(t, OnDemand{Patterns: []string{"^document:"}}, e)
	if !reflect.DeepEqual(got, []string{"validate:d2", "read:d1"}) {
		t.Fatalf("Unexpected matches %v", got)
	}

	if _, err := (OnDemand{Patterns: []string{"("}}).Plan(context.Background(), e); err == nil {
		t.Fatal("Expected an invalid pattern to fail the plan")
	}
}

func TestTrending(t *testing.T) {
	e := env(
		access(types.ActionRead, types.ObjectDocument, "old", "u1", base.Add(-2*time.Hour)),
		access(types.ActionRead, types.ObjectDocument, "old", "u1", base.Add(-2*time.Hour)),
		access(types.ActionRead, types.ObjectDocument, "old", "u1", base.Add(-2*time.Hour)),
		access(types.ActionRead, types.ObjectDocument, "x", "u1", base.Add(-30*time.Minute)),
		access(types.ActionRead, types.ObjectDocument, "y", "u1", base.Add(-20*time.Minute)),
		access(types.ActionRead, types.ObjectDocument, "y", "u1", base.Add(-10*time.Minute)),
		access(types.ActionRead, types.ObjectDocument, "z", "u1", base.Add(-5*time.Minute)),
	)

	got := plan(t, Trending{Window: time.Hour}, e)
	if !reflect.DeepEqual(got, []string{"read:y", "read:z", "read:x"}) {
		t.Fatalf("Unexpected ranking %v", got)
	}

	got = plan(t, Trending{Window: time.Hour, Limit: 1}, e)
	if !reflect.DeepEqual(got, []string{"read:y"}) {
		t.Fatalf("Expected the top key only, got %v", got)
	}
}

func TestUserBased(t *testing.T) {
	e := env(
		access(types.ActionRead, types.ObjectVendor, "v1", "alice", base),
		access(types.ActionRead, types.ObjectVendor, "v1", "alice", base),
		access(types.ActionRead, types.ObjectContract, "c1", "alice", base),
		access(types.ActionGenerate, types.ObjectDocument, "d9", "bob", base),
	)

	got := plan(t, UserBased{UserID: "alice"}, e)
	if !reflect.DeepEqual(got, []string{"read:v1", "read:c1"}) {
		t.Fatalf("Unexpected user plan %v", got)
	}

	actions, err := UserBased{UserID: "carol"}.Plan(context.Background(), e)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}
	if !reflect.DeepEqual(ids(actions), []string{"generate:d9"}) {
		t.Fatalf("Expected default patterns over shared history, got %v", ids(actions))
	}
	if actions[0].Context.UserID != "carol" {
		t.Fatalf("Expected the action to run as carol, got %q", actions[0].Context.UserID)
	}
}

func TestRelated(t *testing.T) {
	chain := []Relation{
		{FromAction: types.ActionRead, ToAction: types.ActionAnalyze},
		{FromAction: types.ActionAnalyze, ToAction: types.ActionValidate},
		{FromAction: types.ActionValidate, ToAction: types.ActionExport},
		{FromAction: types.ActionExport, ToAction: types.ActionRead},
	}
	e := env(access(types.ActionRead, types.ObjectDocument, "d1", "u1", base))

	got := plan(t, Related{Relations: chain}, e)
	if !reflect.DeepEqual(got, []string{"analyze:d1", "validate:d1"}) {
		t.Fatalf("Expected preload depth 2, got %v", got)
	}

	done := make(chan []string, 1)
	go func() {
		actions, _ := Related{Depth: 10, Relations: chain}.Plan(context.Background(), e)
		done <- ids(actions)
	}()
	select {
	case got := <-done:
		if !reflect.DeepEqual(got, []string{"analyze:d1", "validate:d1", "export:d1"}) {
			t.Fatalf("Expected the cycle back to read to stop, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Related did not terminate on a relation cycle")
	}

	got = plan(t, Related{Depth: 1}, env(access(types.ActionGenerate, types.ObjectDocument, "d2", "u1", base)))
	if !reflect.DeepEqual(got, []string{"validate:d2", "analyze:d2"}) {
		t.Fatalf("Unexpected default relations %v", got)
	}
}

func TestHybrid(t *testing.T) {
	h := Hybrid{Strategies: []Strategy{
		staticStrategy{name: "one", actions: docs("a")},
		staticStrategy{name: "two", actions: docs("b", "c")},
	}}
	if got := plan(t, h, env()); !reflect.DeepEqual(got, []string{"read:a", "read:b", "read:c"}) {
		t.Fatalf("Unexpected union %v", got)
	}

	h.Strategies = append(h.Strategies, staticStrategy{name: "broken", err: context.DeadlineExceeded})
	if _, err := h.Plan(context.Background(), env()); err == nil {
		t.Fatal("Expected a failing sub-strategy to fail the plan")
	}
}
