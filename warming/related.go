package warming

import (
	"context"

	"github.com/huykn/actioncache/types"
)

// Relation says that after FromAction on a FromObject, ToAction on a
// ToObject about the same object id is likely. An empty From field
// matches anything; an empty To field keeps the source's value.
type Relation struct {
	FromAction types.ActionType
	FromObject types.ObjectType
	ToAction   types.ActionType
	ToObject   types.ObjectType
}

// DefaultRelations: documents get validated, and generated output gets analyzed.
var DefaultRelations = []Relation{
	{FromObject: types.ObjectDocument, ToAction: types.ActionValidate, ToObject: types.ObjectDocument},
	{FromAction: types.ActionGenerate, ToAction: types.ActionAnalyze},
}

func (r Relation) apply(a types.ObjectAction) (types.ObjectAction, bool) {
	if r.FromAction != "" && r.FromAction != a.Type {
		return types.ObjectAction{}, false
	}
	if r.FromObject != "" && r.FromObject != a.ObjectType {
		return types.ObjectAction{}, false
	}
	at, ot := r.ToAction, r.ToObject
	if at == "" {
		at = a.Type
	}
	if ot == "" {
		ot = a.ObjectType
	}
	next := types.NewObjectAction(at, ot, a.ObjectID, a.Context)
	next.Parameters = a.Parameters
	return next, true
}

// relatedSeeds is how many recent keys Related starts from.
const relatedSeeds = 10

// Related walks Relations breadth-first from the most recently accessed
// keys, up to Depth hops (PreloadDepth when zero). An action and object
// type pair is expanded at most once per seed.
type Related struct {
	Depth     int
	Relations []Relation
}

func (Related) Name() string { return "related" }

func (s Related) Plan(ctx context.Context, env Env) ([]types.ObjectAction, error) {
	depth := s.Depth
	if depth <= 0 {
		depth = env.Config.PreloadDepth
	}
	relations := s.Relations
	if relations == nil {
		relations = DefaultRelations
	}

	type node struct {
		action types.ObjectAction
		depth  int
	}
	pair := func(a types.ObjectAction) string { return string(a.Type) + "/" + string(a.ObjectType) }

	var out []types.ObjectAction
	for _, seed := range env.recent(relatedSeeds) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		visited := map[string]struct{}{pair(seed.Action): {}}
		queue := []node{{action: seed.Action}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur.depth == depth {
				continue
			}
			for _, r := range relations {
				next, ok := r.apply(cur.action)
				if !ok {
					continue
				}
				if _, seen := visited[pair(next)]; seen {
					continue
				}
				visited[pair(next)] = struct{}{}
				out = append(out, next)
				queue = append(queue, node{action: next, depth: cur.depth + 1})
			}
		}
	}
	return out, nil
}
