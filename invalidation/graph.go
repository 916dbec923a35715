package invalidation

// graph holds "invalidating A also invalidates B" edges. It may contain
// cycles; traversal keeps a visited set.
type graph struct {
	edges map[string]map[string]struct{}
}

func newGraph() *graph {
	return &graph{edges: make(map[string]map[string]struct{})}
}

func (g *graph) add(from, to string) {
	set, ok := g.edges[from]
	if !ok {
		set = make(map[string]struct{})
		g.edges[from] = set
	}
	set[to] = struct{}{}
}

func (g *graph) remove(from, to string) {
	set, ok := g.edges[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(g.edges, from)
	}
}

// dependents returns every node reachable from key, key itself excluded
// unless a cycle leads back to it.
func (g *graph) dependents(key string) map[string]struct{} {
	out := make(map[string]struct{})
	visited := map[string]struct{}{key: {}}
	stack := []string{key}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.edges[cur] {
			out[next] = struct{}{}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return out
}
