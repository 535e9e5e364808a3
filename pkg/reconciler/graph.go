package reconciler

import "strings"

// NodeRef is the minimal shape the graph needs: an id and the resource path
// it was derived from.
type NodeRef struct {
	ID   string
	Path []string
}

// Graph records, per node id, the ids it depends on and the inverse.
// Edges derive from resource paths alone: each node depends on its nearest
// ancestor path that is itself a node in the set. Cross-branch data
// dependencies are intentionally absent; reactive re-execution re-emits
// dependents once their inputs land, triggering a fresh apply pass.
type Graph struct {
	Dependencies map[string][]string
	Dependents   map[string][]string
	order        []string
}

// BuildGraph constructs the path-based dependency graph over nodes. Paths
// form a tree, so the result is acyclic by construction.
func BuildGraph(nodes []NodeRef) *Graph {
	present := make(map[string]bool, len(nodes))
	g := &Graph{
		Dependencies: make(map[string][]string, len(nodes)),
		Dependents:   make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		present[n.ID] = true
		g.order = append(g.order, n.ID)
	}

	for _, n := range nodes {
		g.Dependencies[n.ID] = nil
		for end := len(n.Path) - 1; end > 0; end-- {
			ancestor := strings.Join(n.Path[:end], ".")
			if present[ancestor] {
				g.Dependencies[n.ID] = append(g.Dependencies[n.ID], ancestor)
				g.Dependents[ancestor] = append(g.Dependents[ancestor], n.ID)
				break
			}
		}
	}
	return g
}

// TopoSort runs Kahn's algorithm over the graph restricted to include,
// preserving insertion order among ties. When a cycle survives (possible
// only with hand-crafted inputs), the stragglers are appended unchanged and
// reported rather than aborting the deployment.
func (g *Graph) TopoSort(include map[string]bool) (order []string, cyclic []string) {
	indegree := make(map[string]int)
	for _, id := range g.order {
		if !include[id] {
			continue
		}
		indegree[id] = 0
	}
	for _, id := range g.order {
		if !include[id] {
			continue
		}
		for _, dep := range g.Dependencies[id] {
			if include[dep] {
				indegree[id]++
			}
		}
	}

	var queue []string
	for _, id := range g.order {
		if include[id] && indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range g.Dependents[id] {
			if !include[dep] {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) < len(indegree) {
		inOrder := make(map[string]bool, len(order))
		for _, id := range order {
			inOrder[id] = true
		}
		for _, id := range g.order {
			if include[id] && !inOrder[id] {
				cyclic = append(cyclic, id)
				order = append(order, id)
			}
		}
	}
	return order, cyclic
}

// ParallelBatches groups a topologically sorted id list into waves that may
// be deployed concurrently: each id lands one batch after the latest batch
// holding any of its dependencies.
func (g *Graph) ParallelBatches(order []string) [][]string {
	batchOf := make(map[string]int, len(order))
	var batches [][]string
	for _, id := range order {
		target := 0
		for _, dep := range g.Dependencies[id] {
			if b, ok := batchOf[dep]; ok && b+1 > target {
				target = b + 1
			}
		}
		for len(batches) <= target {
			batches = append(batches, nil)
		}
		batches[target] = append(batches[target], id)
		batchOf[id] = target
	}
	return batches
}

// ReverseDependencyOrder returns ids children-first: every node precedes the
// nodes it depends on. Deletions run in this order so children go before
// parents.
func (g *Graph) ReverseDependencyOrder() []string {
	include := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		include[id] = true
	}
	order, _ := g.TopoSort(include)
	out := make([]string, len(order))
	for i, id := range order {
		out[len(order)-1-i] = id
	}
	return out
}
