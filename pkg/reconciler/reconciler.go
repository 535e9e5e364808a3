// Package reconciler diffs the previously deployed resource set against the
// freshly rendered one and plans the deployment: creates, updates, deletes,
// a topological order, and parallel batches.
package reconciler

import (
	"log/slog"

	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/registry"
	"github.com/creact-labs/creact-sub004/pkg/state"
)

// ChangeSet is the planned outcome of one reconciliation.
type ChangeSet struct {
	Creates []string
	Updates []string
	Deletes []string

	// DeploymentOrder covers creates and updates, dependencies first.
	DeploymentOrder []string
	// ParallelBatches groups DeploymentOrder into independently deployable
	// waves; concurrency within a wave is the provider's choice.
	ParallelBatches [][]string
	// CycleWarnings lists ids a cycle kept from sorting cleanly. Non-fatal.
	CycleWarnings []string

	// Graph is the dependency graph over the current set. Delete ordering
	// does not use it; DeleteOrder builds its own graph from the persisted
	// nodes being removed.
	Graph *Graph
}

// HasChanges reports whether anything needs to be applied.
func (c *ChangeSet) HasChanges() bool {
	return len(c.Creates) > 0 || len(c.Updates) > 0 || len(c.Deletes) > 0
}

// Reconcile matches previous and current by id and plans the deployment.
// previous is the caller's baseline: the completed nodes of the prior run
// when a deploy starts, the full persisted set on event-driven applies, and
// the prior pass's set on fixed-point passes.
func Reconcile(previous []state.SerializedNode, current []*registry.InstanceNode, log *slog.Logger) *ChangeSet {
	if log == nil {
		log = slog.Default()
	}

	prevByID := make(map[string]state.SerializedNode, len(previous))
	for _, n := range previous {
		prevByID[n.ID] = n
	}
	currByID := make(map[string]*registry.InstanceNode, len(current))

	cs := &ChangeSet{}
	refs := make([]NodeRef, 0, len(current))
	for _, n := range current {
		currByID[n.ID] = n
		refs = append(refs, NodeRef{ID: n.ID, Path: n.Path})

		prev, existed := prevByID[n.ID]
		switch {
		case !existed:
			cs.Creates = append(cs.Creates, n.ID)
		case !props.DeepEqual(prev.Props, n.Props.Serializable()):
			cs.Updates = append(cs.Updates, n.ID)
		}
	}
	for _, n := range previous {
		if _, ok := currByID[n.ID]; !ok {
			cs.Deletes = append(cs.Deletes, n.ID)
		}
	}

	cs.Graph = BuildGraph(refs)

	toDeploy := make(map[string]bool, len(cs.Creates)+len(cs.Updates))
	for _, id := range cs.Creates {
		toDeploy[id] = true
	}
	for _, id := range cs.Updates {
		toDeploy[id] = true
	}

	order, cyclic := cs.Graph.TopoSort(toDeploy)
	cs.DeploymentOrder = order
	cs.CycleWarnings = cyclic
	if len(cyclic) > 0 {
		log.Warn("dependency cycle detected; deploying stragglers in insertion order",
			"nodes", cyclic)
	}
	cs.ParallelBatches = cs.Graph.ParallelBatches(order)

	return cs
}

// DeleteOrder plans deletions children-first from the persisted shapes of
// the nodes being removed.
func DeleteOrder(deletes []state.SerializedNode) []string {
	refs := make([]NodeRef, 0, len(deletes))
	for _, n := range deletes {
		refs = append(refs, NodeRef{ID: n.ID, Path: n.Path})
	}
	return BuildGraph(refs).ReverseDependencyOrder()
}
