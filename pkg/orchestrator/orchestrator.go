// Package orchestrator drives deployments: it renders the element tree,
// reconciles the resulting resource set against persisted state, applies
// changes through the provider in dependency order, persists progress at
// every step, and reacts to asynchronous provider output events by applying
// again until the tree reaches a fixed point.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creact-labs/creact-sub004/pkg/backend"
	"github.com/creact-labs/creact-sub004/pkg/creact"
	"github.com/creact-labs/creact-sub004/pkg/provider"
	"github.com/creact-labs/creact-sub004/pkg/reactive"
	"github.com/creact-labs/creact-sub004/pkg/reconciler"
	"github.com/creact-labs/creact-sub004/pkg/registry"
	"github.com/creact-labs/creact-sub004/pkg/state"
)

// DefaultLockTTL bounds how long a crashed run can hold a stack lock.
const DefaultLockTTL = 10 * time.Minute

// Orchestrator deploys one stack. All state mutation is serialized by a
// per-stack mutex; provider event handlers and Deploy never interleave.
type Orchestrator struct {
	stackName string
	prov      provider.Provider
	back      backend.Backend
	log       *slog.Logger
	user      string
	lockTTL   time.Duration

	rt       *reactive.Runtime
	reg      *registry.Registry
	renderer *creact.Renderer

	mu          sync.Mutex
	doc         *state.DeploymentState
	unsubscribe func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithUser stamps persisted state and audit entries.
func WithUser(user string) Option {
	return func(o *Orchestrator) { o.user = user }
}

// WithLockTTL overrides the advisory lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.lockTTL = ttl }
}

// New creates an orchestrator for stackName with a fresh reactive runtime,
// registry, and renderer.
func New(stackName string, prov provider.Provider, back backend.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stackName: stackName,
		prov:      prov,
		back:      back,
		log:       slog.Default(),
		lockTTL:   DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "orchestrator", "stack", stackName)
	o.rt = reactive.NewRuntime()
	o.reg = registry.NewRegistry(o.rt)
	o.renderer = creact.NewRenderer(o.reg, o.log)
	return o
}

// Registry exposes the instance registry, mainly for tests and tooling.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Deploy runs the full apply flow for element: load and hydrate persisted
// state, render, reconcile, and apply changes until a pass yields no new
// resources. It also binds the provider's output events so later
// asynchronous changes trigger incremental applies.
func (o *Orchestrator) Deploy(ctx context.Context, element *creact.Element) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	unlock, err := o.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	prev, err := o.loadState(ctx)
	if err != nil {
		return err
	}

	if err := o.renderer.Render(element); err != nil {
		return err
	}

	if o.unsubscribe == nil {
		if src, ok := o.prov.(provider.EventSource); ok {
			o.unsubscribe = src.Subscribe(o.onOutputsChanged)
		}
	}

	if err := o.applyChanges(ctx, prev); err != nil {
		o.persistFailure(ctx, err)
		return err
	}
	return nil
}

// Destroy deletes every persisted resource, children first, and persists an
// empty deployed state.
func (o *Orchestrator) Destroy(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	unlock, err := o.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := o.back.GetState(ctx, o.stackName)
	if err != nil {
		return &BackendError{Op: "getState", Err: err}
	}
	if st == nil || len(st.Nodes) == 0 {
		o.log.Info("nothing to destroy")
		return nil
	}
	o.doc = st
	o.audit(ctx, state.ActionDeployStart, "", "destroy")

	if err := o.deleteNodes(ctx, st.Nodes); err != nil {
		o.persistFailure(ctx, err)
		return err
	}

	o.doc.Status = state.StatusDeployed
	o.doc.Nodes = []state.SerializedNode{}
	o.doc.ApplyingNodeID = ""
	o.doc.LastDeployedAt = time.Now().UTC()
	if err := o.persist(ctx); err != nil {
		return err
	}
	o.audit(ctx, state.ActionDeployComplete, "", "destroy")
	return nil
}

// Detach unsubscribes the provider event handler, leaving the provider
// running. Used when another orchestrator takes over the same provider.
func (o *Orchestrator) Detach() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// Stop detaches the event handler and asks the provider to release its
// resources. In-flight applies run to completion.
func (o *Orchestrator) Stop() error {
	o.Detach()
	if src, ok := o.prov.(provider.EventSource); ok {
		return src.Stop()
	}
	return nil
}

// loadState fetches persisted state, logs crash resumption, hydrates
// output and store maps, and returns the completed previous nodes.
func (o *Orchestrator) loadState(ctx context.Context) ([]state.SerializedNode, error) {
	st, err := o.back.GetState(ctx, o.stackName)
	if err != nil {
		return nil, &BackendError{Op: "getState", Err: err}
	}
	if st == nil {
		// First deployment.
		o.doc = &state.DeploymentState{
			StackName: o.stackName,
			Status:    state.StatusPending,
			Nodes:     []state.SerializedNode{},
			User:      o.user,
		}
		return nil, nil
	}

	if st.Status == state.StatusApplying {
		o.log.Info("resuming interrupted deployment",
			"applyingNode", st.ApplyingNodeID)
	}

	o.doc = st
	completed := st.CompletedNodes()
	for _, n := range completed {
		o.reg.HydrateOutputs(n.ID, n.Outputs)
		o.reg.HydrateStore(n.ID, n.Store)
	}
	return completed, nil
}

// applyChanges is one apply pass plus the fixed-point recursion: after
// deploying, branches that were placeheld under undefined dependencies may
// have materialized; recurse with the prior set as previous until no new
// ids appear.
func (o *Orchestrator) applyChanges(ctx context.Context, previous []state.SerializedNode) error {
	current := o.renderer.CollectInstances()
	cs := reconciler.Reconcile(previous, current, o.log)

	if !cs.HasChanges() {
		return o.persistDeployed(ctx, current)
	}

	o.log.Info("applying changes",
		"creates", len(cs.Creates), "updates", len(cs.Updates), "deletes", len(cs.Deletes),
		"batches", len(cs.ParallelBatches))

	if err := o.startDeployment(ctx, current, previous); err != nil {
		return err
	}

	// Deletes first, children before parents.
	if len(cs.Deletes) > 0 {
		doomed := make([]state.SerializedNode, 0, len(cs.Deletes))
		for _, id := range cs.Deletes {
			if n, ok := o.doc.Node(id); ok {
				doomed = append(doomed, *n)
			}
		}
		if err := o.deleteNodes(ctx, doomed); err != nil {
			return err
		}
	}

	// Creates and updates in topological order. The registry holds the
	// latest props: reactive re-runs between reconciliation and this point
	// may have rewired them.
	for _, id := range cs.DeploymentOrder {
		node, ok := o.reg.Get(id)
		if !ok {
			o.log.Warn("node disappeared before materialization", "node", id)
			continue
		}

		o.setNodeState(id, state.StatusApplying)
		o.doc.ApplyingNodeID = id
		if err := o.persist(ctx); err != nil {
			return err
		}

		if err := o.materialize(ctx, node); err != nil {
			return &ProviderError{NodeID: id, Op: "materialize", Err: err}
		}

		o.updateSerializedNode(node, state.StatusDeployed)
		o.doc.ApplyingNodeID = ""
		if err := o.persist(ctx); err != nil {
			return err
		}
		o.audit(ctx, state.ActionResourceApplied, id, "")
	}

	// Fixed point: recurse while new resources appear.
	next := o.renderer.CollectInstances()
	if hasNewIDs(current, next) {
		o.log.Info("new resources appeared after outputs landed; applying again")
		return o.applyChanges(ctx, o.serializeSet(current))
	}

	return o.persistDeployed(ctx, next)
}

// materialize invokes the provider for one node, running optional lifecycle
// hooks and converting panics from reactive re-runs into errors.
func (o *Orchestrator) materialize(ctx context.Context, node *registry.InstanceNode) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("re-render after outputs: %v", rec)
		}
	}()
	nodes := []*registry.InstanceNode{node}
	if lc, ok := o.prov.(provider.Lifecycle); ok {
		if err := lc.PreDeploy(ctx, nodes); err != nil {
			return err
		}
	}
	if err := o.prov.Materialize(ctx, nodes); err != nil {
		if lc, ok := o.prov.(provider.Lifecycle); ok {
			lc.OnError(ctx, err, nodes)
		}
		return err
	}
	if lc, ok := o.prov.(provider.Lifecycle); ok {
		outputs := map[string]map[string]any{node.ID: node.Outputs()}
		if err := lc.PostDeploy(ctx, nodes, outputs); err != nil {
			return err
		}
	}
	return nil
}

// deleteNodes destroys serialized nodes children-first, persisting progress
// per node.
func (o *Orchestrator) deleteNodes(ctx context.Context, doomed []state.SerializedNode) error {
	byID := make(map[string]state.SerializedNode, len(doomed))
	for _, n := range doomed {
		byID[n.ID] = n
	}
	for _, id := range reconciler.DeleteOrder(doomed) {
		sn := byID[id]
		o.setNodeState(id, state.StatusApplying)
		if err := o.persist(ctx); err != nil {
			return err
		}

		// The fiber tree no longer holds this node; hand the provider a
		// detached snapshot.
		node := &registry.InstanceNode{
			ID:            sn.ID,
			Path:          sn.Path,
			ConstructType: sn.ConstructType,
			Props:         sn.Props,
		}
		if err := o.prov.Destroy(ctx, node); err != nil {
			return &ProviderError{NodeID: id, Op: "destroy", Err: err}
		}

		o.removeSerializedNode(id)
		if err := o.persist(ctx); err != nil {
			return err
		}
		o.audit(ctx, state.ActionResourceDestroyed, id, "")
	}
	return nil
}

// onOutputsChanged rebinds asynchronous provider events into the reactive
// graph: write the outputs, let dependent computations re-run, then apply
// again to materialize whatever the re-render produced.
func (o *Orchestrator) onOutputsChanged(ev provider.OutputsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	node, ok := o.reg.FindByName(ev.ResourceName)
	if !ok {
		o.log.Warn("outputs event for unknown resource; dropping",
			"resource", ev.ResourceName)
		return
	}

	o.log.Debug("provider outputs changed", "node", node.ID)

	if err := o.fillInstanceOutputs(node, ev.Outputs); err != nil {
		o.log.Error("re-render after outputs event failed", "node", node.ID, "error", err)
		return
	}

	// The persisted set is the baseline here: the event only changed
	// outputs, so unchanged persisted nodes must not be re-created. The
	// completed-nodes filter applies to crash recovery, not to rebinding.
	ctx := context.Background()
	previous := append([]state.SerializedNode(nil), o.doc.Nodes...)
	if err := o.applyChanges(ctx, previous); err != nil {
		o.persistFailure(ctx, err)
		o.log.Error("incremental apply failed", "error", err)
	}
}

// fillInstanceOutputs writes outputs into the node's signals, converting
// panics from dependent component re-runs into errors.
func (o *Orchestrator) fillInstanceOutputs(node *registry.InstanceNode, outputs map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	node.SetOutputs(outputs)
	return nil
}

// startDeployment persists the applying status with the merged node list:
// current nodes plus previous-only nodes that still exist until deleted.
func (o *Orchestrator) startDeployment(ctx context.Context, current []*registry.InstanceNode, previous []state.SerializedNode) error {
	currIDs := make(map[string]bool, len(current))
	nodes := make([]state.SerializedNode, 0, len(current)+len(previous))
	for _, n := range current {
		currIDs[n.ID] = true
		nodes = append(nodes, o.serializeNode(n))
	}
	for _, n := range previous {
		if !currIDs[n.ID] {
			nodes = append(nodes, n)
		}
	}

	o.doc.Status = state.StatusApplying
	o.doc.Nodes = nodes
	o.doc.User = o.user
	if err := o.persist(ctx); err != nil {
		return err
	}
	o.audit(ctx, state.ActionDeployStart, "", "")
	return nil
}

func (o *Orchestrator) persistDeployed(ctx context.Context, current []*registry.InstanceNode) error {
	o.doc.Status = state.StatusDeployed
	o.doc.Nodes = o.serializeSet(current)
	o.doc.ApplyingNodeID = ""
	o.doc.LastDeployedAt = time.Now().UTC()
	o.doc.User = o.user
	if err := o.persist(ctx); err != nil {
		return err
	}
	o.audit(ctx, state.ActionDeployComplete, "", "")
	return nil
}

// persistFailure records the failed status, keeping ApplyingNodeID as the
// crash marker for the next run.
func (o *Orchestrator) persistFailure(ctx context.Context, cause error) {
	if o.doc == nil {
		return
	}
	o.doc.Status = state.StatusFailed
	if err := o.persist(ctx); err != nil {
		o.log.Error("persisting failure state failed", "error", err)
	}
	o.audit(ctx, state.ActionDeployFailed, o.doc.ApplyingNodeID, cause.Error())
}

func (o *Orchestrator) persist(ctx context.Context) error {
	if err := o.back.SaveState(ctx, o.stackName, o.doc); err != nil {
		return &BackendError{Op: "saveState", Err: err}
	}
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, action, nodeID, details string) {
	logger, ok := o.back.(backend.AuditLogger)
	if !ok {
		return
	}
	entry := state.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		NodeID:    nodeID,
		Details:   details,
		User:      o.user,
	}
	if err := logger.AppendAuditLog(ctx, o.stackName, entry); err != nil {
		o.log.Warn("audit append failed", "action", action, "error", err)
	}
}

func (o *Orchestrator) acquireLock(ctx context.Context) (func(), error) {
	locker, ok := o.back.(backend.Locker)
	if !ok {
		return func() {}, nil
	}
	holder := o.user
	if holder == "" {
		holder = "creact"
	}
	holder += "-" + uuid.NewString()[:8]

	ok, err := locker.AcquireLock(ctx, o.stackName, holder, o.lockTTL)
	if err != nil {
		return nil, &BackendError{Op: "acquireLock", Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStackLocked, o.stackName)
	}
	return func() {
		if err := locker.ReleaseLock(context.Background(), o.stackName); err != nil {
			o.log.Warn("lock release failed", "error", err)
		}
	}, nil
}

func (o *Orchestrator) serializeNode(n *registry.InstanceNode) state.SerializedNode {
	outputs := n.Outputs()
	status := state.StatusPending
	if len(outputs) > 0 {
		status = state.StatusDeployed
	}
	return state.SerializedNode{
		ID:            n.ID,
		Path:          append([]string(nil), n.Path...),
		ConstructType: n.ConstructType,
		Props:         n.Props.Serializable(),
		Outputs:       outputs,
		State:         status,
		Store:         n.Store,
	}
}

func (o *Orchestrator) serializeSet(nodes []*registry.InstanceNode) []state.SerializedNode {
	out := make([]state.SerializedNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, o.serializeNode(n))
	}
	return out
}

func (o *Orchestrator) setNodeState(id, status string) {
	if n, ok := o.doc.Node(id); ok {
		n.State = status
	}
}

func (o *Orchestrator) updateSerializedNode(node *registry.InstanceNode, status string) {
	sn := o.serializeNode(node)
	sn.State = status
	for i := range o.doc.Nodes {
		if o.doc.Nodes[i].ID == node.ID {
			o.doc.Nodes[i] = sn
			return
		}
	}
	o.doc.Nodes = append(o.doc.Nodes, sn)
}

func (o *Orchestrator) removeSerializedNode(id string) {
	for i := range o.doc.Nodes {
		if o.doc.Nodes[i].ID == id {
			o.doc.Nodes = append(o.doc.Nodes[:i], o.doc.Nodes[i+1:]...)
			return
		}
	}
}

func hasNewIDs(before, after []*registry.InstanceNode) bool {
	seen := make(map[string]bool, len(before))
	for _, n := range before {
		seen[n.ID] = true
	}
	for _, n := range after {
		if !seen[n.ID] {
			return true
		}
	}
	return false
}
