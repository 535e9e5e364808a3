package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// Resolver produces the outputs for one node. Returning (nil, nil) defers
// the node: outputs arrive later through EmitOutputs.
type Resolver func(node *registry.InstanceNode) (map[string]any, error)

// LocalProvider realizes resources in-process through per-construct
// resolvers. It backs the CLI demo stack and the end-to-end tests.
type LocalProvider struct {
	Emitter

	mu        sync.Mutex
	resolvers map[string]Resolver
	fallback  Resolver

	// Parallelism bounds concurrent resolver calls within one batch.
	Parallelism int

	materialized []string
	destroyed    []string
}

// NewLocalProvider creates a provider with no resolvers; unresolved
// constructs materialize with empty outputs.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{resolvers: make(map[string]Resolver)}
}

// Resolve registers the resolver for a construct type.
func (p *LocalProvider) Resolve(constructType string, r Resolver) *LocalProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolvers[constructType] = r
	return p
}

// ResolveAll registers a fallback resolver for constructs without a
// dedicated one.
func (p *LocalProvider) ResolveAll(r Resolver) *LocalProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = r
	return p
}

// Materialize resolves outputs for every node, fanning out across the
// batch, then delivers them sequentially on the calling goroutine so signal
// writes stay on the runtime's thread.
func (p *LocalProvider) Materialize(ctx context.Context, nodes []*registry.InstanceNode) error {
	results := make([]map[string]any, len(nodes))

	g, ctx := errgroup.WithContext(ctx)
	if p.Parallelism > 0 {
		g.SetLimit(p.Parallelism)
	}
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outputs, err := p.resolve(node)
			if err != nil {
				return fmt.Errorf("materialize %s: %w", node.ID, err)
			}
			results[i] = outputs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, node := range nodes {
		p.mu.Lock()
		p.materialized = append(p.materialized, node.ID)
		p.mu.Unlock()
		if results[i] != nil {
			node.SetOutputs(results[i])
		}
	}
	return nil
}

func (p *LocalProvider) resolve(node *registry.InstanceNode) (map[string]any, error) {
	p.mu.Lock()
	r, ok := p.resolvers[node.ConstructType]
	if !ok {
		r = p.fallback
	}
	p.mu.Unlock()
	if r == nil {
		return map[string]any{}, nil
	}
	return r(node)
}

// Destroy records the deletion; local resources have nothing to tear down.
func (p *LocalProvider) Destroy(_ context.Context, node *registry.InstanceNode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, node.ID)
	return nil
}

// EmitOutputs publishes an asynchronous output change, as a cloud provider
// would when a resource finishes provisioning after Materialize returned.
func (p *LocalProvider) EmitOutputs(resourceName string, outputs map[string]any) {
	p.Emit(OutputsEvent{ResourceName: resourceName, Outputs: outputs, Timestamp: time.Now()})
}

// Stop drops event subscribers.
func (p *LocalProvider) Stop() error {
	p.Close()
	return nil
}

// Materialized returns the ids passed to Materialize, in order.
func (p *LocalProvider) Materialized() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.materialized...)
}

// Destroyed returns the ids passed to Destroy, in order.
func (p *LocalProvider) Destroyed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.destroyed...)
}
