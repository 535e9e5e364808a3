// Package provider defines the interface the orchestrator drives to realize
// resources, plus the event channel through which providers push
// asynchronous output changes back into the reactive graph.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// OutputsEvent announces provider-driven output changes for one resource.
// ResourceName matches the node's name prop when set, falling back to the
// node id.
type OutputsEvent struct {
	ResourceName string         `json:"resourceName"`
	Outputs      map[string]any `json:"outputs"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Provider materializes and destroys resource instances. Materialize must
// call SetOutputs on each node once outputs become available, either
// synchronously before returning or asynchronously through an outputs
// event. Retries and timeouts live inside the provider, not the core.
type Provider interface {
	Materialize(ctx context.Context, nodes []*registry.InstanceNode) error
	Destroy(ctx context.Context, node *registry.InstanceNode) error
}

// EventSource is implemented by providers that deliver outputs
// asynchronously. Subscribe returns the unsubscribe function; Stop detaches
// every handler and releases provider resources.
type EventSource interface {
	Subscribe(handler func(OutputsEvent)) (unsubscribe func())
	Stop() error
}

// Lifecycle hooks are optional. When the provider implements the interface,
// the orchestrator calls PreDeploy, PostDeploy and OnError around each
// materialize; it does not call Initialize.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	PreDeploy(ctx context.Context, nodes []*registry.InstanceNode) error
	PostDeploy(ctx context.Context, nodes []*registry.InstanceNode, outputs map[string]map[string]any) error
	OnError(ctx context.Context, err error, nodes []*registry.InstanceNode)
}

// Emitter is a minimal fan-out for OutputsEvents, safe for concurrent
// subscription and emission.
type Emitter struct {
	mu       sync.Mutex
	handlers map[int]func(OutputsEvent)
	next     int
}

// Subscribe registers handler and returns its unsubscribe function.
func (e *Emitter) Subscribe(handler func(OutputsEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[int]func(OutputsEvent))
	}
	id := e.next
	e.next++
	e.handlers[id] = handler
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// Emit delivers ev to every subscriber. Handlers run on the emitting
// goroutine.
func (e *Emitter) Emit(ev OutputsEvent) {
	e.mu.Lock()
	handlers := make([]func(OutputsEvent), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Close drops all subscribers.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = nil
}
