package creact

import (
	"fmt"

	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/reactive"
	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// Ctx is the per-execution view a component body receives: the fiber's
// props, the hook dispatch state, and the resource path.
type Ctx struct {
	r     *Renderer
	fiber *Fiber
}

// Props returns the fiber's current props. Prop updates from reconciliation
// arrive here, not through closures captured at creation.
func (ctx *Ctx) Props() props.Map {
	return ctx.fiber.props
}

// Key returns the element key, empty when unset.
func (ctx *Ctx) Key() string {
	return ctx.fiber.key
}

// Runtime exposes the reactive runtime for Batch/Untrack/OnCleanup.
func (ctx *Ctx) Runtime() *reactive.Runtime {
	return ctx.r.reg.Runtime()
}

// UseContext reads the nearest provided value for c, or its default.
func (ctx *Ctx) UseContext(c *Context) any {
	return ctx.r.stacks.top(c)
}

// UseStore returns the fiber's persistent store bag, created on demand. When
// the component declares an instance, the bag is persisted with the node and
// rehydrated on the next run.
func (ctx *Ctx) UseStore() map[string]any {
	if ctx.fiber.store == nil {
		ctx.fiber.store = make(map[string]any)
	}
	for _, n := range ctx.fiber.instanceNodes {
		if n.Store == nil {
			n.Store = ctx.fiber.store
		}
	}
	return ctx.fiber.store
}

type signalHook[T any] struct {
	read  func() T
	write func(T)
}

// UseSignal returns a signal accessor pair memoized by hook position: the
// first execution creates the signal, re-runs return the same pair. Hook
// order must be stable across runs.
func UseSignal[T any](ctx *Ctx, initial T) (func() T, func(T)) {
	f := ctx.fiber
	idx := f.hookIndex
	f.hookIndex++
	if idx < len(f.hooks) {
		h, ok := f.hooks[idx].(signalHook[T])
		if !ok {
			panic(fmt.Errorf("%w: hook %d changed type between runs", ErrHookOrder, idx))
		}
		return h.read, h.write
	}
	read, write := reactive.CreateSignal(ctx.Runtime(), initial)
	f.hooks = append(f.hooks, signalHook[T]{read: read, write: write})
	return read, write
}

// UseEffect runs fn under a fresh tracked computation attached to the fiber.
// Effects from the previous run were already cleaned before the body
// re-executed; a cleanup closure returned by fn runs on re-run and unmount.
func UseEffect[F reactive.EffectFunc](ctx *Ctx, fn F) {
	f := ctx.fiber
	f.effects = append(f.effects, reactive.CreateEffect(ctx.Runtime(), fn))
}

// UseInstance declares the component's cloud resource and returns accessors
// for its outputs. At most one instance per component; compose child
// components to declare more. When a prop value is still undefined the
// instance is deferred: a placeholder proxy is returned, the resource path
// segment is still pushed so descendants derive correct ids, and no node is
// registered.
func UseInstance(ctx *Ctx, construct registry.Construct, p props.Map) registry.OutputAccessors {
	f := ctx.fiber
	if f == nil || ctx.r.current != f {
		panic(registry.ErrOutsideRender)
	}
	if f.hasInstance() {
		panic(fmt.Errorf("%w: %s is the second instance in component %s; compose child components to declare multiple resources",
			registry.ErrMultipleInstances, construct.Type, f.PathString()))
	}

	r := ctx.r
	segment := registry.PathSegment(construct.Type, f.key)
	r.resourcePath = append(r.resourcePath, segment)

	if p.HasUndefined() {
		f.hasPlaceholderInstance = true
		return registry.Placeholder()
	}

	id := registry.NodeID(r.resourcePath)
	node, err := r.reg.Register(id, r.resourcePath, construct.Type, p, f.PathString())
	if err != nil {
		panic(err)
	}

	if node.Store != nil {
		f.store = node.Store
	} else if f.store != nil {
		node.Store = f.store
	}

	f.instanceNodes = append(f.instanceNodes, node)
	return registry.Accessors(node)
}
