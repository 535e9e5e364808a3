package creact

import (
	"fmt"
	"log/slog"

	"github.com/creact-labs/creact-sub004/pkg/reactive"
	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// Renderer owns the fiber tree and the render-pass state: the live context
// stacks and the resource path. It is single-threaded, like the reactive
// runtime it drives.
type Renderer struct {
	reg *registry.Registry
	log *slog.Logger

	root         *Fiber
	stacks       contextStacks
	resourcePath []string
	current      *Fiber
}

// NewRenderer creates a renderer that registers instances in reg.
func NewRenderer(reg *registry.Registry, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{
		reg:    reg,
		log:    log.With("component", "renderer"),
		stacks: make(contextStacks),
	}
}

// Root returns the root fiber of the last render.
func (r *Renderer) Root() *Fiber {
	return r.root
}

// Render builds (or rebuilds) the fiber tree from el. A panicking component
// body surfaces as a RenderError; the renderer's tracking state is coherent
// afterwards.
func (r *Renderer) Render(el *Element) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = wrapRenderPanic(rec)
		}
	}()
	if r.root != nil {
		r.root = r.reconcileOne(el, r.root, nil, 0)
		return nil
	}
	r.root = r.renderElement(el, nil, 0)
	return nil
}

// CollectInstances walks the fiber tree in render order and returns every
// registered instance node.
func (r *Renderer) CollectInstances() []*registry.InstanceNode {
	var nodes []*registry.InstanceNode
	var walk func(f *Fiber)
	walk = func(f *Fiber) {
		if f == nil {
			return
		}
		nodes = append(nodes, f.instanceNodes...)
		for _, c := range f.children {
			walk(c)
		}
	}
	walk(r.root)
	return nodes
}

// Unmount tears the whole tree down, disposing computations and effects and
// dropping instance registrations.
func (r *Renderer) Unmount() {
	if r.root != nil {
		r.cleanupFiber(r.root)
		r.root = nil
	}
}

// renderElement creates a fresh fiber for el under parentPath.
func (r *Renderer) renderElement(el *Element, parentPath []string, index int) *Fiber {
	el = Normalize(el)
	return r.renderNamed(el, parentPath, el.name(index))
}

// renderNamed creates a fiber under an explicit sibling-unique name.
func (r *Renderer) renderNamed(el *Element, parentPath []string, name string) *Fiber {
	path := append(append([]string(nil), parentPath...), name)

	f := &Fiber{
		kind:  el.Kind,
		name:  name,
		tag:   el.Tag,
		props: el.Props,
		key:   el.Key,
		text:  el.Text,
		path:  path,
	}

	switch el.Kind {
	case KindNull, KindText:
		// Leaves.

	case KindIntrinsic, KindFragment:
		f.children = r.renderList(el.Children, path, nil)

	case KindProvider:
		f.provider = el.Context
		f.providerValue = el.Value
		r.stacks.push(el.Context.id, el.Value)
		// Scoped push: the stack pops on every exit path, including a
		// panicking descendant.
		defer r.stacks.pop(el.Context.id)
		f.children = r.renderList(el.Children, path, nil)

	case KindComponent:
		f.render = el.Render
		f.incomingResourcePath = append([]string(nil), r.resourcePath...)
		f.contextSnapshot = r.stacks.snapshot()
		comp := reactive.NewComputation(r.reg.Runtime(), nil)
		comp.SetBody(func() { r.runComponent(f) })
		f.computation = comp
		comp.Run()
	}
	return f
}

// runComponent is the body of a component fiber's computation. It executes
// on creation, on prop updates during reconciliation, and reactively when a
// signal the component read changes.
func (r *Renderer) runComponent(f *Fiber) {
	// Re-runs can fire long after the original traversal exited the
	// enclosing providers; restore the context view captured at creation
	// and put the live stacks back afterwards.
	liveStacks := r.stacks.snapshot()
	r.stacks.restore(f.contextSnapshot)
	defer r.stacks.restore(liveStacks)

	savedPath := r.resourcePath
	r.resourcePath = append([]string(nil), f.incomingResourcePath...)
	// The segment pushed by UseInstance below is scoped to this body; the
	// restore is the pop.
	defer func() { r.resourcePath = savedPath }()

	f.hookIndex = 0
	f.instanceNodes = f.instanceNodes[:0]
	f.hasPlaceholderInstance = false

	for _, e := range f.effects {
		e.Dispose()
	}
	f.effects = f.effects[:0]

	prev := r.current
	r.current = f
	defer func() { r.current = prev }()

	out := f.render(&Ctx{r: r, fiber: f})

	el := Normalize(out)
	old := f.children
	f.children = nil
	child := r.reconcileOne(el, pickMatch(el, old, 0), f.path, 0)
	f.children = []*Fiber{child}
	for _, o := range old {
		if o != nil && o != child {
			r.cleanupFiber(o)
		}
	}
}

// renderList renders els, reconciling each against old by (key or name) and
// matching type. Unmatched old fibers are cleaned up.
func (r *Renderer) renderList(els []*Element, parentPath []string, old []*Fiber) []*Fiber {
	oldByName := make(map[string]*Fiber, len(old))
	for _, o := range old {
		if o != nil {
			oldByName[o.name] = o
		}
	}

	out := make([]*Fiber, 0, len(els))
	seen := make(map[string]bool, len(els))
	for i, el := range els {
		el = Normalize(el)
		name := el.name(i)
		// Unkeyed duplicates get positional names so every sibling fiber
		// path is distinct; the registry relies on that to tell a true
		// duplicate id from a reactive re-claim.
		if seen[name] {
			name = fmt.Sprintf("%s-%d", name, i)
		}
		seen[name] = true

		if m, ok := oldByName[name]; ok && m.matches(el) {
			delete(oldByName, name)
			out = append(out, r.updateFiber(m, el))
			continue
		}
		if m, ok := oldByName[name]; ok {
			// Same position, different shape: replace.
			delete(oldByName, name)
			r.cleanupFiber(m)
		}
		out = append(out, r.renderNamed(el, parentPath, name))
	}

	for _, o := range oldByName {
		r.cleanupFiber(o)
	}
	return out
}

// reconcileOne reconciles a single element against an optional previous
// fiber.
func (r *Renderer) reconcileOne(el *Element, old *Fiber, parentPath []string, index int) *Fiber {
	el = Normalize(el)
	if old != nil && old.matches(el) && old.name == el.name(index) {
		return r.updateFiber(old, el)
	}
	if old != nil {
		r.cleanupFiber(old)
	}
	return r.renderElement(el, parentPath, index)
}

// updateFiber applies el onto an existing matching fiber.
func (r *Renderer) updateFiber(f *Fiber, el *Element) *Fiber {
	f.props = el.Props
	f.key = el.Key

	switch f.kind {
	case KindText:
		f.text = el.Text

	case KindIntrinsic, KindFragment:
		f.children = r.renderList(el.Children, f.path, f.children)

	case KindProvider:
		f.providerValue = el.Value
		r.stacks.push(f.provider.id, el.Value)
		defer r.stacks.pop(f.provider.id)
		f.children = r.renderList(el.Children, f.path, f.children)

	case KindComponent:
		f.render = el.Render
		f.computation.Run()
	}
	return f
}

// cleanupFiber unmounts a subtree: computation, effects, instance
// registrations, then children.
func (r *Renderer) cleanupFiber(f *Fiber) {
	if f == nil {
		return
	}
	if f.computation != nil {
		f.computation.Dispose()
	}
	for _, e := range f.effects {
		e.Dispose()
	}
	f.effects = nil
	for _, n := range f.instanceNodes {
		r.reg.Remove(n.ID)
	}
	f.instanceNodes = nil
	for _, c := range f.children {
		r.cleanupFiber(c)
	}
	f.children = nil
}

// pickMatch selects the previous fiber a component output reconciles onto.
func pickMatch(el *Element, old []*Fiber, index int) *Fiber {
	name := el.name(index)
	for _, o := range old {
		if o != nil && o.name == name {
			return o
		}
	}
	return nil
}

func wrapRenderPanic(rec any) error {
	if err, ok := rec.(error); ok {
		return &RenderError{Err: err}
	}
	return &RenderError{Err: fmt.Errorf("%v", rec)}
}
