package creact

import (
	"strings"

	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/reactive"
	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// Fiber is the per-element runtime record: the rendered children, the
// component's computation and hooks, declared instance nodes, and the
// context view captured at creation.
type Fiber struct {
	kind   Kind
	name   string
	tag    string
	render ComponentFunc
	props  props.Map
	key    string
	text   string
	path   []string

	children    []*Fiber
	computation *reactive.Computation
	hooks       []any
	hookIndex   int
	effects     []*reactive.Computation

	instanceNodes          []*registry.InstanceNode
	hasPlaceholderInstance bool

	contextSnapshot      contextStacks
	incomingResourcePath []string

	// Provider fibers.
	provider      *Context
	providerValue any

	store map[string]any
}

// Name returns the fiber's path segment.
func (f *Fiber) Name() string { return f.name }

// Path returns the fiber path from the root.
func (f *Fiber) Path() []string { return f.path }

// PathString renders the fiber path for ownership records and diagnostics.
func (f *Fiber) PathString() string { return strings.Join(f.path, "/") }

// Props returns the current props. The renderer updates these in place on
// reconciliation; component bodies must read through them on every run.
func (f *Fiber) Props() props.Map { return f.props }

// Children returns the rendered child fibers.
func (f *Fiber) Children() []*Fiber { return f.children }

// hasInstance reports whether this fiber pushed a resource path segment.
func (f *Fiber) hasInstance() bool {
	return len(f.instanceNodes) > 0 || f.hasPlaceholderInstance
}

// matches reports whether el reconciles onto this fiber: same kind and, for
// named kinds, the same tag. Render function identity is deliberately not
// compared; props flow through the fiber.
func (f *Fiber) matches(el *Element) bool {
	if f.kind != el.Kind {
		return false
	}
	switch el.Kind {
	case KindIntrinsic, KindComponent:
		return f.tag == el.Tag
	case KindProvider:
		return true
	default:
		return true
	}
}
