package registry

import (
	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/reactive"
)

// Construct tags a resource-bearing component. The runtime never interprets
// the type beyond using it for id segments and diagnostics.
type Construct struct {
	Type string
}

// InstanceNode is a declared cloud resource: a stable id derived from the
// resource path, the props captured at render time, and one signal per
// output key.
type InstanceNode struct {
	ID            string
	Path          []string
	ConstructType string
	Props         props.Map
	Store         map[string]any

	reg     *Registry
	outputs map[string]*reactive.Signal[any]
}

// Output returns the read accessor for a named output. The signal is created
// lazily on first access so providers can deliver keys the component never
// declared. When the stored value is a func() any, the accessor calls it,
// letting providers hand out lazy values that track their own signals;
// functions of other types are returned as they are.
func (n *InstanceNode) Output(name string) func() any {
	sig := n.outputSignal(name)
	return func() any {
		v := sig.Get()
		if fn, ok := v.(func() any); ok {
			return fn()
		}
		return v
	}
}

func (n *InstanceNode) outputSignal(name string) *reactive.Signal[any] {
	if n.outputs == nil {
		n.outputs = make(map[string]*reactive.Signal[any])
	}
	sig, ok := n.outputs[name]
	if !ok {
		sig = reactive.NewSignal[any](n.reg.rt, nil)
		n.outputs[name] = sig
	}
	return sig
}

// SetOutputs stores provider-delivered outputs. Each value is
// shallow-compared against the current one; when nothing changed the call
// returns without side effects so repeated provider events cannot start
// re-render storms. Changed keys are written inside a single batch.
func (n *InstanceNode) SetOutputs(outputs map[string]any) {
	changed := make(map[string]any)
	for name, value := range outputs {
		current := n.outputSignal(name).Peek()
		if !props.ShallowEqual(current, value) {
			changed[name] = value
		}
	}
	if len(changed) == 0 {
		return
	}

	// Signal writes re-run dependent components, which re-claim their ids;
	// ownership from the pass that created this node no longer applies.
	n.reg.clearOwnership()

	n.reg.rt.Batch(func() {
		for name, value := range changed {
			n.outputSignal(name).Set(value)
		}
	})
}

// Outputs snapshots the current output values without tracking. Keys whose
// signal still holds nil are omitted.
func (n *InstanceNode) Outputs() map[string]any {
	out := make(map[string]any, len(n.outputs))
	for name, sig := range n.outputs {
		if v := sig.Peek(); v != nil {
			out[name] = v
		}
	}
	return out
}

// OutputAccessors exposes one tracked accessor per known output key.
type OutputAccessors interface {
	// Output returns a read accessor for the named output. Accessors of a
	// placeholder always return nil.
	Output(name string) func() any
	// Placeholder reports whether the instance was deferred because one of
	// its props was undefined.
	Placeholder() bool
	// Node returns the registered node, nil for placeholders.
	Node() *InstanceNode
}

type nodeAccessors struct{ node *InstanceNode }

func (a nodeAccessors) Output(name string) func() any { return a.node.Output(name) }
func (a nodeAccessors) Placeholder() bool             { return false }
func (a nodeAccessors) Node() *InstanceNode           { return a.node }

// placeholderAccessors is returned when a prop is still undefined: every
// field resolves to a function producing nil.
type placeholderAccessors struct{}

func (placeholderAccessors) Output(string) func() any {
	return func() any { return nil }
}
func (placeholderAccessors) Placeholder() bool   { return true }
func (placeholderAccessors) Node() *InstanceNode { return nil }

// Placeholder returns the accessor proxy used for deferred instances.
func Placeholder() OutputAccessors {
	return placeholderAccessors{}
}

// Accessors wraps a registered node in its accessor view.
func Accessors(n *InstanceNode) OutputAccessors {
	return nodeAccessors{node: n}
}
