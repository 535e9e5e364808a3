// Package registry owns the resource instance records produced by a render
// pass: stable ids derived from resource paths, per-output signals, and the
// ownership table that catches duplicate siblings.
package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/reactive"
)

// Registry holds every InstanceNode registered during the current run,
// keyed by id, in registration order.
type Registry struct {
	rt        *reactive.Runtime
	nodes     map[string]*InstanceNode
	order     []string
	ownership map[string]string // id -> fiber path that claimed it

	outputHydration map[string]map[string]any
	storeHydration  map[string]map[string]any
}

// NewRegistry creates an empty registry bound to the reactive runtime.
func NewRegistry(rt *reactive.Runtime) *Registry {
	return &Registry{
		rt:              rt,
		nodes:           make(map[string]*InstanceNode),
		ownership:       make(map[string]string),
		outputHydration: make(map[string]map[string]any),
		storeHydration:  make(map[string]map[string]any),
	}
}

// Runtime returns the reactive runtime the registry writes through.
func (r *Registry) Runtime() *reactive.Runtime {
	return r.rt
}

// Register claims id for fiberPath and returns the node. Re-claiming from
// the same fiber path updates the node in place, keeping its output signals
// so in-flight subscriptions survive reactive re-runs. A claim from a
// different fiber path in the same pass is a composition error.
func (r *Registry) Register(id string, path []string, constructType string, p props.Map, fiberPath string) (*InstanceNode, error) {
	if owner, ok := r.ownership[id]; ok && owner != fiberPath {
		return nil, fmt.Errorf(
			"%w: two %s instances resolve to %q (claimed by %s and %s); give each sibling a distinct key prop",
			ErrDuplicateSiblings, constructType, id, owner, fiberPath)
	}
	r.ownership[id] = fiberPath

	node, ok := r.nodes[id]
	if !ok {
		node = &InstanceNode{
			ID:            id,
			Path:          append([]string(nil), path...),
			ConstructType: constructType,
			reg:           r,
		}
		r.nodes[id] = node
		r.order = append(r.order, id)

		if outputs, ok := r.outputHydration[id]; ok {
			for name, value := range outputs {
				node.outputSignal(name).Set(value)
			}
		}
		if store, ok := r.storeHydration[id]; ok {
			node.Store = store
		}
	}
	node.Props = p
	node.ConstructType = constructType
	return node, nil
}

// Get returns the node registered under id.
func (r *Registry) Get(id string) (*InstanceNode, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// FindByName locates a node whose props carry the given name, falling back
// to matching the id itself. Provider events address resources this way.
func (r *Registry) FindByName(name string) (*InstanceNode, bool) {
	for _, id := range r.order {
		n := r.nodes[id]
		if n.Props.Get("name") == name {
			return n, true
		}
	}
	n, ok := r.nodes[name]
	return n, ok
}

// Nodes returns every registered node in registration order.
func (r *Registry) Nodes() []*InstanceNode {
	out := make([]*InstanceNode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// Remove drops a node and its ownership record, used when its fiber
// unmounts.
func (r *Registry) Remove(id string) {
	if _, ok := r.nodes[id]; !ok {
		return
	}
	delete(r.nodes, id)
	delete(r.ownership, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// clearOwnership forgets every claim. Called before output writes so the
// re-runs they trigger can re-claim their ids.
func (r *Registry) clearOwnership() {
	r.ownership = make(map[string]string)
}

// ClearOwnership is the exported form of clearOwnership for callers outside
// the package.
func (r *Registry) ClearOwnership() {
	r.clearOwnership()
}

// HydrateOutputs seeds the last-known outputs for id; nodes registered later
// in the pass start with these values so components read persisted state on
// their first render.
func (r *Registry) HydrateOutputs(id string, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	r.outputHydration[id] = outputs
}

// HydrateStore seeds the persisted store bag for id.
func (r *Registry) HydrateStore(id string, store map[string]any) {
	if len(store) == 0 {
		return
	}
	r.storeHydration[id] = store
}

// FillOutputs delivers provider outputs to a node by id; unknown ids are
// reported so the caller can log and drop the event.
func (r *Registry) FillOutputs(id string, outputs map[string]any) bool {
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	n.SetOutputs(outputs)
	return true
}

// PathSegment derives the resource path segment for a construct: the
// kebab-cased construct type, suffixed with the key when present.
func PathSegment(constructType, key string) string {
	seg := KebabCase(constructType)
	if key != "" {
		seg += "-" + key
	}
	return seg
}

// NodeID joins a resource path into the dot-separated node id.
func NodeID(path []string) string {
	return strings.Join(path, ".")
}

// KebabCase converts CamelCase construct names into kebab-case segments.
func KebabCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
