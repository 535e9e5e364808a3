// Package creact implements the component renderer: it translates a
// declarative element tree into a fiber tree with per-component reactive
// computations, positional hook memoization, context stacks, and reconciling
// re-execution. Components declare cloud resources through UseInstance; the
// renderer keeps the resource path that derives their stable ids.
package creact

import (
	"fmt"

	"github.com/creact-labs/creact-sub004/pkg/props"
)

// Kind discriminates the element variants.
type Kind uint8

const (
	// KindNull renders nothing; nil and false children normalize to it.
	KindNull Kind = iota
	// KindText is a leaf carrying literal text.
	KindText
	// KindIntrinsic is a passive structural node identified by tag.
	KindIntrinsic
	// KindComponent wraps a render function executed under a computation.
	KindComponent
	// KindProvider pushes a context value around its subtree.
	KindProvider
	// KindFragment groups children without a node of its own.
	KindFragment
)

// ComponentFunc is a component body: it reads props and hooks through ctx
// and returns the subtree to render.
type ComponentFunc func(ctx *Ctx) *Element

// Element is one node of the declarative tree handed to the renderer.
// Elements are cheap immutable descriptions; fibers carry the runtime state.
type Element struct {
	Kind     Kind
	Tag      string
	Render   ComponentFunc
	Props    props.Map
	Key      string
	Children []*Element
	Text     string

	// Provider fields.
	Context *Context
	Value   any
}

// Null returns the element that renders nothing.
func Null() *Element {
	return &Element{Kind: KindNull}
}

// Text returns a text leaf.
func Text(s string) *Element {
	return &Element{Kind: KindText, Text: s}
}

// Intrinsic returns a structural element with the given tag.
func Intrinsic(tag string, p props.Map, children ...*Element) *Element {
	return &Element{Kind: KindIntrinsic, Tag: tag, Props: p, Key: p.Key(), Children: children}
}

// Component returns a component element. name is used for fiber paths and
// diagnostics; components without a name get a defaulted label. The subtree
// comes from executing render, never from static children.
func Component(name string, render ComponentFunc, p props.Map) *Element {
	return &Element{Kind: KindComponent, Tag: name, Render: render, Props: p, Key: p.Key()}
}

// Fragment groups children without introducing a node.
func Fragment(children ...*Element) *Element {
	return &Element{Kind: KindFragment, Children: children}
}

// If returns el when cond holds and a null element otherwise, mirroring the
// boolean-child convention of the element shape rules.
func If(cond bool, el *Element) *Element {
	if !cond {
		return Null()
	}
	return el
}

// Normalize converts loose child values into elements: nil and booleans
// render nothing, strings and numbers become text, slices become fragments.
func Normalize(v any) *Element {
	switch c := v.(type) {
	case nil:
		return Null()
	case *Element:
		if c == nil {
			return Null()
		}
		return c
	case bool:
		return Null()
	case string:
		return Text(c)
	case int:
		return Text(fmt.Sprintf("%d", c))
	case float64:
		return Text(fmt.Sprintf("%g", c))
	case []*Element:
		return Fragment(c...)
	case []any:
		kids := make([]*Element, len(c))
		for i, k := range c {
			kids[i] = Normalize(k)
		}
		return Fragment(kids...)
	default:
		return Null()
	}
}

// name computes the fiber path segment for an element: the key when set,
// else the tag, else a defaulted label by kind.
func (e *Element) name(index int) string {
	if e == nil {
		return fmt.Sprintf("null-%d", index)
	}
	if e.Key != "" {
		return e.Key
	}
	if e.Tag != "" {
		return e.Tag
	}
	switch e.Kind {
	case KindText:
		return fmt.Sprintf("text-%d", index)
	case KindFragment:
		return fmt.Sprintf("fragment-%d", index)
	case KindProvider:
		return fmt.Sprintf("provider-%d", index)
	case KindComponent:
		return fmt.Sprintf("component-%d", index)
	default:
		return fmt.Sprintf("node-%d", index)
	}
}
