package registry

import "errors"

// Composition errors surfaced to the component author. They indicate a
// static misuse of the component tree rather than a provider failure.
var (
	// ErrDuplicateSiblings means two fibers claimed the same resource id in
	// one pass; siblings of the same construct need distinct key props.
	ErrDuplicateSiblings = errors.New("duplicate resource id")

	// ErrMultipleInstances means a component called UseInstance more than
	// once; compose child components to declare multiple resources.
	ErrMultipleInstances = errors.New("multiple useInstance calls in one component")

	// ErrOutsideRender means UseInstance was called with no component
	// executing.
	ErrOutsideRender = errors.New("useInstance called outside component render")
)
