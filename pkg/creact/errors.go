package creact

import "errors"

// ErrHookOrder means a component's hook sequence changed between runs;
// hooks are positional and must be called unconditionally.
var ErrHookOrder = errors.New("hook order changed between runs")

// RenderError wraps a panic raised by a component body during a render
// pass. Usage errors from the registry pass through errors.Is.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return "render failed: " + e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
