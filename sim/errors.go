package sim

import "fmt"

// InvariantError reports an internal consistency violation that makes the rest of the run
// meaningless. It is raised with panic and recovered at the run boundary.
type InvariantError struct {
	Component string
	Msg       string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Component, e.Msg)
}

// Invariantf panics with an *InvariantError.
func Invariantf(component, format string, args ...any) {
	panic(&InvariantError{Component: component, Msg: fmt.Sprintf(format, args...)})
}
