package dispatch

import "fmt"

// PanicError wraps a value recovered from a panicking handler, together with
// the stack captured at the recovery point. The dispatcher converts every
// handler panic into one of these so the failure path deals in plain errors.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: handler panic: %v", e.Value)
}
