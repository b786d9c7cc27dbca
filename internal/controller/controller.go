// Package controller defines what the kernel dispatches to: action functions
// bound to pattern routes, and constructible services resolved by name. Both
// receive a Context and return an optional explicit body plus an error.
package controller

// Action handles one resolved request. The return value feeds the output
// buffer controller: nil means "no explicit body, drain captured output";
// a string, []byte, or json.RawMessage is used verbatim; anything else is
// JSON-encoded.
type Action func(*Context) (any, error)

// Service is a handler object dispatched by name rather than by pattern.
// Remaining path segments arrive as Context.Args.
type Service interface {
	Serve(*Context) (any, error)
}

// Factory constructs a Service instance for one request. The servicer
// registry maps service names to factories at startup, so dispatch never
// instantiates anything by string at runtime.
type Factory func() Service

// ServiceFunc adapts a plain function to the Service interface.
type ServiceFunc func(*Context) (any, error)

// Serve implements Service.
func (f ServiceFunc) Serve(c *Context) (any, error) { return f(c) }
