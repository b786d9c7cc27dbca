package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTableFrozen is returned by Register once Freeze has been called. The
// route table is read-only while requests are being served.
var ErrTableFrozen = errors.New("router: table is frozen")

// NotFoundError reports that no registered route matches the request path.
// The dispatcher answers it with 404.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("router: no route for path %q", e.Path)
}

// MethodNotAllowedError reports that at least one route matches the request
// path but none of them accepts the request method. The dispatcher answers it
// with 405 and an Allow header listing the methods that would have matched.
type MethodNotAllowedError struct {
	Path    string
	Method  string
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("router: method %s not allowed for path %q (allowed: %s)",
		e.Method, e.Path, strings.Join(e.Allowed, ", "))
}

// ServiceNotFoundError reports that no service is registered under the name.
type ServiceNotFoundError struct {
	Name string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("router: no service registered as %q", e.Name)
}
