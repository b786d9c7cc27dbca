// Package router resolves inbound (method, path) pairs to registered
// handlers. Two tables exist side by side: the pattern route table, scanned
// in registration order with first match winning, and the servicer registry
// for name-based dispatch. Both are populated at startup and frozen before
// serving begins.
package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"app_kernel/internal/controller"
)

// Route is one registered mapping from method(s) and a path pattern to a
// handler. An empty method list accepts every method.
type Route struct {
	Methods []string
	Pattern string
	Name    string
	Handler controller.Action

	compiled *pattern
}

func (r *Route) allowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Match is a successful resolution: the winning route plus the placeholder
// values captured from the path, in declared order. A Match is always fully
// populated; failed resolutions return typed errors instead.
type Match struct {
	Route  *Route
	Params controller.Params
}

// Table is the registration-ordered route table. Registration happens during
// startup; Freeze flips the table read-only before the first request, so
// resolution never observes a mutation.
type Table struct {
	logger *slog.Logger
	routes []*Route
	frozen atomic.Bool
}

// NewTable returns an empty route table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{logger: logger}
}

// Register compiles and appends a route. Order matters: when patterns
// overlap, the earlier registration wins resolution.
func (t *Table) Register(route Route) error {
	if t.frozen.Load() {
		return ErrTableFrozen
	}
	if route.Handler == nil {
		return fmt.Errorf("router: route %q has no handler", route.Pattern)
	}

	compiled, err := compilePattern(route.Pattern)
	if err != nil {
		return err
	}
	route.compiled = compiled

	for i, m := range route.Methods {
		route.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	if route.Name == "" {
		route.Name = route.Pattern
	}

	t.routes = append(t.routes, &route)
	t.logger.Debug("route registered",
		"pattern", route.Pattern,
		"methods", route.Methods,
		"name", route.Name,
	)
	return nil
}

// Handle registers a single-method route.
func (t *Table) Handle(method, pattern string, action controller.Action) error {
	return t.Register(Route{Methods: []string{method}, Pattern: pattern, Handler: action})
}

// GET registers a GET route.
func (t *Table) GET(pattern string, action controller.Action) error {
	return t.Handle(http.MethodGet, pattern, action)
}

// POST registers a POST route.
func (t *Table) POST(pattern string, action controller.Action) error {
	return t.Handle(http.MethodPost, pattern, action)
}

// PUT registers a PUT route.
func (t *Table) PUT(pattern string, action controller.Action) error {
	return t.Handle(http.MethodPut, pattern, action)
}

// PATCH registers a PATCH route.
func (t *Table) PATCH(pattern string, action controller.Action) error {
	return t.Handle(http.MethodPatch, pattern, action)
}

// DELETE registers a DELETE route.
func (t *Table) DELETE(pattern string, action controller.Action) error {
	return t.Handle(http.MethodDelete, pattern, action)
}

// Any registers a method-agnostic route.
func (t *Table) Any(pattern string, action controller.Action) error {
	return t.Register(Route{Pattern: pattern, Handler: action})
}

// Freeze closes registration. Resolution works before and after; freezing
// only guards against accidental mutation once serving has started.
func (t *Table) Freeze() {
	if t.frozen.CompareAndSwap(false, true) {
		t.logger.Debug("route table frozen", "routes", len(t.routes))
	}
}

// Frozen reports whether registration is closed.
func (t *Table) Frozen() bool { return t.frozen.Load() }

// Len returns the number of registered routes.
func (t *Table) Len() int { return len(t.routes) }

// Patterns lists the registered patterns in registration order, prefixed
// with their methods. Useful for startup logging and audit tooling.
func (t *Table) Patterns() []string {
	out := make([]string, 0, len(t.routes))
	for _, rt := range t.routes {
		methods := "ANY"
		if len(rt.Methods) > 0 {
			methods = strings.Join(rt.Methods, ",")
		}
		out = append(out, methods+" "+rt.Pattern)
	}
	return out
}

// Resolve scans the table in registration order and returns the first route
// whose pattern matches the path and whose method set allows the request
// method. Failures are typed: *NotFoundError when no pattern matched the
// path at all, *MethodNotAllowedError when at least one did but the method
// was wrong.
func (t *Table) Resolve(method, path string) (*Match, error) {
	method = strings.ToUpper(method)

	pathMatched := false
	var allowed []string
	for _, rt := range t.routes {
		params, ok := rt.compiled.match(path)
		if !ok {
			continue
		}
		if rt.allowsMethod(method) {
			return &Match{Route: rt, Params: params}, nil
		}
		pathMatched = true
		allowed = append(allowed, rt.Methods...)
	}

	if pathMatched {
		return nil, &MethodNotAllowedError{
			Path:    path,
			Method:  method,
			Allowed: dedupeMethods(allowed),
		}
	}
	return nil, &NotFoundError{Path: path}
}

func dedupeMethods(methods []string) []string {
	seen := make(map[string]bool, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
