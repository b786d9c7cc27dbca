package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"app_kernel/internal/request"
	"app_kernel/internal/response"
)

// Param is one captured path placeholder.
type Param struct {
	Name  string
	Value string
}

// Params holds captured placeholders in declared order.
type Params []Param

// Get returns the value captured for name.
func (p Params) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return "", false
}

// Value returns the captured value for name, or "".
func (p Params) Value(name string) string {
	v, _ := p.Get(name)
	return v
}

// Context carries everything a handler may touch for one request: the
// immutable snapshot, the mutable response state, write access to the current
// output-capture scope, captured path parameters, and a request-scoped
// logger.
type Context struct {
	Ctx      context.Context
	Snapshot *request.Snapshot
	Response *response.State
	Buffer   *response.Controller
	Params   Params
	Args     []string
	Logger   *slog.Logger

	// Route is the resolved route name, or "service:<name>" when the request
	// fell through to name-based dispatch. Empty until resolution completes,
	// so lifecycle listeners can rely on it while handlers run.
	Route string
}

// NewContext assembles a handler context. A nil logger falls back to
// slog.Default.
func NewContext(snap *request.Snapshot, state *response.State, buf *response.Controller, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Ctx:      context.Background(),
		Snapshot: snap,
		Response: state,
		Buffer:   buf,
		Logger:   logger,
	}
}

// Param returns the captured path placeholder by name.
func (c *Context) Param(name string) (string, bool) { return c.Params.Get(name) }

// Status records the response status code.
func (c *Context) Status(code int) error { return c.Response.SetStatus(code) }

// SetHeader replaces a response header.
func (c *Context) SetHeader(name, value string) error { return c.Response.SetHeader(name, value) }

// SetCookie appends a response cookie.
func (c *Context) SetCookie(cookie *http.Cookie) error { return c.Response.AddCookie(cookie) }

// Write captures p into the current output scope.
func (c *Context) Write(p []byte) (int, error) { return c.Buffer.Write(p) }

// Print captures its arguments into the current output scope.
func (c *Context) Print(args ...any) { fmt.Fprint(c.Buffer, args...) }

// Printf captures formatted text into the current output scope.
func (c *Context) Printf(format string, args ...any) { fmt.Fprintf(c.Buffer, format, args...) }

// Redirect records a redirect response. The buffer controller will discard
// any captured output for it.
func (c *Context) Redirect(url string, code int) (any, error) {
	if code < 300 || code > 399 {
		return nil, fmt.Errorf("controller: redirect status %d out of range", code)
	}
	if err := c.Response.SetHeader("Location", url); err != nil {
		return nil, err
	}
	if err := c.Response.SetStatus(code); err != nil {
		return nil, err
	}
	return nil, nil
}
