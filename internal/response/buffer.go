package response

import (
	"bytes"
	"errors"
)

var (
	// ErrBufferEnded is returned when End runs twice for the same request.
	ErrBufferEnded = errors.New("response: buffer already ended")

	// ErrScopeReleased is returned when a scope is released twice.
	ErrScopeReleased = errors.New("response: scope already released")

	// ErrScopeOrder is returned when a release skips an inner open scope.
	// Scopes are strictly nested and close innermost-first.
	ErrScopeOrder = errors.New("response: scope released out of order")
)

// TransformFunc rewrites the reconciled body once, before it is attached to
// the response state. The kernel builds one from the host application's
// "output" lifecycle listener.
type TransformFunc func([]byte) []byte

// BufferScope is one nested level of output capture. Handlers receive write
// access through the controller rather than holding scopes directly; the
// handle exists so a scope opened mid-request can be closed early and its
// text flushed to the enclosing level.
type BufferScope struct {
	buf      bytes.Buffer
	released bool
}

// Len returns the number of bytes captured in this scope so far.
func (s *BufferScope) Len() int { return s.buf.Len() }

// Controller owns the capture scopes of a single request. The dispatcher
// acquires the outermost scope before the handler runs and calls End exactly
// once afterwards; whatever scopes a handler opened and forgot are closed
// there, so buffered text never leaks past the request boundary.
type Controller struct {
	state       *State
	scopes      []*BufferScope
	flushed     bytes.Buffer
	transform   TransformFunc
	transformed bool
	ended       bool
}

// NewController returns a controller bound to the given response state.
// transform may be nil.
func NewController(state *State, transform TransformFunc) *Controller {
	return &Controller{state: state, transform: transform}
}

// Acquire opens a new capture scope nested inside the current one.
func (c *Controller) Acquire() *BufferScope {
	s := &BufferScope{}
	c.scopes = append(c.scopes, s)
	return s
}

// Release closes the given scope and flushes its captured text into the
// enclosing open scope, or past the scope stack when it was the outermost.
// Only the innermost open scope may be released.
func (c *Controller) Release(s *BufferScope) error {
	if s == nil {
		return errors.New("response: nil scope")
	}
	if s.released {
		return ErrScopeReleased
	}
	if inner := c.innermost(); inner != s {
		return ErrScopeOrder
	}
	s.released = true
	if parent := c.innermost(); parent != nil {
		parent.buf.Write(s.buf.Bytes())
	} else {
		c.flushed.Write(s.buf.Bytes())
	}
	s.buf.Reset()
	return nil
}

// Write captures p into the innermost open scope. With every scope closed the
// text still lands in the controller's own accumulator instead of escaping to
// the wire.
func (c *Controller) Write(p []byte) (int, error) {
	if s := c.innermost(); s != nil {
		return s.buf.Write(p)
	}
	return c.flushed.Write(p)
}

// Depth returns the number of open scopes.
func (c *Controller) Depth() int {
	n := 0
	for _, s := range c.scopes {
		if !s.released {
			n++
		}
	}
	return n
}

// End reconciles captured output with the handler's explicit body and
// attaches the result to the response state. It runs exactly once per
// request:
//
//   - redirect status: every scope is discarded and the body stays empty;
//   - bodySet false: all remaining text is drained in acquisition order;
//   - bodySet true: the explicit body wins verbatim and residual scopes are
//     discarded.
//
// The transform hook runs at most once and is skipped on the error path and
// for redirects.
func (c *Controller) End(body []byte, bodySet bool, errorPath bool) error {
	if c.ended {
		return ErrBufferEnded
	}
	c.ended = true

	if c.state.IsRedirect() {
		c.discardAll()
		return c.state.setBody(nil)
	}

	var final []byte
	if bodySet {
		c.discardAll()
		final = body
	} else {
		final = c.drainAll()
	}

	if !errorPath && c.transform != nil && !c.transformed {
		final = c.transform(final)
		c.transformed = true
	}
	return c.state.setBody(final)
}

// Ended reports whether End has already run.
func (c *Controller) Ended() bool { return c.ended }

func (c *Controller) innermost() *BufferScope {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if !c.scopes[i].released {
			return c.scopes[i]
		}
	}
	return nil
}

// drainAll closes every remaining scope and returns the flushed text followed
// by each open scope's text in acquisition order.
func (c *Controller) drainAll() []byte {
	var out bytes.Buffer
	out.Write(c.flushed.Bytes())
	c.flushed.Reset()
	for _, s := range c.scopes {
		if !s.released {
			s.released = true
			out.Write(s.buf.Bytes())
			s.buf.Reset()
		}
	}
	return out.Bytes()
}

func (c *Controller) discardAll() {
	c.flushed.Reset()
	for _, s := range c.scopes {
		if !s.released {
			s.released = true
			s.buf.Reset()
		}
	}
}
