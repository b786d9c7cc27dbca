// Package response models the outbound side of one request: a mutable
// response state that freezes on first emission, and a controller for the
// nested output-capture scopes that collect handler output.
package response

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAlreadySent is returned by every mutation and by Finalize itself once
// the response has been emitted. Hitting it means a component tried to touch
// a finished request, which is a programming error in the caller.
var ErrAlreadySent = errors.New("response: already sent")

// Defaults carries the values stamped onto every fresh response before the
// handler runs: the content type derived from the configured encoding and any
// fixed headers the application wants on all responses.
type Defaults struct {
	ContentType string
	Headers     map[string]string
}

// State is the response under construction. It starts at 200 with the
// default headers applied, accepts mutation through guarded setters while the
// pipeline runs, and is emitted exactly once by Finalize.
type State struct {
	status  int
	header  http.Header
	cookies []*http.Cookie
	body    []byte
	sent    bool
}

// New returns a response state with defaults applied and status 200.
func New(d Defaults) *State {
	s := &State{
		status: http.StatusOK,
		header: make(http.Header),
	}
	if d.ContentType != "" {
		s.header.Set("Content-Type", d.ContentType)
	}
	for k, v := range d.Headers {
		s.header.Set(k, v)
	}
	return s
}

// Status returns the current status code.
func (s *State) Status() int { return s.status }

// SetStatus records the status code for emission.
func (s *State) SetStatus(code int) error {
	if s.sent {
		return ErrAlreadySent
	}
	if code < 100 || code > 599 {
		return fmt.Errorf("response: invalid status code %d", code)
	}
	s.status = code
	return nil
}

// Header returns the first value of the named response header.
func (s *State) Header(name string) string { return s.header.Get(name) }

// SetHeader replaces the named header.
func (s *State) SetHeader(name, value string) error {
	if s.sent {
		return ErrAlreadySent
	}
	s.header.Set(name, value)
	return nil
}

// AddHeader appends a value to the named header.
func (s *State) AddHeader(name, value string) error {
	if s.sent {
		return ErrAlreadySent
	}
	s.header.Add(name, value)
	return nil
}

// DelHeader removes the named header.
func (s *State) DelHeader(name string) error {
	if s.sent {
		return ErrAlreadySent
	}
	s.header.Del(name)
	return nil
}

// SetContentType replaces the Content-Type header.
func (s *State) SetContentType(ct string) error {
	return s.SetHeader("Content-Type", ct)
}

// AddCookie appends a cookie; cookies are emitted in the order added.
func (s *State) AddCookie(c *http.Cookie) error {
	if s.sent {
		return ErrAlreadySent
	}
	if c == nil {
		return errors.New("response: nil cookie")
	}
	s.cookies = append(s.cookies, c)
	return nil
}

// IsRedirect reports whether the current status sits in the redirect range.
// The buffer controller discards all captured output for these responses.
func (s *State) IsRedirect() bool {
	return s.status >= 300 && s.status <= 399
}

// Body returns a copy of the reconciled body. Empty until the buffer
// controller has ended the capture scopes.
func (s *State) Body() []byte {
	out := make([]byte, len(s.body))
	copy(out, s.body)
	return out
}

// BodySize returns the reconciled body length in bytes.
func (s *State) BodySize() int { return len(s.body) }

// Sent reports whether Finalize has already emitted this response.
func (s *State) Sent() bool { return s.sent }

func (s *State) setBody(b []byte) error {
	if s.sent {
		return ErrAlreadySent
	}
	s.body = b
	return nil
}

// Finalize emits the response through the host writer: headers first, then
// cookies, then status and body, in that fixed order. It succeeds at most
// once per State; a second call returns ErrAlreadySent without emitting
// anything.
func (s *State) Finalize(w http.ResponseWriter) error {
	if s.sent {
		return ErrAlreadySent
	}
	s.sent = true

	dst := w.Header()
	for name, values := range s.header {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	for _, c := range s.cookies {
		http.SetCookie(w, c)
	}

	w.WriteHeader(s.status)
	if len(s.body) > 0 {
		if _, err := w.Write(s.body); err != nil {
			return fmt.Errorf("response: writing body: %w", err)
		}
	}
	return nil
}
