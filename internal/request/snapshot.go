package request

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestIDHeader is the inbound header consulted before a new request ID is
// generated. The request-id middleware in internal/observability sets it.
const RequestIDHeader = "X-Request-ID"

// ClientInfo describes the peer that sent the request.
type ClientInfo struct {
	IP        string
	Port      string
	UserAgent string
	Referer   string
}

// Snapshot is an immutable picture of one inbound HTTP request, taken once at
// the host boundary and handed down through the pipeline. Handlers, the
// admission gate, and lifecycle listeners all read the same value; nothing
// downstream can mutate it.
//
// Header lookups are case-insensitive (http.Header semantics). Query and body
// parameters are captured after form parsing; the raw body is not retained.
type Snapshot struct {
	id         string
	method     string
	path       string
	host       string
	header     http.Header
	query      url.Values
	body       url.Values
	cookies    []http.Cookie
	client     ClientInfo
	receivedAt time.Time
}

// Capture builds a Snapshot from an inbound request. It parses the query
// string and any URL-encoded form body; a malformed form is a capture error
// and the dispatcher answers it with 400 before any handler state exists.
func Capture(r *http.Request) (*Snapshot, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("request: parsing form: %w", err)
	}

	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = newRequestID()
	}

	cookies := make([]http.Cookie, 0, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies = append(cookies, *c)
	}

	ip, port := splitRemoteAddr(r)

	return &Snapshot{
		id:      id,
		method:  strings.ToUpper(r.Method),
		path:    path,
		host:    r.Host,
		header:  r.Header.Clone(),
		query:   cloneValues(r.URL.Query()),
		body:    cloneValues(r.PostForm),
		cookies: cookies,
		client: ClientInfo{
			IP:        ip,
			Port:      port,
			UserAgent: r.Header.Get("User-Agent"),
			Referer:   r.Header.Get("Referer"),
		},
		receivedAt: time.Now(),
	}, nil
}

// ID returns the request ID carried by the snapshot.
func (s *Snapshot) ID() string { return s.id }

// Method returns the upper-cased HTTP method.
func (s *Snapshot) Method() string { return s.method }

// Path returns the decoded URL path, never empty ("/" at minimum).
func (s *Snapshot) Path() string { return s.path }

// Host returns the host exactly as the client sent it, port included when one
// was present.
func (s *Snapshot) Host() string { return s.host }

// Hostname returns the lower-cased host with any port stripped. The admission
// gate compares allow-list entries against this form.
func (s *Snapshot) Hostname() string {
	host := s.host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// Header returns the first value of the named header, case-insensitively.
func (s *Snapshot) Header(name string) string { return s.header.Get(name) }

// HasHeader reports whether the named header was present at all.
func (s *Snapshot) HasHeader(name string) bool {
	_, ok := s.header[http.CanonicalHeaderKey(name)]
	return ok
}

// Headers returns a copy of all captured headers.
func (s *Snapshot) Headers() http.Header { return s.header.Clone() }

// QueryParam returns the first query value for name, or "".
func (s *Snapshot) QueryParam(name string) string { return s.query.Get(name) }

// BodyParam returns the first form body value for name, or "".
func (s *Snapshot) BodyParam(name string) string { return s.body.Get(name) }

// QueryParams returns a copy of all query parameters.
func (s *Snapshot) QueryParams() url.Values { return cloneValues(s.query) }

// BodyParams returns a copy of all form body parameters.
func (s *Snapshot) BodyParams() url.Values { return cloneValues(s.body) }

// ParamCount is the combined number of query and body values, counting each
// repeated key once per value. The admission gate checks it against the
// configured ceiling.
func (s *Snapshot) ParamCount() int {
	n := 0
	for _, vs := range s.query {
		n += len(vs)
	}
	for _, vs := range s.body {
		n += len(vs)
	}
	return n
}

// Cookie returns a copy of the named cookie.
func (s *Snapshot) Cookie(name string) (http.Cookie, bool) {
	for _, c := range s.cookies {
		if c.Name == name {
			return c, true
		}
	}
	return http.Cookie{}, false
}

// Cookies returns copies of all captured cookies in the order received.
func (s *Snapshot) Cookies() []http.Cookie {
	out := make([]http.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// Client returns connection and caller details.
func (s *Snapshot) Client() ClientInfo { return s.client }

// UserAgent returns the User-Agent header value.
func (s *Snapshot) UserAgent() string { return s.client.UserAgent }

// ReceivedAt returns the capture time. The value carries Go's monotonic clock
// reading, so Elapsed is safe against wall-clock adjustments.
func (s *Snapshot) ReceivedAt() time.Time { return s.receivedAt }

// Elapsed returns the time since the snapshot was captured.
func (s *Snapshot) Elapsed() time.Duration { return time.Since(s.receivedAt) }

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// splitRemoteAddr favors proxy headers so deployments behind a load balancer
// still see the caller address, falling back to the socket peer.
func splitRemoteAddr(r *http.Request) (ip, port string) {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0]), ""
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real), ""
	}
	ip, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, ""
	}
	return ip, port
}

func newRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unidentified-request"
	}
	return hex.EncodeToString(b)
}
