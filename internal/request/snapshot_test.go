package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCaptureBasics(t *testing.T) {
	r := httptest.NewRequest("get", "http://shop.example.com:8443/users/42?q=1", nil)
	r.Header.Set("User-Agent", "test-agent/1.0")

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}

	if snap.Method() != "GET" {
		t.Errorf("expected method GET, got %q", snap.Method())
	}
	if snap.Path() != "/users/42" {
		t.Errorf("expected path /users/42, got %q", snap.Path())
	}
	if snap.Host() != "shop.example.com:8443" {
		t.Errorf("expected host with port, got %q", snap.Host())
	}
	if snap.Hostname() != "shop.example.com" {
		t.Errorf("expected hostname without port, got %q", snap.Hostname())
	}
	if snap.UserAgent() != "test-agent/1.0" {
		t.Errorf("expected user agent, got %q", snap.UserAgent())
	}
	if snap.ID() == "" {
		t.Error("expected a generated request ID")
	}
}

func TestCaptureUsesInboundRequestID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(RequestIDHeader, "abc123")

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}
	if snap.ID() != "abc123" {
		t.Errorf("expected inbound request ID to win, got %q", snap.ID())
	}
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Custom-Header", "value")

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}

	for _, name := range []string{"x-custom-header", "X-CUSTOM-HEADER", "X-Custom-Header"} {
		if got := snap.Header(name); got != "value" {
			t.Errorf("lookup %q: expected value, got %q", name, got)
		}
		if !snap.HasHeader(name) {
			t.Errorf("lookup %q: expected HasHeader true", name)
		}
	}
	if snap.HasHeader("X-Missing") {
		t.Error("expected HasHeader false for absent header")
	}
}

func TestParamCountCombinesQueryAndBody(t *testing.T) {
	body := strings.NewReader("c=3&d=4&d=5")
	r := httptest.NewRequest("POST", "/submit?a=1&a=2&b=x", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}

	// 3 query values + 3 body values, repeated keys counted per value.
	if got := snap.ParamCount(); got != 6 {
		t.Errorf("expected param count 6, got %d", got)
	}
	if snap.QueryParam("a") != "1" {
		t.Errorf("expected first query value, got %q", snap.QueryParam("a"))
	}
	if snap.BodyParam("d") != "4" {
		t.Errorf("expected first body value, got %q", snap.BodyParam("d"))
	}
}

func TestSnapshotIsIsolatedFromSource(t *testing.T) {
	r := httptest.NewRequest("GET", "/?a=1", nil)
	r.Header.Set("X-Thing", "before")

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}

	r.Header.Set("X-Thing", "after")
	r.URL.RawQuery = "a=changed"

	if got := snap.Header("X-Thing"); got != "before" {
		t.Errorf("snapshot header changed with source: got %q", got)
	}
	if got := snap.QueryParam("a"); got != "1" {
		t.Errorf("snapshot query changed with source: got %q", got)
	}

	// Mutating returned copies must not leak back in.
	snap.Headers().Set("X-Thing", "mutated")
	snap.QueryParams().Set("a", "mutated")
	if snap.Header("X-Thing") != "before" || snap.QueryParam("a") != "1" {
		t.Error("returned copies are not isolated from the snapshot")
	}
}

func TestCookiesAreCopied(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "s1"})
	r.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}

	c, ok := snap.Cookie("sid")
	if !ok || c.Value != "s1" {
		t.Fatalf("expected cookie sid=s1, got %+v ok=%v", c, ok)
	}
	all := snap.Cookies()
	if len(all) != 2 || all[0].Name != "sid" || all[1].Name != "theme" {
		t.Fatalf("expected cookies in received order, got %+v", all)
	}
	all[0].Value = "mutated"
	if c2, _ := snap.Cookie("sid"); c2.Value != "s1" {
		t.Error("mutating the returned slice changed the snapshot")
	}
}

func TestClientAddressFavorsForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	snap, err := Capture(r)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}
	if snap.Client().IP != "203.0.113.9" {
		t.Errorf("expected forwarded client IP, got %q", snap.Client().IP)
	}
}
