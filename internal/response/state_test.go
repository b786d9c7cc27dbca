package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Defaults{
		ContentType: "text/html; charset=utf-8",
		Headers:     map[string]string{"X-Frame-Options": "DENY"},
	})

	if s.Status() != http.StatusOK {
		t.Errorf("expected default status 200, got %d", s.Status())
	}
	if got := s.Header("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("expected default content type, got %q", got)
	}
	if got := s.Header("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected default header, got %q", got)
	}
}

func TestSetStatusValidation(t *testing.T) {
	s := New(Defaults{})
	if err := s.SetStatus(404); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status() != 404 {
		t.Errorf("expected 404, got %d", s.Status())
	}
	if err := s.SetStatus(42); err == nil {
		t.Error("expected error for out-of-range status")
	}
}

func TestIsRedirect(t *testing.T) {
	s := New(Defaults{})
	for code, want := range map[int]bool{200: false, 299: false, 300: true, 302: true, 399: true, 400: false} {
		if err := s.SetStatus(code); err != nil {
			t.Fatalf("SetStatus(%d): %v", code, err)
		}
		if got := s.IsRedirect(); got != want {
			t.Errorf("IsRedirect for %d: expected %v, got %v", code, want, got)
		}
	}
}

func TestFinalizeEmitsHeadersCookiesBody(t *testing.T) {
	s := New(Defaults{ContentType: "text/plain"})
	if err := s.SetHeader("X-One", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCookie(&http.Cookie{Name: "first", Value: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCookie(&http.Cookie{Name: "second", Value: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.setBody([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	if err := s.Finalize(rec); err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}

	if rec.Code != 200 {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-One"); got != "1" {
		t.Errorf("expected header emitted, got %q", got)
	}
	setCookies := rec.Header().Values("Set-Cookie")
	if len(setCookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(setCookies))
	}
	if setCookies[0] != "first=a" || setCookies[1] != "second=b" {
		t.Errorf("expected cookies in added order, got %v", setCookies)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("expected body hello, got %q", rec.Body.String())
	}
}

func TestFinalizeTwiceReturnsAlreadySent(t *testing.T) {
	s := New(Defaults{})
	if err := s.setBody([]byte("once")); err != nil {
		t.Fatal(err)
	}

	first := httptest.NewRecorder()
	if err := s.Finalize(first); err != nil {
		t.Fatalf("first finalize failed: %v", err)
	}

	second := httptest.NewRecorder()
	err := s.Finalize(second)
	if !errors.Is(err, ErrAlreadySent) {
		t.Fatalf("expected ErrAlreadySent, got %v", err)
	}
	if second.Body.Len() != 0 {
		t.Error("second finalize emitted a body")
	}
	if len(second.Header()) != 0 {
		t.Errorf("second finalize emitted headers: %v", second.Header())
	}
}

func TestMutationAfterSent(t *testing.T) {
	s := New(Defaults{})
	if err := s.Finalize(httptest.NewRecorder()); err != nil {
		t.Fatal(err)
	}

	if err := s.SetStatus(500); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("SetStatus after send: expected ErrAlreadySent, got %v", err)
	}
	if err := s.SetHeader("X", "y"); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("SetHeader after send: expected ErrAlreadySent, got %v", err)
	}
	if err := s.AddCookie(&http.Cookie{Name: "n"}); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("AddCookie after send: expected ErrAlreadySent, got %v", err)
	}
	if err := s.setBody([]byte("x")); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("setBody after send: expected ErrAlreadySent, got %v", err)
	}
}
