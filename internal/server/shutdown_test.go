package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietManager(config *ShutdownConfig) *ShutdownManager {
	if config == nil {
		config = &ShutdownConfig{}
	}
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewShutdownManager(config)
}

func TestShutdownClosesInReverseOrder(t *testing.T) {
	sm := quietManager(nil)

	var order []string
	for _, name := range []string{"pool", "redis", "workers", "server"} {
		name := name
		sm.Register(NewCustomResource(name, func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := []string{"server", "workers", "redis", "pool"}
	if len(order) != len(want) {
		t.Fatalf("closed %d resources, want %d", len(order), len(want))
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

func TestShutdownAttemptsEveryResource(t *testing.T) {
	sm := quietManager(nil)

	closed := make(map[string]bool)
	sm.Register(NewCustomResource("first", func(context.Context) error {
		closed["first"] = true
		return nil
	}))
	sm.Register(NewCustomResource("broken", func(context.Context) error {
		closed["broken"] = true
		return errors.New("close failed")
	}))
	sm.Register(NewCustomResource("last", func(context.Context) error {
		closed["last"] = true
		return nil
	}))

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected the broken resource's error to surface")
	}
	for _, name := range []string{"first", "broken", "last"} {
		if !closed[name] {
			t.Errorf("resource %s was not closed", name)
		}
	}
}

func TestWaitReturnsOnTrigger(t *testing.T) {
	sm := quietManager(&ShutdownConfig{Timeout: time.Second})

	closed := false
	sm.Register(NewCustomResource("only", func(context.Context) error {
		closed = true
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- sm.Wait() }()

	sm.Trigger()
	// Triggering twice must not panic.
	sm.Trigger()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Trigger")
	}
	if !closed {
		t.Error("resource was not closed")
	}
}

func TestWaitRunsCallbacks(t *testing.T) {
	var events []string
	sm := quietManager(&ShutdownConfig{
		Timeout:            time.Second,
		OnShutdownStart:    func() { events = append(events, "start") },
		OnShutdownComplete: func() { events = append(events, "complete") },
	})
	sm.Register(NewCustomResource("res", func(context.Context) error {
		events = append(events, "close")
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- sm.Wait() }()
	sm.Trigger()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}

	want := []string{"start", "close", "complete"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestCustomResourceHonorsContext(t *testing.T) {
	sm := quietManager(&ShutdownConfig{Timeout: 50 * time.Millisecond})

	sm.Register(NewCustomResource("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	done := make(chan error, 1)
	go func() { done <- sm.Wait() }()
	sm.Trigger()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not respect the timeout")
	}
}
