package clients

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	fsCircuitbreaker "github.com/failsafe-go/failsafe-go/circuitbreaker"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if cb.State() != StateClosed {
		t.Fatalf("expected closed on start, got %s", cb.State())
	}
}

func TestCircuitBreakerHoldsBelowFailureRatio(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "chandler",
		MinRequests:  10,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
	})

	// 4 failures in 10 requests stays under the 50% trip point.
	for i := 0; i < 4; i++ {
		_ = cb.Call(func() error { return errors.New("asset fetch failed") })
	}
	for i := 0; i < 6; i++ {
		_ = cb.Call(func() error { return nil })
	}

	if cb.State() != StateClosed {
		t.Fatalf("expected closed below trip ratio, got %s", cb.State())
	}
}

func TestCircuitBreakerTripsAtFailureRatio(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "lookout",
		MinRequests:  5,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			transitions = append(transitions, to.String())
		},
	})

	for i := 0; i < 5; i++ {
		_ = cb.Call(func() error { return errors.New("signal service down") })
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open after sustained failures, got %s", cb.State())
	}
	if len(transitions) == 0 || transitions[0] != "open" {
		t.Fatalf("expected transition callback to open, got %v", transitions)
	}
}

func TestCircuitBreakerShedsLoadWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "chandler",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      time.Second,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errors.New("asset fetch failed") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil })
	if err == nil {
		t.Fatal("expected rejection while open")
	}
	if !errors.Is(err, fsCircuitbreaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("expected callee to be skipped while open")
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "lookout",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errors.New("signal service down") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(60 * time.Millisecond)

	// The half-open probe is let through and, on success, closes the
	// circuit again.
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "lookout",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errors.New("signal service down") })
	}

	time.Sleep(60 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still down") })

	if cb.State() != StateOpen {
		t.Fatalf("expected reopen after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerName(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "chandler"})
	if cb.Name() != "chandler" {
		t.Fatalf("expected name to round-trip, got %s", cb.Name())
	}
}

func TestCircuitBreakerConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "concurrent",
		MinRequests:  1000,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
	})

	var successes int64
	done := make(chan struct{}, 100)

	for i := 0; i < 100; i++ {
		go func() {
			if err := cb.Call(func() error { return nil }); err == nil {
				atomic.AddInt64(&successes, 1)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	if successes != 100 {
		t.Fatalf("expected all concurrent calls to pass, got %d", successes)
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()

	if cfg.Name != "default" {
		t.Errorf("unexpected name %s", cfg.Name)
	}
	if cfg.MaxRequests != 1 {
		t.Errorf("unexpected MaxRequests %d", cfg.MaxRequests)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("unexpected Timeout %v", cfg.Timeout)
	}
	if cfg.FailureRatio != 0.5 {
		t.Errorf("unexpected FailureRatio %v", cfg.FailureRatio)
	}
	if cfg.MinRequests != 10 {
		t.Errorf("unexpected MinRequests %d", cfg.MinRequests)
	}
}
