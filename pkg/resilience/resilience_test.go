// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	perrors "github.com/jllopis/perpetua/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	tests := []struct {
		name string
		cfg  RetryConfig
		err  error
	}{
		{"custom predicate", fastRetry().WithIsRecoverable(func(error) bool { return false }), errors.New("x")},
		{"typed non-recoverable", fastRetry(), perrors.New(perrors.CodeInvalidInput, "bad", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := tt.cfg.Do(context.Background(), func() error {
				attempts++
				return tt.err
			})
			if err == nil {
				t.Errorf("expected error")
			}
			if attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryRecoverableTypedError(t *testing.T) {
	pe := perrors.New(perrors.CodePersistence, "store down", nil).WithRecoverable(true)

	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return pe
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := cfg.Do(ctx, func() error {
		attempts++
		return errors.New("transient error")
	})

	if !perrors.HasCode(err, perrors.CodeContextLost) {
		t.Errorf("expected context lost error, got %v", err)
	}
	if attempts < 1 {
		t.Errorf("expected at least 1 attempt, got %d", attempts)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}

	cfg.Jitter = 0.1
	for i := 0; i < 20; i++ {
		d := Backoff(1, cfg)
		if d < 180*time.Millisecond || d > 220*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}

func TestCircuitBreakerClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Name: "test"})

	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed")
	}
	for i := 0; i < 5; i++ {
		if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected state to remain Closed after success")
	}
}

func TestCircuitBreakerOpen(t *testing.T) {
	var transitions []CircuitBreakerState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Name:             "store",
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func() error { return errors.New("failure") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected state Open after 2 failures")
	}

	err := cb.Call(context.Background(), func() error {
		t.Fatalf("should not execute in open state")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if pe := perrors.AsPerpetuaError(err); !pe.Recoverable {
		t.Errorf("expected circuit breaker error to be marked recoverable")
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		Name:             "test",
	})

	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	time.Sleep(80 * time.Millisecond)
	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateHalfOpen {
		t.Errorf("expected state HalfOpen after timeout")
	}

	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after successes in half-open")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Timeout: 20 * time.Millisecond})
	cb.Open()
	time.Sleep(40 * time.Millisecond)

	_ = cb.Call(context.Background(), func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Fatalf("expected a half-open failure to reopen, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Name: "test"})

	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after reset")
	}
	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("call failed after reset: %v", err)
	}
}

func TestCircuitBreakerConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	release := make(chan struct{})
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Call(context.Background(), func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	// Both calls must be inside fn at the same time.
	<-started
	<-started
	close(release)
	wg.Wait()
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", time.Second, 10 * time.Millisecond, false},
		{"slow operation", 50 * time.Millisecond, 200 * time.Millisecond, true},
		{"no timeout", 0, 20 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), tt.duration, func(ctx context.Context) error {
				select {
				case <-time.After(tt.sleepTime):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})

			if tt.expectError {
				if !perrors.HasCode(err, perrors.CodeTimeout) {
					t.Errorf("expected CodeTimeout, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLastGood(t *testing.T) {
	var lg LastGood[int]

	if _, _, err := lg.Do(func() (int, error) { return 0, errors.New("cold") }); err == nil {
		t.Fatalf("expected error with empty cache")
	}
	v, stale, err := lg.Do(func() (int, error) { return 7, nil })
	if err != nil || stale || v != 7 {
		t.Fatalf("unexpected fresh result %d %v %v", v, stale, err)
	}
	v, stale, err = lg.Do(func() (int, error) { return 0, errors.New("down") })
	if err != nil || !stale || v != 7 {
		t.Fatalf("expected stale 7, got %d %v %v", v, stale, err)
	}
}
