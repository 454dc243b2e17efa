// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/purpose"
	"github.com/jllopis/perpetua/pkg/resilience"
)

func TestHandleEventScorerFailures(t *testing.T) {
	tests := []struct {
		name   string
		scorer purpose.ScorerFunc
		reason string
	}{
		{
			name: "panicking scorer",
			scorer: func(context.Context, core.Identity, string) (float64, string, error) {
				panic("scorer exploded")
			},
			reason: "scorer exploded",
		},
		{
			name: "scorer ignoring cancellation",
			scorer: func(context.Context, core.Identity, string) (float64, string, error) {
				time.Sleep(time.Second)
				return 1, "late", nil
			},
			reason: "aborted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := initializedRuntime(t, WithScorer(tt.scorer), WithScoreTimeout(50*time.Millisecond))
			called := false
			_, _ = rt.Subscribe("x", func(context.Context, core.Event) (any, error) {
				called = true
				return "ok", nil
			})

			start := time.Now()
			res, err := rt.HandleEvent(context.Background(), core.NewEvent("x", nil))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if time.Since(start) > 500*time.Millisecond {
				t.Fatalf("HandleEvent waited %s for the scorer", time.Since(start))
			}
			if res.Status != "success" || !called || len(res.HandlerResults) != 1 {
				t.Fatalf("unexpected result %+v", res)
			}
			a := res.PurposeAlignment
			if a.Aligned || a.Score != 0 || !strings.Contains(a.Reasoning, tt.reason) {
				t.Fatalf("expected unaligned result mentioning %q, got %+v", tt.reason, a)
			}
			if rt.TotalEventsProcessed() != 1 {
				t.Fatalf("expected event to be counted")
			}
		})
	}
}

// brokenWrites accepts initialization and reads but rejects every log and
// counter write.
type brokenWrites struct {
	*contextstore.InMemory
}

func (b *brokenWrites) UpdateContext(context.Context, map[string]any) error {
	return errors.New(errors.CodePersistence, "disk full", nil)
}

func (b *brokenWrites) StoreEvent(context.Context, contextstore.EventRecord) error {
	return errors.New(errors.CodePersistence, "disk full", nil)
}

func TestHandleEventSurvivesPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	rt := initializedRuntime(t,
		WithStore(&brokenWrites{InMemory: contextstore.NewInMemory()}),
		WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour}),
	)

	res, err := rt.HandleEvent(ctx, core.NewEvent("ping", nil))
	if err != nil || res.Status != "success" {
		t.Fatalf("expected success despite persistence failure, got %+v %v", res, err)
	}
	if rt.WakeCount() != 1 || rt.TotalEventsProcessed() != 1 {
		t.Fatalf("counters did not advance: wake=%d total=%d", rt.WakeCount(), rt.TotalEventsProcessed())
	}
	if rt.breaker.State() != resilience.StateOpen {
		t.Fatalf("expected breaker open after two failed writes, got %s", rt.breaker.State())
	}

	res, err = rt.HandleEvent(ctx, core.NewEvent("ping", nil))
	if err != nil || res.Status != "success" {
		t.Fatalf("expected success with open breaker, got %+v %v", res, err)
	}
	if rt.WakeCount() != 2 || rt.TotalEventsProcessed() != 2 {
		t.Fatalf("counters did not advance: wake=%d total=%d", rt.WakeCount(), rt.TotalEventsProcessed())
	}
}
