// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"testing"

	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/resilience"
)

func TestNewErrorMetrics(t *testing.T) {
	em, err := NewErrorMetrics(context.Background())
	if err != nil {
		t.Fatalf("failed to create error metrics: %v", err)
	}
	if em == nil {
		t.Fatal("expected non-nil ErrorMetrics")
	}
}

func TestRecordErrorMetric(t *testing.T) {
	em, _ := NewErrorMetrics(context.Background())
	ctx := context.Background()

	pe := errors.New(errors.CodePersistence, "store down", nil)
	em.RecordErrorMetric(ctx, pe, "contextstore")
	em.RecordErrorMetric(ctx, fmt.Errorf("wrapped: %w", pe), "runtime")
	em.RecordErrorMetric(ctx, fmt.Errorf("plain"), "runtime")

	// Should not panic with nil error or metrics
	em.RecordErrorMetric(ctx, nil, "service")

	var nilMetrics *ErrorMetrics
	nilMetrics.RecordErrorMetric(ctx, pe, "service")
	nilMetrics.RecordRecovery(ctx, errors.CodePersistence)
	nilMetrics.RecordHealthStatus(ctx, "agent", 2)
	nilMetrics.RecordCircuitBreakerState(ctx, "store", resilience.StateOpen)
}

func TestRecordGauges(t *testing.T) {
	em, _ := NewErrorMetrics(context.Background())
	ctx := context.Background()

	em.RecordRecovery(ctx, errors.CodeInitialization)
	em.RecordHealthStatus(ctx, "agent-1", 1)
	em.RecordCircuitBreakerState(ctx, "agent-1/store", resilience.StateHalfOpen)
}

func TestCircuitBreakerLevel(t *testing.T) {
	tests := []struct {
		state resilience.CircuitBreakerState
		level int64
	}{
		{resilience.StateClosed, 2},
		{resilience.StateHalfOpen, 1},
		{resilience.StateOpen, 0},
	}
	for _, tt := range tests {
		if got := CircuitBreakerLevel(tt.state); got != tt.level {
			t.Errorf("%s: expected %d, got %d", tt.state, tt.level, got)
		}
	}
}
