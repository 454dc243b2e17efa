// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/resilience"
)

// ErrorMetrics tracks typed errors, recoveries, component health and circuit
// breaker state.
type ErrorMetrics struct {
	errorCounter             metric.Int64Counter
	recoveryCounter          metric.Int64Counter
	healthStatusGauge        metric.Int64Gauge
	circuitBreakerStateGauge metric.Int64Gauge
}

// NewErrorMetrics creates the instruments on the global meter provider.
func NewErrorMetrics(ctx context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("perpetua/errors")

	errorCounter, err := meter.Int64Counter(
		"perpetua.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"perpetua.errors.recovered",
		metric.WithDescription("Successful error recoveries by code"),
	)
	if err != nil {
		return nil, err
	}

	healthStatusGauge, err := meter.Int64Gauge(
		"perpetua.health.status",
		metric.WithDescription("Component health status (0=unhealthy, 1=degraded, 2=healthy)"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerStateGauge, err := meter.Int64Gauge(
		"perpetua.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:             errorCounter,
		recoveryCounter:          recoveryCounter,
		healthStatusGauge:        healthStatusGauge,
		circuitBreakerStateGauge: circuitBreakerStateGauge,
	}, nil
}

// RecordErrorMetric increments the error counter for the error's code and component.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	code, recoverable := "UNKNOWN", "unknown"
	var pe *errors.PerpetuaError
	if stderrors.As(err, &pe) {
		code, recoverable = string(pe.Code), pe.RecoverableString()
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

// RecordRecovery increments the recovery counter, e.g. when a retry succeeds.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, errorCode errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error.code", string(errorCode))),
	)
}

// RecordHealthStatus records the health level of a component (0=unhealthy, 1=degraded, 2=healthy).
func (em *ErrorMetrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if em == nil {
		return
	}
	em.healthStatusGauge.Record(ctx, status,
		metric.WithAttributes(attribute.String("component", component)),
	)
}

// RecordCircuitBreakerState records a breaker state for a component.
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state resilience.CircuitBreakerState) {
	if em == nil {
		return
	}
	em.circuitBreakerStateGauge.Record(ctx, CircuitBreakerLevel(state),
		metric.WithAttributes(attribute.String("component", component)),
	)
}

// CircuitBreakerLevel maps a breaker state to 0=open, 1=half-open, 2=closed.
func CircuitBreakerLevel(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateClosed:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
