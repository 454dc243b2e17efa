// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/resilience"
	"github.com/jllopis/perpetua/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// heartbeat runs until ctx is canceled. An iteration that fails or panics
// is logged and the next one is delayed with exponential backoff.
func (r *AgentRuntime) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := resilience.RetryConfig{
		InitialDelay: r.cfg.heartbeatInterval,
		MaxDelay:     r.cfg.maxBackoff,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
	r.logger.Info("runtime.loop.start",
		slog.Duration("interval", r.cfg.heartbeatInterval),
		slog.Int("hooks", len(r.cfg.hooks)),
	)

	timer := time.NewTimer(r.cfg.heartbeatInterval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runtime.loop.stop")
			return
		case <-timer.C:
		}

		metricAttrs := metric.WithAttributes(attribute.String(telemetry.AttrAgentID, r.identity.ID))
		heartbeatCounter.Add(ctx, 1, metricAttrs)

		next := r.cfg.heartbeatInterval
		if err := r.beat(ctx); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("runtime.loop.stop")
				return
			}
			failures++
			next = resilience.Backoff(failures, backoff)
			heartbeatErrorCounter.Add(ctx, 1, metricAttrs)
			errorMetrics.RecordErrorMetric(ctx, err, "heartbeat")
			r.logger.Warn("runtime.loop.iteration.error",
				slog.Int("consecutive_failures", failures),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()),
			)
		} else if failures > 0 {
			errorMetrics.RecordRecovery(ctx, errors.CodeInternal)
			r.logger.Info("runtime.loop.recovered", slog.Int("after_failures", failures))
			failures = 0
		}
		timer.Reset(next)
	}
}

// beat is a single heartbeat iteration: it runs the hooks, flags overdue
// goals and records the heartbeat time.
func (r *AgentRuntime) beat(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("heartbeat panic: %v", p), nil).
				WithRecoverable(true)
		}
	}()

	ctx, span := r.tracer.Start(ctx, "runtime.heartbeat", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentID, r.identity.ID),
		attribute.Int("perpetua.heartbeat.hooks", len(r.cfg.hooks)),
	))
	defer span.End()

	for i, hook := range r.cfg.hooks {
		hook := hook
		if err := resilience.WithTimeout(ctx, r.cfg.hookTimeout, func(ctx context.Context) error {
			return r.runHook(ctx, hook)
		}); err != nil {
			span.RecordError(err)
			return errors.AsPerpetuaError(err).WithContext("hook", i)
		}
	}

	now := time.Now().UTC()
	for _, g := range r.goals.Active() {
		if g.Deadline != nil && now.After(*g.Deadline) {
			r.logger.Warn("runtime.goal.overdue",
				slog.String("goal_id", g.ID),
				slog.Time("deadline", *g.Deadline),
				slog.Float64("progress", g.Progress),
			)
		}
	}

	_ = r.persist(ctx, "save_heartbeat", func(ctx context.Context) error {
		return r.store.SetContext(ctx, KeyHeartbeat, now.Format(time.RFC3339Nano))
	})
	return nil
}

// runHook shields the loop from hook panics; hooks run on their own
// goroutine under WithTimeout, out of reach of beat's recover.
func (r *AgentRuntime) runHook(ctx context.Context, hook HeartbeatFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("heartbeat hook panic: %v", p), nil).
				WithRecoverable(true)
		}
	}()
	return hook(ctx, r)
}

var (
	metricsOnce           sync.Once
	eventCounter          metric.Int64Counter
	handlerErrorCounter   metric.Int64Counter
	wakeCounter           metric.Int64Counter
	persistErrorCounter   metric.Int64Counter
	goalsAchievedCounter  metric.Int64Counter
	decisionCounter       metric.Int64Counter
	heartbeatCounter      metric.Int64Counter
	heartbeatErrorCounter metric.Int64Counter
	eventLatencyMs        metric.Float64Histogram
	errorMetrics          *telemetry.ErrorMetrics
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("perpetua/runtime")
		eventCounter, _ = meter.Int64Counter("perpetua.runtime.events.count")
		handlerErrorCounter, _ = meter.Int64Counter("perpetua.runtime.handler.error.count")
		wakeCounter, _ = meter.Int64Counter("perpetua.runtime.wake.count")
		persistErrorCounter, _ = meter.Int64Counter("perpetua.runtime.persist.error.count")
		goalsAchievedCounter, _ = meter.Int64Counter("perpetua.runtime.goals.achieved.count")
		decisionCounter, _ = meter.Int64Counter("perpetua.runtime.decision.count")
		heartbeatCounter, _ = meter.Int64Counter("perpetua.runtime.heartbeat.count")
		heartbeatErrorCounter, _ = meter.Int64Counter("perpetua.runtime.heartbeat.error.count")
		eventLatencyMs, _ = meter.Float64Histogram("perpetua.runtime.event.latency_ms")
		errorMetrics, _ = telemetry.NewErrorMetrics(context.Background())
	})
}
