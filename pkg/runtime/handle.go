// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/events"
	"github.com/jllopis/perpetua/pkg/goals"
	"github.com/jllopis/perpetua/pkg/purpose"
	"github.com/jllopis/perpetua/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HandleEvent wakes the agent, dispatches event to every subscribed handler
// in registration order and scores the event against the agent purpose in
// parallel, bounded by the score timeout. Handler errors and panics are
// reported in HandlerResults at the handler's position. Persistence failures
// are logged and do not fail the call. An error is returned only when the agent is not accepting events.
func (r *AgentRuntime) HandleEvent(ctx context.Context, event core.Event) (Result, error) {
	event = event.Normalize()
	if err := r.enter(); err != nil {
		return Result{}, err
	}
	defer r.leave()

	start := time.Now()
	ctx = core.WithAgentID(core.WithEventID(ctx, event.ID), r.identity.ID)
	subs := r.registry.Subscriptions(event.Type)
	kind := events.KindOf(event.Type)

	attrs := append(telemetry.AgentAttributes(r.identity.ID, r.identity.Role, r.stack.PrimaryAdapter()),
		telemetry.EventAttributes(event.ID, event.Type, string(kind), len(subs))...)
	ctx, span := r.tracer.Start(ctx, "runtime.event.handle", trace.WithAttributes(attrs...))
	defer span.End()

	scoreCtx, cancelScore := context.WithTimeout(ctx, r.cfg.scoreTimeout)
	defer cancelScore()
	alignment := make(chan purpose.Alignment, 1)
	go func() {
		alignment <- r.evaluator.Evaluate(scoreCtx, event.Describe())
	}()

	wake := r.touch()
	wakeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(telemetry.AttrAgentID, r.identity.ID)))

	outcomes := make([]events.Outcome, 0, len(subs))
	failures := 0
	for i, sub := range subs {
		out := r.invoke(ctx, i, sub, event)
		if out.Failed() {
			failures++
		}
		outcomes = append(outcomes, out)
	}

	r.processed()
	r.persistEvent(ctx, event)

	var a purpose.Alignment
	select {
	case a = <-alignment:
	case <-scoreCtx.Done():
		a = purpose.Alignment{
			Action:    event.Describe(),
			Reasoning: fmt.Sprintf("alignment scoring aborted: %v", scoreCtx.Err()),
			Timestamp: time.Now().UTC(),
		}
		r.logger.WarnContext(ctx, "runtime.alignment.timeout",
			slog.String("event_id", event.ID),
			slog.Duration("timeout", r.cfg.scoreTimeout),
		)
	}
	span.SetAttributes(telemetry.AlignmentAttributes(a.Score, a.Aligned)...)
	span.SetAttributes(
		attribute.Int(telemetry.AttrEventFailures, failures),
		attribute.Int64(telemetry.AttrAgentWakeCount, wake),
	)

	durationMs := float64(time.Since(start).Seconds() * 1000)
	metricAttrs := metric.WithAttributes(
		attribute.String(telemetry.AttrAgentID, r.identity.ID),
		attribute.String(telemetry.AttrEventKind, string(kind)),
	)
	eventCounter.Add(ctx, 1, metricAttrs)
	eventLatencyMs.Record(ctx, durationMs, metricAttrs)

	r.logger.InfoContext(ctx, "runtime.event.handled",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.Int("handlers", len(subs)),
		slog.Int("failures", failures),
		slog.Float64("alignment_score", a.Score),
		slog.Bool("aligned", a.Aligned),
		slog.Float64("duration_ms", durationMs),
	)

	return Result{
		Status:           "success",
		EventID:          event.ID,
		HandlerResults:   outcomes,
		PurposeAlignment: a,
	}, nil
}

func (r *AgentRuntime) invoke(ctx context.Context, index int, sub events.Subscription, event core.Event) events.Outcome {
	ctx, span := r.tracer.Start(ctx, "runtime.handler.invoke", trace.WithAttributes(
		attribute.Int(telemetry.AttrHandlerIndex, index),
		attribute.String("perpetua.handler.subscription", sub.ID),
	))
	defer span.End()

	out := events.Invoke(ctx, sub.Handler, event)
	span.SetAttributes(telemetry.HandlerAttributes(index, !out.Failed())...)
	if !out.Failed() {
		return out
	}

	err := errors.New(errors.CodeHandlerFailure, out.Err, nil).
		WithAttribute("event_type", event.Type).
		WithAttribute("subscription_id", sub.ID)
	span.RecordError(err)
	span.SetStatus(codes.Error, out.Err)
	handlerErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(telemetry.AttrAgentID, r.identity.ID),
		attribute.String(telemetry.AttrEventType, event.Type),
	))
	errorMetrics.RecordErrorMetric(ctx, err, "handler")
	r.logger.WarnContext(ctx, "runtime.handler.error",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.Int("index", index),
		slog.String("error", out.Err),
	)
	return out
}

// Decide selects the option best aligned with the agent purpose and records
// the decision in the memory log.
func (r *AgentRuntime) Decide(ctx context.Context, options []string) (purpose.Decision, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.decide", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentID, r.identity.ID),
		attribute.Int("perpetua.decision.options", len(options)),
	))
	defer span.End()

	d, err := r.evaluator.Decide(ctx, options)
	if err != nil {
		span.RecordError(err)
		return purpose.Decision{}, err
	}
	span.SetAttributes(attribute.Float64(telemetry.AttrAlignmentScore, d.Score))
	decisionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(telemetry.AttrAgentID, r.identity.ID)))

	_ = r.persist(ctx, "add_memory", func(ctx context.Context) error {
		return r.store.AddMemory(ctx, contextstore.MemoryItem{
			Content: fmt.Sprintf("decision: %s", d.SelectedOption),
			Kind:    "decision",
			Metadata: map[string]any{
				"decision_id":     d.ID,
				"options":         append([]string(nil), options...),
				"alignment_score": d.Score,
				"reasoning":       d.Reasoning,
			},
			Timestamp: d.Timestamp,
		})
	})
	r.logger.InfoContext(ctx, "runtime.decision",
		slog.String("decision_id", d.ID),
		slog.String("selected", d.SelectedOption),
		slog.Float64("alignment_score", d.Score),
	)
	return d, nil
}

// AddGoal tracks a new goal and persists the goal set.
func (r *AgentRuntime) AddGoal(ctx context.Context, description string, successCriteria []string, deadline *time.Time) string {
	id := r.goals.Add(description, successCriteria, deadline)
	r.logger.InfoContext(ctx, "runtime.goal.added", slog.String("goal_id", id))
	r.persistGoals(ctx)
	return id
}

// UpdateGoalProgress records progress on an active goal. It returns false for
// unknown or already completed goals.
func (r *AgentRuntime) UpdateGoalProgress(ctx context.Context, id string, progress float64, note string) bool {
	if !r.goals.UpdateProgress(id, progress, note) {
		return false
	}
	r.persistGoals(ctx)
	return true
}

// Goal returns a copy of the goal with the given id.
func (r *AgentRuntime) Goal(id string) (goals.Goal, bool) { return r.goals.Get(id) }

// Goals returns a snapshot of active and completed goals.
func (r *AgentRuntime) Goals() goals.Snapshot { return r.goals.Snapshot() }

func (r *AgentRuntime) goalCompleted(g goals.Goal) {
	goalsAchievedCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(telemetry.AttrAgentID, r.identity.ID),
	))
	r.logger.Info("runtime.goal.completed",
		slog.String("goal_id", g.ID),
		slog.String("description", g.Description),
	)
}

// registerListeners subscribes the handlers for the built-in event kinds.
func (r *AgentRuntime) registerListeners() {
	r.mu.Lock()
	if r.listenersRegistered {
		r.mu.Unlock()
		return
	}
	r.listenersRegistered = true
	r.mu.Unlock()

	_, _ = r.registry.Subscribe(string(events.KindGoalCreate), r.onGoalCreate)
	_, _ = r.registry.Subscribe(string(events.KindGoalProgress), r.onGoalProgress)
	_, _ = r.registry.Subscribe(string(events.KindContextUpdate), r.onContextUpdate)
	_, _ = r.registry.Subscribe(string(events.KindMemoryAdd), r.onMemoryAdd)
}

func (r *AgentRuntime) onGoalCreate(ctx context.Context, event core.Event) (any, error) {
	var p events.GoalCreate
	if err := events.Decode(event, &p); err != nil {
		return nil, err
	}
	id := r.AddGoal(ctx, p.Description, p.SuccessCriteria, p.Deadline)
	return map[string]any{"goal_id": id}, nil
}

func (r *AgentRuntime) onGoalProgress(ctx context.Context, event core.Event) (any, error) {
	var p events.GoalProgress
	if err := events.Decode(event, &p); err != nil {
		return nil, err
	}
	updated := r.UpdateGoalProgress(ctx, p.GoalID, p.Progress, p.Note)
	out := map[string]any{"goal_id": p.GoalID, "updated": updated}
	if g, ok := r.goals.Get(p.GoalID); ok {
		out["status"] = string(g.Status)
		out["progress"] = g.Progress
	}
	return out, nil
}

func (r *AgentRuntime) onContextUpdate(ctx context.Context, event core.Event) (any, error) {
	var p events.ContextUpdate
	if err := events.Decode(event, &p); err != nil {
		return nil, err
	}
	entries := p.Entries()
	if err := r.persist(ctx, "update_context", func(ctx context.Context) error {
		return r.store.UpdateContext(ctx, entries)
	}); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]any{"updated": keys}, nil
}

func (r *AgentRuntime) onMemoryAdd(ctx context.Context, event core.Event) (any, error) {
	var p events.MemoryAdd
	if err := events.Decode(event, &p); err != nil {
		return nil, err
	}
	item := contextstore.MemoryItem{Content: p.Content, Kind: p.Kind, Metadata: p.Metadata}
	if err := r.persist(ctx, "add_memory", func(ctx context.Context) error {
		return r.store.AddMemory(ctx, item)
	}); err != nil {
		return nil, err
	}
	return map[string]any{"stored": true}, nil
}
