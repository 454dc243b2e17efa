// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/events"
	"github.com/jllopis/perpetua/pkg/goals"
	"github.com/jllopis/perpetua/pkg/resilience"
	"github.com/jllopis/perpetua/pkg/telemetry"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// persist runs a store operation through the circuit breaker. Failures are
// logged and counted, then returned for callers that care.
func (r *AgentRuntime) persist(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := r.breaker.Call(ctx, func() error { return fn(ctx) })
	if err == nil {
		return nil
	}
	persistErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(telemetry.AttrAgentID, r.identity.ID),
		attribute.String(telemetry.AttrStoreOperation, op),
	))
	errorMetrics.RecordErrorMetric(ctx, err, "store")
	r.logger.WarnContext(ctx, "runtime.persist.error",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return err
}

// persistEvent stores counters and the event record after an event.
func (r *AgentRuntime) persistEvent(ctx context.Context, event core.Event) {
	r.persistCounters(ctx)
	_ = r.persist(ctx, "store_event", func(ctx context.Context) error {
		return r.store.StoreEvent(ctx, contextstore.EventRecord{
			EventID:   event.ID,
			Type:      event.Type,
			Data:      event.Data,
			Timestamp: event.Timestamp,
		})
	})
}

func (r *AgentRuntime) persistCounters(ctx context.Context) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	_ = r.persist(ctx, "save_counters", func(ctx context.Context) error {
		return r.store.UpdateContext(ctx, r.counterValues())
	})
}

func (r *AgentRuntime) persistGoals(ctx context.Context) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	_ = r.persist(ctx, "save_goals", func(ctx context.Context) error {
		v, err := snapshotValue(r.goals.Snapshot())
		if err != nil {
			return err
		}
		return r.store.SetContext(ctx, KeyGoals, v)
	})
}

// persistSnapshot writes counters and goals in one update.
func (r *AgentRuntime) persistSnapshot(ctx context.Context) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	_ = r.persist(ctx, "save_snapshot", func(ctx context.Context) error {
		values := r.counterValues()
		v, err := snapshotValue(r.goals.Snapshot())
		if err != nil {
			return err
		}
		values[KeyGoals] = v
		return r.store.UpdateContext(ctx, values)
	})
}

func (r *AgentRuntime) counterValues() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := map[string]any{
		KeyWakeCount:   r.wakeCount,
		KeyTotalEvents: r.totalEvents,
	}
	if !r.lastActive.IsZero() {
		values[KeyLastActive] = r.lastActive.Format(time.RFC3339Nano)
	}
	return values
}

// restore loads goals and counters written by a previous run. Durable
// backends hand values back as decoded JSON, so numbers arrive as float64
// and goals as nested maps.
func (r *AgentRuntime) restore(ctx context.Context) error {
	all, err := r.store.GetAllContext(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.wakeCount = cast.ToInt64(all[KeyWakeCount])
	r.totalEvents = cast.ToInt64(all[KeyTotalEvents])
	if s := cast.ToString(all[KeyLastActive]); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			r.lastActive = t
		}
	}
	r.mu.Unlock()

	raw, ok := all[KeyGoals]
	if !ok || raw == nil {
		return nil
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return errors.New(errors.CodePersistence, "persisted goals have unexpected shape", err)
	}
	var snap goals.Snapshot
	if err := events.DecodeMap(m, &snap); err != nil {
		return errors.New(errors.CodePersistence, "decoding persisted goals", err)
	}
	r.goals.Restore(snap)
	return nil
}

// snapshotValue turns a goal snapshot into the plain map form every backend
// stores identically.
func snapshotValue(s goals.Snapshot) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, errors.New(errors.CodePersistence, "encoding goals", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.New(errors.CodePersistence, "encoding goals", err)
	}
	return out, nil
}

func identityValue(id core.Identity) map[string]any {
	return map[string]any{
		"agent_id":         id.ID,
		"name":             id.Name,
		"role":             id.Role,
		"purpose":          id.Purpose,
		"purpose_scope":    id.PurposeScope,
		"success_criteria": append([]string(nil), id.SuccessCriteria...),
	}
}

func (r *AgentRuntime) breakerChanged(name string, from, to resilience.CircuitBreakerState) {
	ctx := context.Background()
	errorMetrics.RecordCircuitBreakerState(ctx, name, to)
	r.logger.Warn("runtime.persist.breaker",
		slog.String("breaker", name),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}
