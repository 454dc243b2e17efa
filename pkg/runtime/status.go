// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/goals"
	"github.com/jllopis/perpetua/pkg/resilience"
)

// Status is a point-in-time view of an agent.
type Status struct {
	Identity             core.Identity            `json:"identity"`
	Lifecycle            Lifecycle                `json:"lifecycle"`
	SleepMode            SleepMode                `json:"sleep_mode"`
	WakeCount            int64                    `json:"wake_count"`
	TotalEventsProcessed int64                    `json:"total_events_processed"`
	LastActive           *time.Time               `json:"last_active,omitempty"`
	PrimaryAdapter       string                   `json:"primary_adapter"`
	Adapters             []string                 `json:"adapters"`
	Skills               []string                 `json:"skills"`
	ActiveGoals          []goals.Goal             `json:"active_goals"`
	CompletedGoals       []goals.Goal             `json:"completed_goals"`
	GoalsAchieved        int                      `json:"goals_achieved"`
	Subscriptions        map[string]int           `json:"subscriptions"`
	Store                *contextstore.Statistics `json:"store,omitempty"`
	StoreStale           bool                     `json:"store_stale,omitempty"`
}

// Status gathers the current state. Store statistics fall back to the last
// successful read when the backend is unreachable.
func (r *AgentRuntime) Status(ctx context.Context) Status {
	r.mu.Lock()
	s := Status{
		Identity:             r.identity.Clone(),
		Lifecycle:            r.lifecycle,
		SleepMode:            r.sleep,
		WakeCount:            r.wakeCount,
		TotalEventsProcessed: r.totalEvents,
	}
	if !r.lastActive.IsZero() {
		t := r.lastActive
		s.LastActive = &t
	}
	r.mu.Unlock()

	s.PrimaryAdapter = r.stack.PrimaryAdapter()
	s.Adapters = r.stack.Adapters()
	s.Skills = r.stack.Skills()

	snap := r.goals.Snapshot()
	s.ActiveGoals = snap.Active
	s.CompletedGoals = snap.Completed
	s.GoalsAchieved = snap.Achieved

	s.Subscriptions = make(map[string]int)
	for _, t := range r.registry.Types() {
		s.Subscriptions[t] = r.registry.Count(t)
	}

	stats, stale, err := r.stats.Do(func() (contextstore.Statistics, error) {
		return r.store.Statistics(ctx)
	})
	if err == nil {
		s.Store = &stats
		s.StoreStale = stale
	}
	return s
}

// Check implements core.HealthChecker: running is healthy, ready or stopped
// is degraded, anything else is unhealthy. An open persistence breaker
// degrades a running agent.
func (r *AgentRuntime) Check(ctx context.Context) core.HealthResult {
	result := core.HealthResult{
		Component: "agent:" + r.identity.ID,
		LastCheck: time.Now(),
	}
	lifecycle := r.Lifecycle()
	switch lifecycle {
	case Running:
		result.Status = core.HealthHealthy
		result.Message = "agent running"
		if r.breaker.State() == resilience.StateOpen {
			result.Status = core.HealthDegraded
			result.Message = "context store unavailable"
		}
	case Ready, Stopped:
		result.Status = core.HealthDegraded
		result.Message = "agent " + string(lifecycle)
	default:
		result.Status = core.HealthUnhealthy
		result.Message = "agent " + string(lifecycle)
	}
	errorMetrics.RecordHealthStatus(ctx, result.Component, result.Status.Level())
	return result
}
