// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/goals"
	"github.com/jllopis/perpetua/pkg/purpose"
)

func TestGrowRevenueAgent(t *testing.T) {
	ctx := context.Background()
	rt := initializedRuntime(t)
	_ = rt.AddLayer("generic", nil, []string{"planning"})
	_ = rt.AddLayer("leadership", nil, []string{"strategy"})
	_ = rt.AddLayer("marketing", map[string]any{"channel": "b2b"}, []string{"campaigns"})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	var seen []string
	_, _ = rt.Subscribe("revenue.opportunity", func(_ context.Context, ev core.Event) (any, error) {
		seen = append(seen, ev.ID)
		return map[string]any{"ack": true}, nil
	})

	res, err := rt.HandleEvent(ctx, core.NewEvent("revenue.opportunity", map[string]any{
		"summary": "expand revenue with enterprise deals",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(seen) != 1 || len(res.HandlerResults) != 1 {
		t.Fatalf("handler not invoked once: %v %+v", seen, res.HandlerResults)
	}
	a := res.PurposeAlignment
	if !a.Aligned || a.Score < 0.5 || a.Score > 1 || !strings.Contains(a.Reasoning, "revenue") {
		t.Fatalf("expected aligned result, got %+v", a)
	}

	d, err := rt.Decide(ctx, []string{"reorganize office furniture", "grow revenue through partnerships"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.SelectedOption != "grow revenue through partnerships" || d.ID == "" {
		t.Fatalf("unexpected decision %+v", d)
	}
	mem, err := rt.Store().GetMemory(ctx, 0)
	if err != nil || len(mem) != 1 || mem[0].Kind != "decision" {
		t.Fatalf("decision not recorded in memory: %+v (%v)", mem, err)
	}

	if rt.Capabilities().PrimaryAdapter() != "marketing" {
		t.Fatalf("unexpected primary adapter %q", rt.Capabilities().PrimaryAdapter())
	}
}

func TestStaticScorerAlwaysAligned(t *testing.T) {
	rt := initializedRuntime(t, WithScorer(purpose.NewStaticScorer()))
	res, err := rt.HandleEvent(context.Background(), core.NewEvent("anything", nil))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.PurposeAlignment.Score != 0.85 || !res.PurposeAlignment.Aligned {
		t.Fatalf("unexpected alignment %+v", res.PurposeAlignment)
	}
}

func TestBuiltinGoalEvents(t *testing.T) {
	ctx := context.Background()
	rt := initializedRuntime(t)

	res, err := rt.HandleEvent(ctx, core.NewEvent("goal.create", map[string]any{
		"description":      "close 10 deals",
		"success_criteria": []any{"10 signed contracts"},
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created, ok := res.HandlerResults[0].Value.(map[string]any)
	if !ok || created["goal_id"] != "goal_1" {
		t.Fatalf("unexpected create outcome %+v", res.HandlerResults)
	}

	steps := []struct {
		progress    float64
		wantUpdated bool
	}{
		{0.5, true},
		{1.0, true},
		{1.2, false},
	}
	for _, s := range steps {
		res, err := rt.HandleEvent(ctx, core.NewEvent("goal.progress", map[string]any{
			"goal_id": "goal_1", "progress": s.progress, "note": "update",
		}))
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		out := res.HandlerResults[0].Value.(map[string]any)
		if out["updated"] != s.wantUpdated {
			t.Fatalf("progress %.1f: expected updated=%v, got %+v", s.progress, s.wantUpdated, out)
		}
	}

	snap := rt.Goals()
	if snap.Achieved != 1 || len(snap.Completed) != 1 || snap.Completed[0].Status != goals.StatusCompleted {
		t.Fatalf("goal not completed exactly once: %+v", snap)
	}

	res, _ = rt.HandleEvent(ctx, core.NewEvent("goal.progress", map[string]any{"goal_id": "goal_9", "progress": 0.1}))
	if out := res.HandlerResults[0].Value.(map[string]any); out["updated"] != false {
		t.Fatalf("unknown goal should not update: %+v", out)
	}

	res, _ = rt.HandleEvent(ctx, core.NewEvent("goal.progress", map[string]any{"progress": 0.1}))
	if !res.HandlerResults[0].Failed() {
		t.Fatalf("payload without goal_id should fail schema validation")
	}
}

func TestBuiltinContextAndMemoryEvents(t *testing.T) {
	ctx := context.Background()
	rt := initializedRuntime(t)

	if _, err := rt.HandleEvent(ctx, core.NewEvent("context.update", map[string]any{
		"key": "quarter", "value": "Q3",
		"updates": map[string]any{"budget": 5000},
	})); err != nil {
		t.Fatalf("context update: %v", err)
	}
	if v, _ := rt.Store().GetContext(ctx, "quarter", nil); v != "Q3" {
		t.Fatalf("expected Q3, got %v", v)
	}
	if v, _ := rt.Store().GetContext(ctx, "budget", nil); v != 5000 {
		t.Fatalf("expected budget 5000, got %#v", v)
	}

	res, err := rt.HandleEvent(ctx, core.NewEvent("memory.add", map[string]any{
		"content": "customer prefers annual billing", "kind": "insight",
	}))
	if err != nil || res.HandlerResults[0].Failed() {
		t.Fatalf("memory add failed: %+v (%v)", res, err)
	}
	mem, _ := rt.Store().GetMemory(ctx, 0)
	if len(mem) != 1 || mem[0].Kind != "insight" {
		t.Fatalf("unexpected memory %+v", mem)
	}
}
