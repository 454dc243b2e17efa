// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/runtime"
)

func testFleet(t *testing.T) *Fleet {
	t.Helper()
	m, err := ParseManifest([]byte(manifestYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stores := func(id string) (contextstore.Store, error) {
		return contextstore.Open(contextstore.Config{Backend: "memory"}, id)
	}
	f, err := FromManifest(m, stores, []runtime.Option{quiet(), runtime.WithHeartbeatInterval(time.Hour)})
	if err != nil {
		t.Fatalf("from manifest: %v", err)
	}
	return f
}

func TestFleetLifecycle(t *testing.T) {
	ctx := context.Background()
	f := testFleet(t)
	if f.Len() != 2 {
		t.Fatalf("expected 2 agents, got %d", f.Len())
	}
	if ids := []string{f.List()[0].ID(), f.List()[1].ID()}; ids[0] != "cmo-1" || ids[1] != "ops-1" {
		t.Fatalf("list not sorted: %v", ids)
	}

	if err := f.InitializeAll(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := f.StartAll(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, a := range f.List() {
		if a.Lifecycle() != runtime.Running {
			t.Fatalf("agent %s not running: %s", a.ID(), a.Lifecycle())
		}
	}

	cmo, ok := f.Get("cmo-1")
	if !ok || len(cmo.Goals().Active) != 1 {
		t.Fatalf("expected cmo with seeded goal")
	}
	if _, err := cmo.HandleEvent(ctx, core.NewEvent("ping", nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	ops, _ := f.Get("ops-1")
	if ops.WakeCount() != 0 {
		t.Fatalf("agents share state: ops woke %d times", ops.WakeCount())
	}

	results, overall := f.Health().CheckAll(ctx)
	if overall != core.HealthHealthy || len(results) != 4 {
		t.Fatalf("expected 4 healthy checks, got %s %+v", overall, results)
	}

	if err := f.CloseAll(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, overall := f.Health().CheckAll(ctx); overall == core.HealthHealthy {
		t.Fatalf("stopped fleet should not report healthy")
	}
}

func TestFleetRejectsDuplicates(t *testing.T) {
	f := testFleet(t)
	dup, err := New(identity("cmo-1", "marketing"), WithRuntimeOptions(quiet()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := f.Add(dup); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if !f.Remove("cmo-1") || f.Remove("cmo-1") {
		t.Fatalf("remove should succeed once")
	}
	if _, err := f.Health().Check(context.Background(), "agent:cmo-1"); err == nil {
		t.Fatalf("health check should be unregistered")
	}
}

type brokenStore struct{ *contextstore.InMemory }

func (brokenStore) Initialize(context.Context) error {
	return errors.New(errors.CodePersistence, "down", nil).WithRecoverable(false)
}

func TestFleetInitializeReportsFailureWithoutBlockingOthers(t *testing.T) {
	ctx := context.Background()
	f := NewFleet()
	good, _ := New(identity("good", "sales"), WithRuntimeOptions(quiet()))
	bad, _ := New(identity("bad", "sales"), WithRuntimeOptions(quiet(), runtime.WithStore(brokenStore{contextstore.NewInMemory()})))
	_ = f.Add(good)
	_ = f.Add(bad)

	if err := f.InitializeAll(ctx); !errors.HasCode(err, errors.CodeInitialization) {
		t.Fatalf("expected initialization error, got %v", err)
	}
	if good.Lifecycle() != runtime.Ready {
		t.Fatalf("healthy agent should still initialize, got %s", good.Lifecycle())
	}
	if bad.Lifecycle() != runtime.Uninitialized {
		t.Fatalf("failed agent should roll back, got %s", bad.Lifecycle())
	}
}

func TestStoreHealthChecker(t *testing.T) {
	ctx := context.Background()
	store := contextstore.NewInMemory()
	h := NewStoreHealthChecker("a", store)
	if got := h.Check(ctx).Status; got != core.HealthUnhealthy {
		t.Fatalf("closed store should be unhealthy, got %s", got)
	}
	_ = store.Initialize(ctx)
	if got := h.Check(ctx).Status; got != core.HealthUnhealthy {
		t.Fatalf("expected cached result, got %s", got)
	}
	h.minInterval = 0
	if got := h.Check(ctx).Status; got != core.HealthHealthy {
		t.Fatalf("expected healthy after initialize, got %s", got)
	}
}
