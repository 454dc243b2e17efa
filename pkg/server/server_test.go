// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/perpetua/pkg/agent"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/runtime"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testServer(t *testing.T, start bool) (*Server, *agent.Fleet) {
	t.Helper()
	ctx := context.Background()
	fleet := agent.NewFleet(agent.WithFleetLogger(quiet()))
	a, err := agent.New(core.Identity{ID: "cmo-1", Name: "CMO", Role: "marketing", Purpose: "Grow revenue"},
		agent.WithRuntimeOptions(runtime.WithLogger(quiet()), runtime.WithHeartbeatInterval(time.Hour)))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if err := fleet.Add(a); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := fleet.InitializeAll(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if start {
		if err := fleet.StartAll(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	t.Cleanup(func() { _ = fleet.CloseAll(context.Background()) })
	return New(fleet, WithLogger(quiet())), fleet
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, out
}

func TestListAndGetAgents(t *testing.T) {
	s, _ := testServer(t, true)

	rec, body := do(t, s, http.MethodGet, "/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list, _ := body["agents"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one agent, got %v", body)
	}
	first := list[0].(map[string]any)
	if first["agent_id"] != "cmo-1" || first["lifecycle"] != "running" || first["primary_adapter"] != "marketing" {
		t.Fatalf("unexpected summary %v", first)
	}

	rec, body = do(t, s, http.MethodGet, "/agents/cmo-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if id, _ := body["identity"].(map[string]any); id["purpose"] != "Grow revenue" {
		t.Fatalf("unexpected status %v", body)
	}

	rec, body = do(t, s, http.MethodGet, "/agents/nobody", "")
	if rec.Code != http.StatusNotFound || body["title"] != "NOT_FOUND" {
		t.Fatalf("expected 404 problem, got %d %v", rec.Code, body)
	}
}

func TestPostEvent(t *testing.T) {
	s, fleet := testServer(t, true)

	rec, body := do(t, s, http.MethodPost, "/agents/cmo-1/events",
		`{"type":"goal.create","data":{"description":"Launch Q3 campaign"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
	if body["status"] != "success" || body["event_id"] == "" {
		t.Fatalf("unexpected result %v", body)
	}
	a, _ := fleet.Get("cmo-1")
	if len(a.Goals().Active) != 1 {
		t.Fatalf("expected goal created through the API")
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"missing type", `{"data":{}}`, http.StatusBadRequest},
		{"invalid builtin payload", `{"type":"goal.progress","data":{"progress":"lots"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, s, http.MethodPost, "/agents/cmo-1/events", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d %v", tt.want, rec.Code, body)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("unexpected content type %q", ct)
			}
		})
	}
}

func TestPostEventToStoppedAgent(t *testing.T) {
	s, _ := testServer(t, false)
	if err := s.fleet.StopAll(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec, body := do(t, s, http.MethodPost, "/agents/cmo-1/events", `{"type":"ping"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %v", rec.Code, body)
	}
}

func TestPostDecision(t *testing.T) {
	s, _ := testServer(t, true)

	rec, body := do(t, s, http.MethodPost, "/agents/cmo-1/decisions",
		`{"options":["cut prices","grow revenue through referrals"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
	if body["selected_option"] != "grow revenue through referrals" {
		t.Fatalf("unexpected decision %v", body)
	}

	_, body = do(t, s, http.MethodGet, "/agents/cmo-1/memory?limit=1", "")
	items, _ := body["memory"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["kind"] != "decision" {
		t.Fatalf("expected decision in memory, got %v", body)
	}

	rec, _ = do(t, s, http.MethodPost, "/agents/cmo-1/decisions", `{"options":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty options, got %d", rec.Code)
	}
}

func TestGetContext(t *testing.T) {
	s, _ := testServer(t, true)
	do(t, s, http.MethodPost, "/agents/cmo-1/events", `{"type":"context.update","data":{"key":"quarter","value":"Q3"}}`)

	rec, body := do(t, s, http.MethodGet, "/agents/cmo-1/context/quarter", "")
	if rec.Code != http.StatusOK || body["value"] != "Q3" {
		t.Fatalf("expected Q3, got %d %v", rec.Code, body)
	}
	rec, _ = do(t, s, http.MethodGet, "/agents/cmo-1/context/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec, body = do(t, s, http.MethodGet, "/agents/cmo-1/context", "")
	if rec.Code != http.StatusOK || body["quarter"] != "Q3" {
		t.Fatalf("expected all context, got %d %v", rec.Code, body)
	}

	_, body = do(t, s, http.MethodGet, "/agents/cmo-1/events", "")
	if records, _ := body["events"].([]any); len(records) != 1 {
		t.Fatalf("expected one stored event, got %v", body)
	}
}

func TestHealthz(t *testing.T) {
	s, fleet := testServer(t, true)
	rec, body := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != string(core.HealthHealthy) {
		t.Fatalf("expected healthy, got %d %v", rec.Code, body)
	}
	if err := fleet.CloseAll(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec, _ = do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded fleet should still answer 200, got %d", rec.Code)
	}
}

func TestMetricsWithoutExporter(t *testing.T) {
	s, _ := testServer(t, true)
	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	s = New(s.fleet, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics handler, got %d", rec.Code)
	}
}

func TestSyncHealth(t *testing.T) {
	ctx := context.Background()
	s, fleet := testServer(t, true)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("check %q: %v", service, err)
		}
		return resp.GetStatus()
	}

	s.SyncHealth(ctx)
	if got := check(ServiceName("cmo-1")); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", got)
	}
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected fleet SERVING, got %s", got)
	}

	if err := fleet.StopAll(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	s.SyncHealth(ctx)
	if got := check(ServiceName("cmo-1")); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", got)
	}
	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected fleet NOT_SERVING, got %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := testServer(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0", "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}
