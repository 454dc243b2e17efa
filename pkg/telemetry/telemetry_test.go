// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitWithConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"otlp without endpoint", Config{Exporter: ExporterOTLP}},
		{"unknown exporter", Config{Exporter: "zipkin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := InitWithConfig("svc", "v0", tt.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestInitNone(t *testing.T) {
	p, err := InitWithConfig("svc", "v0", Config{Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.MetricsHandler != nil {
		t.Fatalf("none exporter should not expose metrics")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitPrometheusServesMetrics(t *testing.T) {
	p, err := InitWithConfig("svc", "v0", Config{Exporter: ExporterPrometheus})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Shutdown(context.Background())

	counter, err := otel.Meter("perpetua/test").Int64Counter("perpetua.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	p.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "perpetua_test_events") {
		t.Fatalf("metric not exported:\n%s", rec.Body.String())
	}
}

func TestTraceHandlerAddsIDs(t *testing.T) {
	p, err := InitWithConfig("svc", "v0", Config{Exporter: ExporterPrometheus})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Shutdown(context.Background())

	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, slog.LevelInfo, "json"))
	ctx, span := otel.Tracer("perpetua/test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "runtime.event.handled")
	span.End()

	out := buf.String()
	if !strings.Contains(out, `"trace_id"`) || !strings.Contains(out, `"span_id"`) {
		t.Fatalf("expected trace ids in log line: %s", out)
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "text")
	defer SetLogLevel("info")

	logger.Debug("hidden")
	SetLogLevel("debug")
	logger.Debug("visible")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "visible") {
		t.Fatalf("level change not applied: %s", buf.String())
	}
	if LogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", LogLevel())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}
