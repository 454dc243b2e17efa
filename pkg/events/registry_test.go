// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jllopis/perpetua/pkg/core"
)

func constHandler(v any) Handler {
	return func(context.Context, core.Event) (any, error) { return v, nil }
}

func TestDispatchNoHandlers(t *testing.T) {
	r := NewRegistry()
	out := r.Dispatch(context.Background(), core.NewEvent("nobody.listens", nil))
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil outcomes, got %#v", out)
	}
}

func TestDispatchOrderAndIsolation(t *testing.T) {
	r := NewRegistry()
	var order []int
	mk := func(i int, fail bool) Handler {
		return func(context.Context, core.Event) (any, error) {
			order = append(order, i)
			if fail {
				return nil, fmt.Errorf("boom %d", i)
			}
			return i, nil
		}
	}
	for i, fail := range []bool{false, true, false} {
		if _, err := r.Subscribe("x", mk(i, fail)); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	out := r.Dispatch(context.Background(), core.NewEvent("x", nil))
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
	if fmt.Sprint(order) != "[0 1 2]" {
		t.Fatalf("unexpected call order %v", order)
	}
	if out[0].Value != 0 || out[2].Value != 2 {
		t.Fatalf("unexpected values %+v", out)
	}
	if !out[1].Failed() || out[1].Err != "boom 1" {
		t.Fatalf("expected second handler failure, got %+v", out[1])
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Subscribe("x", func(context.Context, core.Event) (any, error) { panic("kaboom") })
	_, _ = r.Subscribe("x", constHandler("after"))

	out := r.Dispatch(context.Background(), core.NewEvent("x", nil))
	if len(out) != 2 || !out[0].Failed() || out[1].Value != "after" {
		t.Fatalf("unexpected outcomes %+v", out)
	}
}

func TestEmptyErrorMessageStillFails(t *testing.T) {
	out := Invoke(context.Background(), func(context.Context, core.Event) (any, error) {
		return nil, fmt.Errorf("")
	}, core.NewEvent("x", nil))
	if !out.Failed() {
		t.Fatalf("expected failure")
	}
}

func TestSubscribeValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Subscribe("", constHandler(1)); err == nil {
		t.Fatalf("expected error for empty type")
	}
	if _, err := r.Subscribe("x", nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()
	id1, _ := r.Subscribe("x", constHandler(1))
	_, _ = r.Subscribe("x", constHandler(2))

	if !r.Unsubscribe("x", id1) {
		t.Fatalf("expected removal")
	}
	if r.Unsubscribe("x", id1) {
		t.Fatalf("second removal should report false")
	}
	out := r.Dispatch(context.Background(), core.NewEvent("x", nil))
	if len(out) != 1 || out[0].Value != 2 {
		t.Fatalf("unexpected outcomes after unsubscribe %+v", out)
	}
	if r.Count("x") != 1 || len(r.Types()) != 1 {
		t.Fatalf("unexpected registry size")
	}
}

func TestOutcomeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   Outcome
		want string
	}{
		{"value", Outcome{Value: map[string]int{"n": 1}}, `{"n":1}`},
		{"error", Outcome{Err: "bad"}, `{"error":"bad"}`},
		{"nil value", Outcome{}, `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, b)
			}
		})
	}
}
