// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package purpose

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
)

var revenue = core.Identity{
	ID:              "cmo",
	Purpose:         "Grow revenue",
	PurposeScope:    "marketing campaigns and pricing",
	SuccessCriteria: []string{"20% revenue growth"},
}

func TestKeywordScorer(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		aligned bool
	}{
		{"matching action", "launch campaign to grow revenue", true},
		{"unrelated action", "clean the office kitchen", false},
		{"empty action", "", false},
	}
	ev := NewEvaluator(revenue)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ev.Evaluate(context.Background(), tt.action)
			if a.Aligned != tt.aligned {
				t.Fatalf("expected aligned=%v, got %+v", tt.aligned, a)
			}
			if a.Score < 0 || a.Score > 1 {
				t.Fatalf("score out of range: %v", a.Score)
			}
			if a.Timestamp.IsZero() || a.Reasoning == "" {
				t.Fatalf("expected timestamp and reasoning, got %+v", a)
			}
		})
	}
}

func TestStaticScorer(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(NewStaticScorer()))
	a := ev.Evaluate(context.Background(), "anything")
	if a.Score != 0.85 || !a.Aligned {
		t.Fatalf("expected 0.85 aligned, got %+v", a)
	}
}

func TestScoreIsClamped(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(ScorerFunc(func(context.Context, core.Identity, string) (float64, string, error) {
		return 7, "too high", nil
	})))
	if a := ev.Evaluate(context.Background(), "x"); a.Score != 1 {
		t.Fatalf("expected clamp to 1, got %v", a.Score)
	}
}

func TestScorerErrorIsNotAligned(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(ScorerFunc(func(context.Context, core.Identity, string) (float64, string, error) {
		return 0.9, "", fmt.Errorf("engine offline")
	})))
	a := ev.Evaluate(context.Background(), "grow revenue")
	if a.Aligned || a.Score != 0 {
		t.Fatalf("expected unaligned zero score, got %+v", a)
	}
}

func TestThreshold(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(NewStaticScorer()), WithThreshold(0.9))
	if ev.Evaluate(context.Background(), "x").Aligned {
		t.Fatalf("0.85 should not pass a 0.9 threshold")
	}
	if NewEvaluator(revenue, WithThreshold(5)).Threshold() != DefaultThreshold {
		t.Fatalf("out of range threshold should be ignored")
	}
}

func TestDecide(t *testing.T) {
	ev := NewEvaluator(revenue)
	d, err := ev.Decide(context.Background(), []string{
		"reorganize the filing cabinet",
		"run pricing campaign to grow revenue",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.SelectedOption != "run pricing campaign to grow revenue" {
		t.Fatalf("unexpected selection %q", d.SelectedOption)
	}
	if d.ID == "" || d.Reasoning == "" || d.Timestamp.IsZero() {
		t.Fatalf("incomplete decision %+v", d)
	}
}

func TestDecideTieKeepsFirst(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(NewStaticScorer()))
	d, err := ev.Decide(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.SelectedOption != "first" {
		t.Fatalf("expected first option on tie, got %q", d.SelectedOption)
	}
}

func TestDecideErrors(t *testing.T) {
	ev := NewEvaluator(revenue)
	if _, err := ev.Decide(context.Background(), nil); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ev.Decide(ctx, []string{"a"}); !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected context lost, got %v", err)
	}
}

func TestScorerPanicIsNotAligned(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(ScorerFunc(func(context.Context, core.Identity, string) (float64, string, error) {
		panic("scorer exploded")
	})))
	a := ev.Evaluate(context.Background(), "grow revenue")
	if a.Aligned || a.Score != 0 || !strings.Contains(a.Reasoning, "scorer exploded") {
		t.Fatalf("expected unaligned zero score, got %+v", a)
	}
}

func TestNaNScore(t *testing.T) {
	ev := NewEvaluator(revenue, WithScorer(ScorerFunc(func(context.Context, core.Identity, string) (float64, string, error) {
		return math.NaN(), "undefined", nil
	})))
	if a := ev.Evaluate(context.Background(), "x"); a.Score != 0 || a.Aligned {
		t.Fatalf("expected NaN to score 0, got %+v", a)
	}
	d, err := ev.Decide(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.SelectedOption != "a" || d.Score != 0 {
		t.Fatalf("expected first option with score 0, got %+v", d)
	}
}
