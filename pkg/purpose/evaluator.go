// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package purpose scores actions against an agent's purpose and picks the
// best-aligned option when the agent has to decide.
package purpose

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
)

// DefaultThreshold is the minimum score for an action to count as aligned.
const DefaultThreshold = 0.5

// Alignment is the result of evaluating one action.
type Alignment struct {
	Action    string    `json:"action"`
	Aligned   bool      `json:"aligned"`
	Score     float64   `json:"alignment_score"`
	Reasoning string    `json:"reasoning"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is the option selected by Decide.
type Decision struct {
	ID             string    `json:"decision_id"`
	SelectedOption string    `json:"selected_option"`
	Reasoning      string    `json:"reasoning"`
	Score          float64   `json:"alignment_score"`
	Timestamp      time.Time `json:"timestamp"`
}

// Scorer rates how well an action serves a purpose. Implementations return a
// score in [0, 1] and a short human-readable reason.
type Scorer interface {
	Score(ctx context.Context, identity core.Identity, action string) (float64, string, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, identity core.Identity, action string) (float64, string, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, identity core.Identity, action string) (float64, string, error) {
	return f(ctx, identity, action)
}

// Evaluator scores actions for a single agent identity.
type Evaluator struct {
	identity  core.Identity
	scorer    Scorer
	threshold float64
	now       func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithScorer replaces the default keyword scorer.
func WithScorer(s Scorer) Option {
	return func(e *Evaluator) {
		if s != nil {
			e.scorer = s
		}
	}
}

// WithThreshold sets the alignment threshold. Values outside (0, 1] are ignored.
func WithThreshold(th float64) Option {
	return func(e *Evaluator) {
		if th > 0 && th <= 1 {
			e.threshold = th
		}
	}
}

// NewEvaluator builds an evaluator for identity.
func NewEvaluator(identity core.Identity, opts ...Option) *Evaluator {
	e := &Evaluator{
		identity:  identity.Clone(),
		threshold: DefaultThreshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.scorer = NewKeywordScorer()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured alignment threshold.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate scores action against the purpose. A scorer failure or panic
// yields an unaligned result with score 0 instead of an error.
func (e *Evaluator) Evaluate(ctx context.Context, action string) Alignment {
	score, reason, err := e.score(ctx, action)
	if err != nil {
		return Alignment{
			Action:    action,
			Reasoning: fmt.Sprintf("alignment scoring failed: %v", err),
			Timestamp: e.now(),
		}
	}
	score = clamp(score)
	return Alignment{
		Action:    action,
		Aligned:   score >= e.threshold,
		Score:     score,
		Reasoning: reason,
		Timestamp: e.now(),
	}
}

func (e *Evaluator) score(ctx context.Context, action string) (score float64, reason string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("scorer panic: %v", p), nil)
		}
	}()
	return e.scorer.Score(ctx, e.identity, action)
}

// Decide evaluates every option and selects the highest score. Ties keep the
// option seen first.
func (e *Evaluator) Decide(ctx context.Context, options []string) (Decision, error) {
	if len(options) == 0 {
		return Decision{}, errors.New(errors.CodeInvalidInput, "at least one option is required", nil)
	}

	var chosen Alignment
	for i, opt := range options {
		if err := ctx.Err(); err != nil {
			return Decision{}, errors.New(errors.CodeContextLost, "decision canceled", err)
		}
		a := e.Evaluate(ctx, opt)
		if i == 0 || a.Score > chosen.Score {
			chosen = a
		}
	}

	return Decision{
		ID:             uuid.NewString(),
		SelectedOption: chosen.Action,
		Reasoning: fmt.Sprintf("selected %q with alignment %.2f to purpose %q: %s",
			chosen.Action, chosen.Score, e.identity.Purpose, chosen.Reasoning),
		Score:     chosen.Score,
		Timestamp: e.now(),
	}, nil
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
