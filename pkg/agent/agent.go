// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent assembles perpetual agents from an identity and a chain of
// specializations, and manages fleets of them.
package agent

import (
	"context"
	"time"

	"github.com/jllopis/perpetua/pkg/capability"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/runtime"
)

// GoalSpec is a goal seeded into a fresh agent.
type GoalSpec struct {
	Description     string     `yaml:"description" json:"description"`
	SuccessCriteria []string   `yaml:"success_criteria" json:"success_criteria,omitempty"`
	Deadline        *time.Time `yaml:"deadline" json:"deadline,omitempty"`
}

// Agent is a runtime built from a specialization chain. Seed goals are added
// on the first Initialize that finds no persisted goals.
type Agent struct {
	*runtime.AgentRuntime
	chain []string
	seeds []GoalSpec
}

// Option configures an Agent instance.
type Option func(*builder) error

type builder struct {
	chain    []string
	layers   []capability.Layer
	seeds    []GoalSpec
	runtime  []runtime.Option
	explicit bool
}

// WithSpecializations replaces the default chain. Names must be in the
// catalog; they are applied in order.
func WithSpecializations(names ...string) Option {
	return func(b *builder) error {
		for _, n := range names {
			if _, ok := Lookup(n); !ok {
				return errors.New(errors.CodeInvalidInput, "unknown specialization", nil).
					WithAttribute("specialization", n)
			}
		}
		b.chain = append([]string(nil), names...)
		b.explicit = true
		return nil
	}
}

// WithLayer appends a custom layer after the specialization chain.
func WithLayer(layer capability.Layer) Option {
	return func(b *builder) error {
		if layer.Adapter == "" {
			return errors.New(errors.CodeInvalidInput, "custom layer requires an adapter", nil)
		}
		b.layers = append(b.layers, layer)
		return nil
	}
}

// WithGoals seeds goals into an agent with no persisted goals.
func WithGoals(goals ...GoalSpec) Option {
	return func(b *builder) error {
		for _, g := range goals {
			if g.Description == "" {
				return errors.New(errors.CodeInvalidInput, "goal description is required", nil)
			}
		}
		b.seeds = append(b.seeds, goals...)
		return nil
	}
}

// WithRuntimeOptions passes options through to runtime.New.
func WithRuntimeOptions(opts ...runtime.Option) Option {
	return func(b *builder) error {
		b.runtime = append(b.runtime, opts...)
		return nil
	}
}

// New creates an uninitialized agent. Without WithSpecializations the chain
// is DefaultChain(identity.Role).
func New(identity core.Identity, opts ...Option) (*Agent, error) {
	b := &builder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if !b.explicit {
		b.chain = DefaultChain(identity.Role)
	}

	rt, err := runtime.New(identity, b.runtime...)
	if err != nil {
		return nil, err
	}
	for _, name := range b.chain {
		spec, _ := Lookup(name)
		if err := rt.AddLayer(spec.Layer.Adapter, spec.Layer.Context, spec.Layer.Skills); err != nil {
			return nil, err
		}
	}
	for _, l := range b.layers {
		if err := rt.AddLayer(l.Adapter, l.Context, l.Skills); err != nil {
			return nil, err
		}
	}
	return &Agent{AgentRuntime: rt, chain: b.chain, seeds: b.seeds}, nil
}

// Chain returns the specialization names applied, in order.
func (a *Agent) Chain() []string { return append([]string(nil), a.chain...) }

// SeedCount returns how many goals are seeded into a fresh agent.
func (a *Agent) SeedCount() int { return len(a.seeds) }

// Initialize initializes the runtime and seeds goals into an empty tracker.
func (a *Agent) Initialize(ctx context.Context) error {
	if err := a.AgentRuntime.Initialize(ctx); err != nil {
		return err
	}
	snap := a.Goals()
	if len(snap.Active)+len(snap.Completed) > 0 {
		return nil
	}
	for _, g := range a.seeds {
		a.AddGoal(ctx, g.Description, g.SuccessCriteria, g.Deadline)
	}
	return nil
}
