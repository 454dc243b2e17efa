// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/runtime"
	"golang.org/x/sync/errgroup"
)

// Fleet is a registry of independent agents. It only fans lifecycle calls
// out; agents do not share state or scheduling.
type Fleet struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	health *core.DefaultHealthCheckProvider
	logger *slog.Logger
}

// FleetOption configures a Fleet.
type FleetOption func(*Fleet)

// WithFleetLogger sets the fleet logger.
func WithFleetLogger(logger *slog.Logger) FleetOption {
	return func(f *Fleet) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithHealthProvider registers agent health checks on an existing provider.
func WithHealthProvider(p *core.DefaultHealthCheckProvider) FleetOption {
	return func(f *Fleet) {
		if p != nil {
			f.health = p
		}
	}
}

// NewFleet returns an empty fleet.
func NewFleet(opts ...FleetOption) *Fleet {
	f := &Fleet{
		agents: make(map[string]*Agent),
		health: core.NewDefaultHealthCheckProvider(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StoreFactory opens the context store for one agent.
type StoreFactory func(agentID string) (contextstore.Store, error)

// FromManifest builds one agent per manifest entry. Each agent gets its own
// store from stores, plus the shared runtime options.
func FromManifest(m *Manifest, stores StoreFactory, rtOpts []runtime.Option, opts ...FleetOption) (*Fleet, error) {
	f := NewFleet(opts...)
	for _, def := range m.Agents {
		perAgent := append([]runtime.Option(nil), rtOpts...)
		if stores != nil {
			s, err := stores(def.ID)
			if err != nil {
				return nil, err
			}
			perAgent = append(perAgent, runtime.WithStore(s))
		}
		a, err := def.Build(perAgent...)
		if err != nil {
			return nil, err
		}
		if err := f.Add(a); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Add registers an agent and its health checks.
func (f *Fleet) Add(a *Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.agents[a.ID()]; exists {
		return errors.New(errors.CodeInvalidInput, "agent already registered", nil).
			WithAttribute("agent_id", a.ID())
	}
	f.agents[a.ID()] = a
	f.health.RegisterChecker("agent:"+a.ID(), a)
	f.health.RegisterChecker("store:"+a.ID(), NewStoreHealthChecker(a.ID(), a.Store()))
	return nil
}

// Remove unregisters an agent without stopping it.
func (f *Fleet) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[id]; !ok {
		return false
	}
	delete(f.agents, id)
	f.health.UnregisterChecker("agent:" + id)
	f.health.UnregisterChecker("store:" + id)
	return true
}

// Get returns the agent with the given id.
func (f *Fleet) Get(id string) (*Agent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[id]
	return a, ok
}

// List returns all agents sorted by id.
func (f *Fleet) List() []*Agent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of agents.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.agents)
}

// Health returns the provider holding the fleet's health checks.
func (f *Fleet) Health() *core.DefaultHealthCheckProvider { return f.health }

// InitializeAll initializes every agent concurrently. The first error is
// returned after all agents finished.
func (f *Fleet) InitializeAll(ctx context.Context) error {
	return f.each(ctx, "initialize", func(ctx context.Context, a *Agent) error { return a.Initialize(ctx) })
}

// StartAll starts every agent concurrently.
func (f *Fleet) StartAll(ctx context.Context) error {
	return f.each(ctx, "start", func(ctx context.Context, a *Agent) error { return a.Start(ctx) })
}

// StopAll stops every agent concurrently.
func (f *Fleet) StopAll(ctx context.Context) error {
	return f.each(ctx, "stop", func(ctx context.Context, a *Agent) error { return a.Stop(ctx) })
}

// CloseAll stops every agent and releases its store.
func (f *Fleet) CloseAll(ctx context.Context) error {
	return f.each(ctx, "close", func(ctx context.Context, a *Agent) error { return a.Close(ctx) })
}

// each runs fn for every agent without canceling siblings on failure: one
// agent failing must not stop the others.
func (f *Fleet) each(ctx context.Context, op string, fn func(context.Context, *Agent) error) error {
	var g errgroup.Group
	for _, a := range f.List() {
		a := a
		g.Go(func() error {
			start := time.Now()
			if err := fn(ctx, a); err != nil {
				f.logger.ErrorContext(ctx, "fleet.agent.error",
					slog.String("operation", op),
					slog.String("agent_id", a.ID()),
					slog.String("error", err.Error()),
				)
				return err
			}
			f.logger.DebugContext(ctx, "fleet.agent.done",
				slog.String("operation", op),
				slog.String("agent_id", a.ID()),
				slog.Duration("duration", time.Since(start)),
			)
			return nil
		})
	}
	return g.Wait()
}
