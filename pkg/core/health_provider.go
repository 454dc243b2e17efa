// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/perpetua/pkg/errors"
)

// DefaultHealthCheckProvider implements HealthCheckProvider over a set of
// named checkers, typically one per agent runtime.
type DefaultHealthCheckProvider struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewDefaultHealthCheckProvider creates an empty health check provider.
func NewDefaultHealthCheckProvider() *DefaultHealthCheckProvider {
	return &DefaultHealthCheckProvider{
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker registers a health checker for a component.
func (p *DefaultHealthCheckProvider) RegisterChecker(name string, checker HealthChecker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkers[name] = checker
}

// UnregisterChecker removes a component.
func (p *DefaultHealthCheckProvider) UnregisterChecker(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.checkers, name)
}

// Check checks the health of a specific component.
func (p *DefaultHealthCheckProvider) Check(ctx context.Context, name string) (HealthResult, error) {
	p.mu.RLock()
	checker, exists := p.checkers[name]
	p.mu.RUnlock()

	if !exists {
		return HealthResult{}, errors.New(errors.CodeNotFound, "checker not registered", nil).
			WithContext("component", name)
	}

	result := checker.Check(ctx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result, nil
}

// CheckAll checks every registered component in name order.
// The overall status is the worst individual status; no components is healthy.
func (p *DefaultHealthCheckProvider) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	p.mu.RLock()
	names := make([]string, 0, len(p.checkers))
	checkers := make(map[string]HealthChecker, len(p.checkers))
	for name, checker := range p.checkers {
		names = append(names, name)
		checkers[name] = checker
	}
	p.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthResult, 0, len(names))
	overall := HealthHealthy
	for _, name := range names {
		result := checkers[name].Check(ctx)
		result.Component = name
		if result.LastCheck.IsZero() {
			result.LastCheck = time.Now()
		}
		results = append(results, result)
		if result.Status.Level() < overall.Level() {
			overall = result.Status
		}
	}
	return results, overall
}

// FunctionHealthChecker wraps a function as a health checker.
type FunctionHealthChecker func(ctx context.Context) HealthResult

// Check calls the underlying function.
func (f FunctionHealthChecker) Check(ctx context.Context) HealthResult {
	return f(ctx)
}
