// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
)

// StoreHealthChecker probes a context store by reading its statistics.
// Results are cached for minInterval so frequent probes do not load the
// backend.
type StoreHealthChecker struct {
	agentID     string
	store       contextstore.Store
	lastCheck   time.Time
	lastResult  core.HealthResult
	minInterval time.Duration
	mu          sync.RWMutex
}

// NewStoreHealthChecker creates a health checker for an agent's store.
func NewStoreHealthChecker(agentID string, store contextstore.Store) *StoreHealthChecker {
	return &StoreHealthChecker{
		agentID:     agentID,
		store:       store,
		minInterval: 10 * time.Second,
	}
}

// Check returns the health status of the store.
func (h *StoreHealthChecker) Check(ctx context.Context) core.HealthResult {
	h.mu.RLock()
	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		result := h.lastResult
		h.mu.RUnlock()
		return result
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Double-check after acquiring write lock
	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		return h.lastResult
	}

	result := core.HealthResult{
		Component: "store:" + h.agentID,
		LastCheck: time.Now(),
	}

	if h.store == nil {
		result.Status = core.HealthUnhealthy
		result.Message = "context store not configured"
		h.lastResult = result
		h.lastCheck = result.LastCheck
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := h.store.Statistics(checkCtx)
	if err != nil {
		result.Status = core.HealthUnhealthy
		result.Message = "statistics failed: " + err.Error()
		result.Error = err
	} else {
		result.Status = core.HealthHealthy
		result.Message = stats.Backend + " store responsive"
	}

	h.lastResult = result
	h.lastCheck = result.LastCheck
	return result
}
