// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package contextstore

import (
	"context"
	"sync"
)

// InMemory keeps everything in process. State survives Shutdown and a later
// Initialize, but not a process restart.
type InMemory struct {
	mu      sync.RWMutex
	opts    options
	open    bool
	values  map[string]any
	events  *boundedLog[EventRecord]
	memory  *boundedLog[MemoryItem]
	backend string
	// onChange, when set, runs under the write lock after every mutation.
	onChange func() error
}

// NewInMemory creates an empty in-memory store.
func NewInMemory(opts ...Option) *InMemory {
	o := defaultOptions(opts)
	return &InMemory{
		opts:    o,
		values:  make(map[string]any),
		events:  newBoundedLog[EventRecord](o.maxHistory),
		memory:  newBoundedLog[MemoryItem](o.maxMemory),
		backend: "memory",
	}
}

// Initialize implements Store.
func (m *InMemory) Initialize(context.Context) error {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	return nil
}

// Shutdown implements Store.
func (m *InMemory) Shutdown(context.Context) error {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	return nil
}

func (m *InMemory) mutate(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrClosed
	}
	fn()
	if m.onChange != nil {
		return m.onChange()
	}
	return nil
}

// SetContext implements Store.
func (m *InMemory) SetContext(_ context.Context, key string, value any) error {
	return m.mutate(func() { m.values[key] = value })
}

// GetContext implements Store.
func (m *InMemory) GetContext(_ context.Context, key string, def any) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrClosed
	}
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

// UpdateContext implements Store.
func (m *InMemory) UpdateContext(_ context.Context, values map[string]any) error {
	return m.mutate(func() {
		for k, v := range values {
			m.values[k] = v
		}
	})
}

// GetAllContext implements Store.
func (m *InMemory) GetAllContext(context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrClosed
	}
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// StoreEvent implements Store.
func (m *InMemory) StoreEvent(_ context.Context, record EventRecord) error {
	record = m.opts.stampEvent(record)
	return m.mutate(func() { m.events.append(record) })
}

// GetEvents implements Store.
func (m *InMemory) GetEvents(_ context.Context, limit int) ([]EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrClosed
	}
	return m.events.last(limit), nil
}

// AddMemory implements Store.
func (m *InMemory) AddMemory(_ context.Context, item MemoryItem) error {
	item = m.opts.stampMemory(item)
	return m.mutate(func() { m.memory.append(item) })
}

// GetMemory implements Store.
func (m *InMemory) GetMemory(_ context.Context, limit int) ([]MemoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrClosed
	}
	return m.memory.last(limit), nil
}

// Statistics implements Store.
func (m *InMemory) Statistics(context.Context) (Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return Statistics{}, ErrClosed
	}
	return Statistics{
		Backend:        m.backend,
		ContextKeys:    len(m.values),
		Events:         m.events.len(),
		Memories:       m.memory.len(),
		MaxHistorySize: m.opts.maxHistory,
		MaxMemorySize:  m.opts.maxMemory,
	}, nil
}
