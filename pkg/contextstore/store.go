// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package contextstore persists an agent's key/value context together with
// two bounded logs: processed events and memory items.
//
// Every runtime owns exactly one Store. Backends are interchangeable:
// in-process, a JSON snapshot file, SQLite or Redis.
package contextstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jllopis/perpetua/pkg/errors"
)

const (
	DefaultMaxHistorySize = 1000
	DefaultMaxMemorySize  = 1000
)

// ErrClosed is returned by operations on a store that is not initialized.
var ErrClosed = errors.New(errors.CodeUnavailable, "context store is not initialized", nil)

// EventRecord is one entry of the event history.
type EventRecord struct {
	EventID   string         `json:"event_id,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MemoryItem is one entry of the agent memory log.
type MemoryItem struct {
	Content   string         `json:"content"`
	Kind      string         `json:"kind,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Statistics summarizes what a store holds.
type Statistics struct {
	Backend        string `json:"backend"`
	ContextKeys    int    `json:"context_keys"`
	Events         int    `json:"events"`
	Memories       int    `json:"memories"`
	MaxHistorySize int    `json:"max_history_size"`
	MaxMemorySize  int    `json:"max_memory_size"`
}

// Store is the persistence contract of an agent runtime.
//
// Initialize and Shutdown are idempotent. GetEvents and GetMemory return the
// most recent limit entries, oldest first; limit <= 0 returns everything
// retained. Values read back from a durable backend have been through JSON,
// so numbers come back as float64.
type Store interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	SetContext(ctx context.Context, key string, value any) error
	GetContext(ctx context.Context, key string, def any) (any, error)
	UpdateContext(ctx context.Context, values map[string]any) error
	GetAllContext(ctx context.Context) (map[string]any, error)

	StoreEvent(ctx context.Context, record EventRecord) error
	GetEvents(ctx context.Context, limit int) ([]EventRecord, error)

	AddMemory(ctx context.Context, item MemoryItem) error
	GetMemory(ctx context.Context, limit int) ([]MemoryItem, error)

	Statistics(ctx context.Context) (Statistics, error)
}

// Option configures the log bounds of a store.
type Option func(*options)

type options struct {
	maxHistory int
	maxMemory  int
	now        func() time.Time
}

func defaultOptions(opts []Option) options {
	o := options{
		maxHistory: DefaultMaxHistorySize,
		maxMemory:  DefaultMaxMemorySize,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxHistorySize bounds the event log. Non-positive values keep the default.
func WithMaxHistorySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxHistory = n
		}
	}
}

// WithMaxMemorySize bounds the memory log. Non-positive values keep the default.
func WithMaxMemorySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMemory = n
		}
	}
}

func (o options) stampEvent(r EventRecord) EventRecord {
	if r.Timestamp.IsZero() {
		r.Timestamp = o.now()
	}
	return r
}

func (o options) stampMemory(m MemoryItem) MemoryItem {
	if m.Timestamp.IsZero() {
		m.Timestamp = o.now()
	}
	return m
}

func encodeValue(key string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.CodePersistence, "context value is not JSON serializable", err).
			WithAttribute("key", key)
	}
	return b, nil
}

func decodeValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.New(errors.CodePersistence, "decoding stored value", err)
	}
	return v, nil
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodePersistence, op, err).WithRecoverable(true)
}
