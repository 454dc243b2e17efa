// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package events routes inbound events to the handlers subscribed to their
// type and defines the built-in event kinds an agent understands.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
)

// Handler processes one event and returns a value reported back to the caller.
type Handler func(ctx context.Context, event core.Event) (any, error)

// Subscription binds a handler to an event type.
type Subscription struct {
	ID        string
	EventType string
	Handler   Handler
}

// Outcome is the per-handler result of a dispatch. Exactly one of Value or
// Err is meaningful.
type Outcome struct {
	Value any    `json:"value,omitempty"`
	Err   string `json:"error,omitempty"`
}

// Failed reports whether the handler returned an error or panicked.
func (o Outcome) Failed() bool {
	return o.Err != ""
}

// MarshalJSON renders a failure as {"error": msg} and a success as the raw value.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Failed() {
		return json.Marshal(map[string]string{"error": o.Err})
	}
	return json.Marshal(o.Value)
}

// Registry keeps, per event type, handlers in subscription order.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[string][]Subscription
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string][]Subscription)}
}

// Subscribe appends handler to the list for eventType and returns the
// subscription id.
func (r *Registry) Subscribe(eventType string, handler Handler) (string, error) {
	if strings.TrimSpace(eventType) == "" {
		return "", errors.New(errors.CodeInvalidInput, "event type is required", nil)
	}
	if handler == nil {
		return "", errors.New(errors.CodeInvalidInput, "handler is required", nil).
			WithContext("event_type", eventType)
	}
	id := uuid.NewString()
	r.mu.Lock()
	r.subs[eventType] = append(r.subs[eventType], Subscription{ID: id, EventType: eventType, Handler: handler})
	r.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription. It reports whether one was removed.
func (r *Registry) Unsubscribe(eventType, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[eventType]
	for i, s := range list {
		if s.ID != id {
			continue
		}
		next := make([]Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, eventType)
		} else {
			r.subs[eventType] = next
		}
		return true
	}
	return false
}

// Subscriptions returns the handlers for eventType in registration order.
func (r *Registry) Subscriptions(eventType string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Subscription(nil), r.subs[eventType]...)
}

// Count returns the number of handlers subscribed to eventType.
func (r *Registry) Count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[eventType])
}

// Types returns the event types that have at least one handler.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for t := range r.subs {
		out = append(out, t)
	}
	return out
}

// Dispatch invokes every handler subscribed to the event type, in order.
// A failing handler does not stop the ones after it. Events with no
// handlers yield an empty, non-nil slice.
func (r *Registry) Dispatch(ctx context.Context, event core.Event) []Outcome {
	subs := r.Subscriptions(event.Type)
	out := make([]Outcome, 0, len(subs))
	for _, s := range subs {
		out = append(out, Invoke(ctx, s.Handler, event))
	}
	return out
}

// Invoke runs a single handler, converting errors and panics into an Outcome.
func Invoke(ctx context.Context, h Handler, event core.Event) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	v, err := h(ctx, event)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "handler failed"
		}
		return Outcome{Err: msg}
	}
	return Outcome{Value: v}
}
