// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the inbound envelope delivered to an agent. Type is the dispatch
// key; Data is passed to handlers untouched.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// NewEvent builds an event with a generated id and timestamp.
func NewEvent(eventType string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Normalize fills the id, timestamp and data map when the caller left them empty.
func (e Event) Normalize() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e
}

// Describe renders the event as a short action description, used when the
// event is scored against the agent purpose. Scalar fields are included in
// key order so the output is stable.
func (e Event) Describe() string {
	var b strings.Builder
	b.WriteString(strings.NewReplacer(".", " ", "_", " ").Replace(e.Type))
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := e.Data[k].(type) {
		case string:
			b.WriteString(" ")
			b.WriteString(v)
		case bool, int, int64, float64:
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	return b.String()
}
