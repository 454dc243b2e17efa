// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
)

type eventIDKey struct{}
type agentIDKey struct{}

// WithEventID attaches the id of the event being handled to the context.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

// EventID returns the event id if present.
func EventID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(eventIDKey{}).(string)
	return id, ok
}

// WithAgentID attaches the handling agent id to the context.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, id)
}

// AgentID returns the agent id if present.
func AgentID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey{}).(string)
	return id, ok
}
