// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry tracing and metrics, the slog
// handler, and the span attributes used across agent runtimes.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys for agent runtimes.
const (
	// Agent attributes
	AttrAgentID        = "perpetua.agent.id"
	AttrAgentRole      = "perpetua.agent.role"
	AttrAgentAdapter   = "perpetua.agent.primary_adapter"
	AttrAgentLifecycle = "perpetua.agent.lifecycle"
	AttrAgentWakeCount = "perpetua.agent.wake_count"

	// Event attributes
	AttrEventID       = "perpetua.event.id"
	AttrEventType     = "perpetua.event.type"
	AttrEventKind     = "perpetua.event.kind"
	AttrEventHandlers = "perpetua.event.handlers"
	AttrEventFailures = "perpetua.event.handler_failures"

	// Handler attributes
	AttrHandlerIndex   = "perpetua.handler.index"
	AttrHandlerSuccess = "perpetua.handler.success"

	// Purpose attributes
	AttrAlignmentScore   = "perpetua.alignment.score"
	AttrAlignmentAligned = "perpetua.alignment.aligned"

	// Goal attributes
	AttrGoalID       = "perpetua.goal.id"
	AttrGoalProgress = "perpetua.goal.progress"

	// Store attributes
	AttrStoreBackend   = "perpetua.store.backend"
	AttrStoreOperation = "perpetua.store.operation"
)

// AgentAttributes returns common attributes for agent spans.
func AgentAttributes(agentID, role, adapter string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
	}
	if role != "" {
		attrs = append(attrs, attribute.String(AttrAgentRole, role))
	}
	if adapter != "" {
		attrs = append(attrs, attribute.String(AttrAgentAdapter, adapter))
	}
	return attrs
}

// EventAttributes returns attributes for an event span.
func EventAttributes(eventID, eventType, kind string, handlers int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrEventType, eventType),
		attribute.Int(AttrEventHandlers, handlers),
	}
	if eventID != "" {
		attrs = append(attrs, attribute.String(AttrEventID, eventID))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrEventKind, kind))
	}
	return attrs
}

// HandlerAttributes returns attributes for a single handler span.
func HandlerAttributes(index int, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrHandlerIndex, index),
		attribute.Bool(AttrHandlerSuccess, success),
	}
}

// AlignmentAttributes returns the purpose alignment of an action.
func AlignmentAttributes(score float64, aligned bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrAlignmentScore, score),
		attribute.Bool(AttrAlignmentAligned, aligned),
	}
}

// GoalAttributes returns attributes for goal updates.
func GoalAttributes(goalID string, progress float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if goalID != "" {
		attrs = append(attrs, attribute.String(AttrGoalID, goalID))
	}
	return append(attrs, attribute.Float64(AttrGoalProgress, progress))
}

// StoreAttributes returns attributes for a persistence call.
func StoreAttributes(backend, operation string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrStoreOperation, operation)}
	if backend != "" {
		attrs = append(attrs, attribute.String(AttrStoreBackend, backend))
	}
	return attrs
}
