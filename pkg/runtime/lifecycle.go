// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/perpetua/pkg/errors"
)

// Initialize prepares the context store, restores persisted goals and
// counters, and registers the built-in event listeners. Store failures are
// retried; if they persist the runtime returns to Uninitialized and a
// CodeInitialization error is returned. Calling it again once ready is a
// no-op.
func (r *AgentRuntime) Initialize(ctx context.Context) error {
	r.mu.Lock()
	switch r.lifecycle {
	case Uninitialized:
	case Ready, Running:
		r.mu.Unlock()
		return nil
	default:
		state := r.lifecycle
		r.mu.Unlock()
		return invalidState("initialize", state)
	}
	r.lifecycle = Initializing
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "runtime.initialize")
	defer span.End()
	r.logger.InfoContext(ctx, "runtime.initialize.start", slog.String("role", r.identity.Role))

	if err := r.cfg.retry.Do(ctx, func() error { return r.store.Initialize(ctx) }); err != nil {
		r.setLifecycle(Uninitialized)
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "runtime.initialize.error", slog.String("error", err.Error()))
		return errors.New(errors.CodeInitialization, "initializing context store", err).
			WithAttribute("agent_id", r.identity.ID).
			WithRecoverable(false)
	}

	if err := r.restore(ctx); err != nil {
		r.logger.WarnContext(ctx, "runtime.restore.error", slog.String("error", err.Error()))
	}
	r.registerListeners()
	_ = r.persist(ctx, "save_identity", func(ctx context.Context) error {
		return r.store.SetContext(ctx, KeyIdentity, identityValue(r.identity))
	})

	r.setLifecycle(Ready)
	r.logger.InfoContext(ctx, "runtime.initialize.complete",
		slog.Int64("wake_count", r.WakeCount()),
		slog.Int("active_goals", len(r.goals.Active())),
	)
	return nil
}

// Start seals the capability stack and launches the heartbeat loop. Calling
// Start on a running agent is a no-op.
func (r *AgentRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.lifecycle {
	case Running:
		return nil
	case Ready, Stopped:
	default:
		return invalidState("start", r.lifecycle)
	}

	r.stack.Seal()
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.loopCancel = cancel
	r.loopDone = done
	r.lifecycle = Running
	r.sleep = Asleep
	go r.heartbeat(loopCtx, done)

	r.logger.InfoContext(ctx, "runtime.start",
		slog.String("primary_adapter", r.stack.PrimaryAdapter()),
		slog.Duration("heartbeat_interval", r.cfg.heartbeatInterval),
	)
	return nil
}

// Stop cancels the heartbeat loop, waits for it and for in-flight events,
// and persists goals and counters. The wait is bounded by the stop timeout
// and ctx; on expiry the runtime still stops and a CodeTimeout error is
// returned. The store stays open so the agent can be started again; use
// Close to release it.
func (r *AgentRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	switch r.lifecycle {
	case Stopped, Stopping:
		r.mu.Unlock()
		return nil
	case Running, Ready:
	default:
		state := r.lifecycle
		r.mu.Unlock()
		return invalidState("stop", state)
	}
	r.lifecycle = Stopping
	cancel, done := r.loopCancel, r.loopDone
	r.loopCancel, r.loopDone = nil, nil
	var drained chan struct{}
	if r.inFlight > 0 {
		r.drained = make(chan struct{})
		drained = r.drained
	}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "runtime.stop.start")
	if cancel != nil {
		cancel()
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, r.cfg.stopTimeout)
	defer waitCancel()

	var err error
	for _, ch := range []chan struct{}{done, drained} {
		if ch == nil || err != nil {
			continue
		}
		select {
		case <-ch:
		case <-waitCtx.Done():
			err = errors.New(errors.CodeTimeout, "agent did not stop in time", waitCtx.Err()).
				WithAttribute("agent_id", r.identity.ID).
				WithContext("timeout", r.cfg.stopTimeout.String())
		}
	}

	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.stopTimeout)
	defer persistCancel()
	r.persistSnapshot(persistCtx)

	r.mu.Lock()
	r.lifecycle = Stopped
	r.sleep = Asleep
	r.drained = nil
	r.mu.Unlock()

	if err != nil {
		r.logger.WarnContext(ctx, "runtime.stop.timeout", slog.String("error", err.Error()))
		return err
	}
	r.logger.InfoContext(ctx, "runtime.stop.complete",
		slog.Int64("total_events_processed", r.TotalEventsProcessed()),
	)
	return nil
}

// Close stops the agent if needed and shuts the context store down.
func (r *AgentRuntime) Close(ctx context.Context) error {
	var stopErr error
	switch r.Lifecycle() {
	case Running, Ready:
		stopErr = r.Stop(ctx)
	}
	if err := r.store.Shutdown(ctx); err != nil {
		return errors.New(errors.CodePersistence, "closing context store", err).
			WithAttribute("agent_id", r.identity.ID)
	}
	return stopErr
}

// enter admits one event, or fails when the agent is not accepting events.
func (r *AgentRuntime) enter() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.lifecycle {
	case Ready, Running:
	default:
		return errors.New(errors.CodeUnavailable, "agent is not accepting events", nil).
			WithAttribute("agent_id", r.identity.ID).
			WithAttribute("lifecycle", string(r.lifecycle))
	}
	r.inFlight++
	return nil
}

// leave releases an admitted event and wakes a pending Stop once drained.
func (r *AgentRuntime) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	if r.inFlight == 0 {
		r.sleep = Asleep
		if r.drained != nil {
			close(r.drained)
			r.drained = nil
		}
	}
}

func (r *AgentRuntime) setLifecycle(l Lifecycle) {
	r.mu.Lock()
	r.lifecycle = l
	r.mu.Unlock()
}

func (r *AgentRuntime) touch() (wake int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleep = Awake
	r.wakeCount++
	return r.wakeCount
}

func (r *AgentRuntime) processed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalEvents++
	r.lastActive = time.Now().UTC()
}

func invalidState(op string, state Lifecycle) error {
	return errors.New(errors.CodeInvalidState, "operation not allowed in current lifecycle state", nil).
		WithAttribute("operation", op).
		WithAttribute("lifecycle", string(state))
}
