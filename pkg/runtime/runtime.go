// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime hosts a perpetual agent: its lifecycle, event handling,
// heartbeat loop and persisted state.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/perpetua/pkg/capability"
	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/events"
	"github.com/jllopis/perpetua/pkg/goals"
	"github.com/jllopis/perpetua/pkg/purpose"
	"github.com/jllopis/perpetua/pkg/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Lifecycle is the coarse state of a runtime.
type Lifecycle string

const (
	Uninitialized Lifecycle = "uninitialized"
	Initializing  Lifecycle = "initializing"
	Ready         Lifecycle = "ready"
	Running       Lifecycle = "running"
	Stopping      Lifecycle = "stopping"
	Stopped       Lifecycle = "stopped"
)

// SleepMode reports whether the agent is currently handling an event.
type SleepMode string

const (
	Awake  SleepMode = "awake"
	Asleep SleepMode = "asleep"
)

// Persisted context keys.
const (
	KeyWakeCount   = "wake_count"
	KeyTotalEvents = "total_events_processed"
	KeyLastActive  = "last_active"
	KeyGoals       = "goals"
	KeyIdentity    = "agent_identity"
	KeyHeartbeat   = "last_heartbeat"
)

// HeartbeatFunc runs on every heartbeat tick. Returning an error triggers
// backoff; the loop keeps running.
type HeartbeatFunc func(ctx context.Context, rt *AgentRuntime) error

// Result is returned by HandleEvent.
type Result struct {
	Status           string            `json:"status"`
	EventID          string            `json:"event_id"`
	HandlerResults   []events.Outcome  `json:"handler_results"`
	PurposeAlignment purpose.Alignment `json:"purpose_alignment"`
}

// AgentRuntime owns one agent's identity, capability stack, subscriptions,
// goals and context store. All methods are safe for concurrent use.
type AgentRuntime struct {
	identity  core.Identity
	stack     *capability.Stack
	registry  *events.Registry
	goals     *goals.Tracker
	evaluator *purpose.Evaluator
	store     contextstore.Store
	breaker   *resilience.CircuitBreaker
	stats     resilience.LastGood[contextstore.Statistics]
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       settings

	mu                  sync.Mutex
	lifecycle           Lifecycle
	sleep               SleepMode
	wakeCount           int64
	totalEvents         int64
	lastActive          time.Time
	inFlight            int
	drained             chan struct{}
	loopCancel          context.CancelFunc
	loopDone            chan struct{}
	listenersRegistered bool

	// persistMu orders snapshot writes so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex
}

type settings struct {
	scorer            purpose.Scorer
	threshold         float64
	heartbeatInterval time.Duration
	stopTimeout       time.Duration
	maxBackoff        time.Duration
	hookTimeout       time.Duration
	scoreTimeout      time.Duration
	hooks             []HeartbeatFunc
	retry             resilience.RetryConfig
	breaker           resilience.CircuitBreakerConfig
}

// Option configures an AgentRuntime.
type Option func(*AgentRuntime)

// WithLogger sets the logger. The agent id is added to every record.
func WithLogger(logger *slog.Logger) Option {
	return func(r *AgentRuntime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStore sets the context store. The runtime takes ownership of it.
func WithStore(store contextstore.Store) Option {
	return func(r *AgentRuntime) {
		if store != nil {
			r.store = store
		}
	}
}

// WithScorer replaces the default keyword scorer.
func WithScorer(s purpose.Scorer) Option {
	return func(r *AgentRuntime) {
		if s != nil {
			r.cfg.scorer = s
		}
	}
}

// WithThreshold sets the alignment threshold, in (0, 1].
func WithThreshold(th float64) Option {
	return func(r *AgentRuntime) {
		if th > 0 && th <= 1 {
			r.cfg.threshold = th
		}
	}
}

// WithHeartbeatInterval sets the delay between heartbeat iterations.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *AgentRuntime) {
		if d > 0 {
			r.cfg.heartbeatInterval = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the loop and in-flight events.
func WithStopTimeout(d time.Duration) Option {
	return func(r *AgentRuntime) {
		if d > 0 {
			r.cfg.stopTimeout = d
		}
	}
}

// WithMaxBackoff caps the delay after repeated heartbeat failures.
func WithMaxBackoff(d time.Duration) Option {
	return func(r *AgentRuntime) {
		if d > 0 {
			r.cfg.maxBackoff = d
		}
	}
}

// WithHeartbeatHook adds work to every heartbeat.
func WithHeartbeatHook(fn HeartbeatFunc) Option {
	return func(r *AgentRuntime) {
		if fn != nil {
			r.cfg.hooks = append(r.cfg.hooks, fn)
		}
	}
}

// WithHookTimeout bounds a single heartbeat hook. Defaults to the heartbeat
// interval.
func WithHookTimeout(d time.Duration) Option {
	return func(r *AgentRuntime) {
		if d > 0 {
			r.cfg.hookTimeout = d
		}
	}
}

// WithScoreTimeout bounds how long HandleEvent waits for the alignment
// score. On expiry the event is reported as unaligned.
func WithScoreTimeout(d time.Duration) Option {
	return func(r *AgentRuntime) {
		if d > 0 {
			r.cfg.scoreTimeout = d
		}
	}
}

// WithRetryConfig controls how store initialization is retried.
func WithRetryConfig(rc resilience.RetryConfig) Option {
	return func(r *AgentRuntime) {
		r.cfg.retry = rc
	}
}

// WithBreakerConfig tunes the circuit breaker guarding persistence.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *AgentRuntime) {
		r.cfg.breaker = cfg
	}
}

// New creates an uninitialized runtime. It fails with CodeInvalidPurpose when
// the identity has no purpose.
func New(identity core.Identity, opts ...Option) (*AgentRuntime, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	r := &AgentRuntime{
		identity:  identity.Clone(),
		stack:     capability.NewStack(),
		registry:  events.NewRegistry(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("perpetua/runtime"),
		lifecycle: Uninitialized,
		sleep:     Asleep,
		cfg: settings{
			threshold:         purpose.DefaultThreshold,
			heartbeatInterval: 30 * time.Second,
			stopTimeout:       10 * time.Second,
			maxBackoff:        5 * time.Minute,
			scoreTimeout:      10 * time.Second,
			retry:             resilience.DefaultRetryConfig(),
			breaker: resilience.CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          30 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = contextstore.NewInMemory()
	}
	if r.cfg.scorer == nil {
		r.cfg.scorer = purpose.NewKeywordScorer()
	}
	if r.cfg.hookTimeout == 0 {
		r.cfg.hookTimeout = r.cfg.heartbeatInterval
	}
	r.logger = r.logger.With(slog.String("agent_id", r.identity.ID))
	r.evaluator = purpose.NewEvaluator(r.identity,
		purpose.WithScorer(r.cfg.scorer),
		purpose.WithThreshold(r.cfg.threshold),
	)
	r.goals = goals.NewTracker(goals.WithCompletionFunc(r.goalCompleted))

	initMetrics()
	bc := r.cfg.breaker
	if bc.Name == "" {
		bc.Name = "store:" + r.identity.ID
	}
	bc.OnStateChange = r.breakerChanged
	r.breaker = resilience.NewCircuitBreaker(bc)
	return r, nil
}

// ID returns the agent id.
func (r *AgentRuntime) ID() string { return r.identity.ID }

// Identity returns a copy of the agent identity.
func (r *AgentRuntime) Identity() core.Identity { return r.identity.Clone() }

// Capabilities exposes the capability stack. Layers can only be added before
// the first Start.
func (r *AgentRuntime) Capabilities() *capability.Stack { return r.stack }

// AddLayer appends a capability layer.
func (r *AgentRuntime) AddLayer(adapter string, values map[string]any, skills []string) error {
	return r.stack.AddLayer(adapter, values, skills)
}

// Subscribe registers a handler for eventType and returns the subscription id.
func (r *AgentRuntime) Subscribe(eventType string, h events.Handler) (string, error) {
	return r.registry.Subscribe(eventType, h)
}

// Unsubscribe removes a subscription by id.
func (r *AgentRuntime) Unsubscribe(eventType, id string) bool {
	return r.registry.Unsubscribe(eventType, id)
}

// Registry exposes the subscription registry for inspection.
func (r *AgentRuntime) Registry() *events.Registry { return r.registry }

// Store returns the context store owned by the runtime.
func (r *AgentRuntime) Store() contextstore.Store { return r.store }

// Evaluator returns the purpose evaluator.
func (r *AgentRuntime) Evaluator() *purpose.Evaluator { return r.evaluator }

// Lifecycle returns the current lifecycle state.
func (r *AgentRuntime) Lifecycle() Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycle
}

// SleepMode returns whether an event is being handled right now.
func (r *AgentRuntime) SleepMode() SleepMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sleep
}

// WakeCount returns how many times the agent has been woken by an event.
func (r *AgentRuntime) WakeCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wakeCount
}

// TotalEventsProcessed returns the number of completed HandleEvent calls.
func (r *AgentRuntime) TotalEventsProcessed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalEvents
}
