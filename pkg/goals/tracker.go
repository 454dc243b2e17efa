// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package goals tracks an agent's objectives and their progress.
package goals

import (
	"strconv"
	"sync"
	"time"
)

// Status is the lifecycle of a goal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Note is a timestamped progress remark.
type Note struct {
	Text      string    `json:"text" mapstructure:"text"`
	Timestamp time.Time `json:"timestamp" mapstructure:"timestamp"`
}

// Goal is a tracked objective. Progress is only changed through
// Tracker.UpdateProgress.
type Goal struct {
	ID              string     `json:"goal_id" mapstructure:"goal_id"`
	Description     string     `json:"description" mapstructure:"description"`
	SuccessCriteria []string   `json:"success_criteria,omitempty" mapstructure:"success_criteria"`
	Deadline        *time.Time `json:"deadline,omitempty" mapstructure:"deadline"`
	Status          Status     `json:"status" mapstructure:"status"`
	Progress        float64    `json:"progress" mapstructure:"progress"`
	Notes           []Note     `json:"notes,omitempty" mapstructure:"notes"`
	CreatedAt       time.Time  `json:"created_at" mapstructure:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" mapstructure:"completed_at"`
}

func (g *Goal) clone() Goal {
	out := *g
	out.SuccessCriteria = append([]string(nil), g.SuccessCriteria...)
	out.Notes = append([]Note(nil), g.Notes...)
	if g.Deadline != nil {
		d := *g.Deadline
		out.Deadline = &d
	}
	if g.CompletedAt != nil {
		c := *g.CompletedAt
		out.CompletedAt = &c
	}
	return out
}

// Snapshot is the persisted form of a tracker.
type Snapshot struct {
	Active    []Goal `json:"active" mapstructure:"active"`
	Completed []Goal `json:"completed" mapstructure:"completed"`
	Achieved  int    `json:"goals_achieved" mapstructure:"goals_achieved"`
}

// CompletionFunc is called once for every goal that reaches completion.
type CompletionFunc func(goal Goal)

// Tracker holds active and completed goals. It is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	active     []*Goal
	completed  []*Goal
	achieved   int
	now        func() time.Time
	onComplete CompletionFunc
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithCompletionFunc registers a callback fired after a goal completes.
// The callback runs outside the tracker lock.
func WithCompletionFunc(fn CompletionFunc) Option {
	return func(t *Tracker) {
		t.onComplete = fn
	}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add creates an active goal and returns its id. Ids are "goal_<n>" where n is
// one more than the number of goals the tracker has ever held, so they are
// unique per agent without any global coordination.
func (t *Tracker) Add(description string, successCriteria []string, deadline *time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := "goal_" + strconv.Itoa(len(t.active)+len(t.completed)+1)
	g := &Goal{
		ID:              id,
		Description:     description,
		SuccessCriteria: append([]string(nil), successCriteria...),
		Status:          StatusActive,
		CreatedAt:       t.now(),
	}
	if deadline != nil {
		d := *deadline
		g.Deadline = &d
	}
	t.active = append(t.active, g)
	return id
}

// UpdateProgress sets the progress of an active goal and optionally appends a
// note. It returns false, with no side effects, when id is not an active goal.
// A progress of 1.0 or more completes the goal. Values are not clamped; keeping
// them in [0, 1] is the caller's responsibility.
func (t *Tracker) UpdateProgress(id string, progress float64, note string) bool {
	t.mu.Lock()
	idx := -1
	for i, g := range t.active {
		if g.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}

	g := t.active[idx]
	now := t.now()
	g.Progress = progress
	if note != "" {
		g.Notes = append(g.Notes, Note{Text: note, Timestamp: now})
	}

	var done *Goal
	if progress >= 1.0 {
		g.Status = StatusCompleted
		g.CompletedAt = &now
		t.active = append(t.active[:idx], t.active[idx+1:]...)
		t.completed = append(t.completed, g)
		t.achieved++
		c := g.clone()
		done = &c
	}
	cb := t.onComplete
	t.mu.Unlock()

	if done != nil && cb != nil {
		cb(*done)
	}
	return true
}

// Get returns a copy of the goal with the given id, active or completed.
func (t *Tracker) Get(id string) (Goal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, set := range [][]*Goal{t.active, t.completed} {
		for _, g := range set {
			if g.ID == id {
				return g.clone(), true
			}
		}
	}
	return Goal{}, false
}

// Active returns copies of the active goals in creation order.
func (t *Tracker) Active() []Goal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneAll(t.active)
}

// Completed returns copies of the completed goals in completion order.
func (t *Tracker) Completed() []Goal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneAll(t.completed)
}

// Achieved is the number of goals completed over the tracker's lifetime.
func (t *Tracker) Achieved() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.achieved
}

// Snapshot captures the full tracker state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Active:    cloneAll(t.active),
		Completed: cloneAll(t.completed),
		Achieved:  t.achieved,
	}
}

// Restore replaces the tracker state with a snapshot.
func (t *Tracker) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = t.active[:0]
	t.completed = t.completed[:0]
	for i := range s.Active {
		g := s.Active[i].clone()
		t.active = append(t.active, &g)
	}
	for i := range s.Completed {
		g := s.Completed[i].clone()
		t.completed = append(t.completed, &g)
	}
	t.achieved = s.Achieved
	if t.achieved < len(t.completed) {
		t.achieved = len(t.completed)
	}
}

func cloneAll(set []*Goal) []Goal {
	out := make([]Goal, len(set))
	for i, g := range set {
		out[i] = g.clone()
	}
	return out
}
