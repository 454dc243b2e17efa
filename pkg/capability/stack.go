// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability holds the ordered capability layers an agent accumulates
// through its specialization chain.
//
// Each specialization step (generic, leadership, a role) appends exactly one
// layer. Layers are never removed or reordered, and the stack is sealed once
// the owning runtime starts running.
package capability

import (
	"strings"
	"sync"

	"github.com/jllopis/perpetua/pkg/errors"
)

// ErrSealed is returned by AddLayer after the stack has been sealed.
var ErrSealed = errors.New(errors.CodeInvalidState, "capability stack is sealed", nil)

// Layer is one (adapter, context, skills) triple.
type Layer struct {
	Adapter string         `json:"adapter" yaml:"adapter"`
	Context map[string]any `json:"context,omitempty" yaml:"context"`
	Skills  []string       `json:"skills,omitempty" yaml:"skills"`
}

func (l Layer) clone() Layer {
	out := Layer{Adapter: l.Adapter, Skills: append([]string(nil), l.Skills...)}
	if l.Context != nil {
		out.Context = make(map[string]any, len(l.Context))
		for k, v := range l.Context {
			out.Context[k] = v
		}
	}
	return out
}

// Stack is an append-only, ordered list of layers. It is safe for concurrent use.
type Stack struct {
	mu     sync.RWMutex
	layers []Layer
	sealed bool
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// AddLayer appends a layer. The context map and skills slice are copied.
func (s *Stack) AddLayer(adapter string, context map[string]any, skills []string) error {
	if strings.TrimSpace(adapter) == "" {
		return errors.New(errors.CodeInvalidInput, "layer adapter is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}
	s.layers = append(s.layers, Layer{Adapter: adapter, Context: context, Skills: skills}.clone())
	return nil
}

// Seal makes the stack read-only. Sealing twice is harmless.
func (s *Stack) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Sealed reports whether AddLayer is still accepted.
func (s *Stack) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Len returns the number of layers.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// Layers returns deep copies of every layer, base first.
func (s *Stack) Layers() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Layer, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.clone()
	}
	return out
}

// Adapters returns the adapter of every layer, base first and most specific last.
func (s *Stack) Adapters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.Adapter
	}
	return out
}

// PrimaryAdapter is the adapter of the most recently added layer, or "" when empty.
func (s *Stack) PrimaryAdapter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.layers) == 0 {
		return ""
	}
	return s.layers[len(s.layers)-1].Adapter
}

// Skills flattens the skills of all layers in registration order.
// Duplicates across layers are kept.
func (s *Stack) Skills() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, l := range s.layers {
		out = append(out, l.Skills...)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// Contexts merges the layer contexts in registration order; on a key
// collision the most recently added layer wins.
func (s *Stack) Contexts() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for _, l := range s.layers {
		for k, v := range l.Context {
			out[k] = v
		}
	}
	return out
}

// HasSkill reports whether any layer contributes the named skill.
func (s *Stack) HasSkill(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.layers {
		for _, skill := range l.Skills {
			if skill == name {
				return true
			}
		}
	}
	return false
}
