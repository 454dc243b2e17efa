// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"os"

	"github.com/jllopis/perpetua/pkg/capability"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/runtime"
	"gopkg.in/yaml.v3"
)

// Manifest describes a fleet of agents.
//
//	agents:
//	  - id: cmo-1
//	    name: Chief Marketing Agent
//	    role: marketing
//	    purpose: Grow revenue
//	    specializations: [generic, leadership, marketing]
//	    goals:
//	      - description: Launch Q3 campaign
//	        deadline: 2026-09-30T00:00:00Z
type Manifest struct {
	Agents []Definition `yaml:"agents"`
}

// Definition is one agent entry in a manifest.
type Definition struct {
	core.Identity   `yaml:",inline"`
	Specializations []string           `yaml:"specializations"`
	Layers          []capability.Layer `yaml:"layers"`
	Goals           []GoalSpec         `yaml:"goals"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "reading manifest", err).
			WithAttribute("path", path)
	}
	m, err := ParseManifest(data)
	if err != nil {
		if pe := errors.AsPerpetuaError(err); pe != nil {
			pe.WithAttribute("path", path)
		}
		return nil, err
	}
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "parsing manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks identities, id uniqueness, specialization names and goals.
func (m *Manifest) Validate() error {
	if len(m.Agents) == 0 {
		return errors.New(errors.CodeInvalidInput, "manifest defines no agents", nil)
	}
	seen := make(map[string]bool, len(m.Agents))
	for i, def := range m.Agents {
		if err := def.Identity.Validate(); err != nil {
			return errors.AsPerpetuaError(err).WithContext("index", i)
		}
		if seen[def.ID] {
			return errors.New(errors.CodeInvalidInput, "duplicate agent id", nil).
				WithAttribute("agent_id", def.ID)
		}
		seen[def.ID] = true
		if _, err := def.options(); err != nil {
			return errors.AsPerpetuaError(err).WithAttribute("agent_id", def.ID)
		}
	}
	return nil
}

func (d Definition) options() ([]Option, error) {
	var opts []Option
	if len(d.Specializations) > 0 {
		opts = append(opts, WithSpecializations(d.Specializations...))
	}
	for _, l := range d.Layers {
		opts = append(opts, WithLayer(l))
	}
	if len(d.Goals) > 0 {
		opts = append(opts, WithGoals(d.Goals...))
	}
	// Apply to a scratch builder so Validate reports option errors early.
	b := &builder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// Build creates the agent described by d.
func (d Definition) Build(rtOpts ...runtime.Option) (*Agent, error) {
	opts, err := d.options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithRuntimeOptions(rtOpts...))
	return New(d.Identity, opts...)
}
