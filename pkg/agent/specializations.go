// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"sort"
	"strings"

	"github.com/jllopis/perpetua/pkg/capability"
)

// Specialization is one step of an agent's specialization chain. Applying
// it appends a single capability layer.
type Specialization struct {
	Name    string
	Layer   capability.Layer
	Summary string
}

const (
	Generic    = "generic"
	Leadership = "leadership"
)

var catalog = map[string]Specialization{
	Generic: {
		Name:    Generic,
		Summary: "event handling, goal tracking and purpose-aligned decisions",
		Layer: capability.Layer{
			Adapter: "generic",
			Context: map[string]any{"tier": "base"},
			Skills:  []string{"event_handling", "goal_tracking", "decision_making"},
		},
	},
	Leadership: {
		Name:    Leadership,
		Summary: "strategy and delegation for executive agents",
		Layer: capability.Layer{
			Adapter: "leadership",
			Context: map[string]any{"tier": "executive"},
			Skills:  []string{"strategic_planning", "delegation", "stakeholder_communication"},
		},
	},
	"marketing": role("marketing", "brand and demand generation",
		"campaign_management", "market_analysis", "brand_strategy"),
	"finance": role("finance", "budgets, forecasts and reporting",
		"budgeting", "forecasting", "financial_reporting"),
	"engineering": role("engineering", "building and running software systems",
		"system_design", "code_review", "incident_response"),
	"operations": role("operations", "process and resource efficiency",
		"process_optimization", "resource_planning", "vendor_management"),
	"sales": role("sales", "pipeline and customer accounts",
		"pipeline_management", "negotiation", "account_planning"),
}

func role(name, summary string, skills ...string) Specialization {
	return Specialization{
		Name:    name,
		Summary: summary,
		Layer: capability.Layer{
			Adapter: name,
			Context: map[string]any{"domain": name},
			Skills:  skills,
		},
	}
}

// Lookup returns the catalog entry for name, case-insensitively.
func Lookup(name string) (Specialization, bool) {
	s, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Specialization{}, false
	}
	s.Layer.Context = copyMap(s.Layer.Context)
	s.Layer.Skills = append([]string(nil), s.Layer.Skills...)
	return s, true
}

// Specializations lists the catalog names in alphabetical order.
func Specializations() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultChain is the chain used when a definition names none: the generic
// base plus the role layer when the role is in the catalog.
func DefaultChain(role string) []string {
	chain := []string{Generic}
	r := strings.ToLower(strings.TrimSpace(role))
	if _, ok := catalog[r]; ok && r != Generic && r != Leadership {
		chain = append(chain, r)
	}
	return chain
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
