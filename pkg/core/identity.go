// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strings"

	"github.com/jllopis/perpetua/pkg/errors"
)

// Identity describes who an agent is and the single purpose it serves.
// It is fixed at construction.
type Identity struct {
	ID              string   `json:"agent_id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Role            string   `json:"role" yaml:"role"`
	Purpose         string   `json:"purpose" yaml:"purpose"`
	PurposeScope    string   `json:"purpose_scope,omitempty" yaml:"purpose_scope"`
	SuccessCriteria []string `json:"success_criteria,omitempty" yaml:"success_criteria"`
}

// Validate rejects identities without an id or without exactly one non-empty purpose.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New(errors.CodeInvalidInput, "agent id is required", nil)
	}
	if strings.TrimSpace(i.Purpose) == "" {
		return errors.New(errors.CodeInvalidPurpose, "agent purpose is required", nil).
			WithContext("agent_id", i.ID)
	}
	return nil
}

// Clone returns a copy that shares no slices with the receiver.
func (i Identity) Clone() Identity {
	i.SuccessCriteria = append([]string(nil), i.SuccessCriteria...)
	return i
}
