// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jllopis/perpetua/pkg/agent"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/jllopis/perpetua/pkg/events"
	"github.com/jllopis/perpetua/pkg/runtime"
	"github.com/spf13/cast"
)

type agentSummary struct {
	ID             string            `json:"agent_id"`
	Name           string            `json:"name"`
	Role           string            `json:"role"`
	Lifecycle      runtime.Lifecycle `json:"lifecycle"`
	SleepMode      runtime.SleepMode `json:"sleep_mode"`
	PrimaryAdapter string            `json:"primary_adapter"`
	Chain          []string          `json:"specializations"`
}

type decisionRequest struct {
	Options []string `json:"options"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	list := s.fleet.List()
	out := make([]agentSummary, 0, len(list))
	for _, a := range list {
		id := a.Identity()
		out = append(out, agentSummary{
			ID:             id.ID,
			Name:           id.Name,
			Role:           id.Role,
			Lifecycle:      a.Lifecycle(),
			SleepMode:      a.SleepMode(),
			PrimaryAdapter: a.Capabilities().PrimaryAdapter(),
			Chain:          a.Chain(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.Status(r.Context()))
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	var ev core.Event
	if err := decodeBody(r, &ev); err != nil {
		writeError(w, err)
		return
	}
	if err := events.Validate(ev); err != nil {
		writeError(w, err)
		return
	}
	res, err := a.HandleEvent(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePostDecision(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := a.Decide(r.Context(), req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetAllContext(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	values, err := a.Store().GetAllContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	values, err := a.Store().GetAllContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	v, found := values[key]
	if !found {
		writeError(w, errors.New(errors.CodeNotFound, "context key not found", nil).
			WithAttribute("key", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	records, err := a.Store().GetEvents(r.Context(), limit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agent(w, r)
	if !ok {
		return
	}
	items, err := a.Store().GetMemory(r.Context(), limit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory": items})
}

func (s *Server) agent(w http.ResponseWriter, r *http.Request) (*agent.Agent, bool) {
	id := chi.URLParam(r, "id")
	a, ok := s.fleet.Get(id)
	if !ok {
		writeError(w, errors.New(errors.CodeNotFound, "agent not found", nil).
			WithAttribute("agent_id", id))
		return nil, false
	}
	return a, true
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "reading request body", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.CodeInvalidInput, "decoding request body", err)
	}
	return nil
}

// limit reads ?limit=N; missing or invalid values return everything retained.
func limit(r *http.Request) int {
	return cast.ToInt(r.URL.Query().Get("limit"))
}
