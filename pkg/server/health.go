// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"time"

	"github.com/jllopis/perpetua/pkg/agent"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/runtime"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of one agent. The empty
// service reports the fleet as a whole.
func ServiceName(agentID string) string { return "perpetua.agent." + agentID }

// SyncHealth publishes every agent's serving status to the gRPC health
// service. An agent serves while Running and not unhealthy; the fleet serves
// when every agent does.
func (s *Server) SyncHealth(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, a := range s.fleet.List() {
		st := servingStatus(ctx, a)
		if st != healthpb.HealthCheckResponse_SERVING {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(ServiceName(a.ID()), st)
	}
	s.health.SetServingStatus("", overall)
}

func servingStatus(ctx context.Context, a *agent.Agent) healthpb.HealthCheckResponse_ServingStatus {
	if a.Lifecycle() != runtime.Running || a.Check(ctx).Status == core.HealthUnhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (s *Server) syncHealthLoop(ctx context.Context) {
	s.SyncHealth(ctx)
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncHealth(ctx)
		}
	}
}
