// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy hands a deployment off to an external orchestrator command.
// The only contract is the argument shape and the process exit code.
package deploy

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jllopis/perpetua/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a deployment when the Deployer sets none.
const DefaultTimeout = 30 * time.Minute

// Request describes one deployment. Only Environment is required.
type Request struct {
	Environment   string   `json:"environment"`
	ResourceGroup string   `json:"resource_group,omitempty"`
	Location      string   `json:"location,omitempty"`
	Template      string   `json:"template,omitempty"`
	ExtraArgs     []string `json:"extra_args,omitempty"`
}

// Args renders the request as orchestrator flags. Optional fields are
// omitted when empty; ExtraArgs are appended verbatim.
func (r Request) Args() []string {
	args := []string{"--environment", r.Environment}
	if r.ResourceGroup != "" {
		args = append(args, "--resource-group", r.ResourceGroup)
	}
	if r.Location != "" {
		args = append(args, "--location", r.Location)
	}
	if r.Template != "" {
		args = append(args, "--template", r.Template)
	}
	return append(args, r.ExtraArgs...)
}

// Deployer runs Command with BaseArgs followed by the request flags.
type Deployer struct {
	Command  string
	BaseArgs []string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Deploy runs the orchestrator and returns its exit code. A non-zero exit is
// not an error; err is set only when the command could not run to
// completion (missing binary, timeout, cancellation).
func (d *Deployer) Deploy(ctx context.Context, req Request) (int, error) {
	if strings.TrimSpace(req.Environment) == "" {
		return -1, errors.New(errors.CodeInvalidInput, "deployment environment is required", nil)
	}
	if d.Command == "" {
		return -1, errors.New(errors.CodeInvalidInput, "deployment command is not configured", nil)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, span := otel.Tracer("perpetua/deploy").Start(ctx, "deploy.run", trace.WithAttributes(
		attribute.String("deploy.environment", req.Environment),
		attribute.String("deploy.command", d.Command),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), d.BaseArgs...), req.Args()...)
	cmd := exec.CommandContext(runCtx, d.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	logger.InfoContext(ctx, "deploy.start",
		slog.String("environment", req.Environment),
		slog.String("command", d.Command),
	)
	err := cmd.Run()
	elapsed := time.Since(start)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.InfoContext(ctx, "deploy.done",
			slog.String("environment", req.Environment),
			slog.Duration("duration", elapsed),
		)
		span.SetAttributes(attribute.Int("deploy.exit_code", 0))
		return 0, nil
	case runCtx.Err() != nil:
		span.RecordError(runCtx.Err())
		span.SetStatus(codes.Error, "deployment interrupted")
		code := errors.CodeTimeout
		if stderrors.Is(ctx.Err(), context.Canceled) {
			code = errors.CodeDeployment
		}
		return -1, errors.New(code, "deployment interrupted", runCtx.Err()).
			WithAttribute("environment", req.Environment).
			WithContext("timeout", timeout.String())
	case stderrors.As(err, &exitErr):
		exit := exitErr.ExitCode()
		logger.WarnContext(ctx, "deploy.failed",
			slog.String("environment", req.Environment),
			slog.Int("exit_code", exit),
			slog.String("stdout", tail(stdout.String(), 2048)),
			slog.String("stderr", tail(stderr.String(), 2048)),
			slog.Duration("duration", elapsed),
		)
		span.SetAttributes(attribute.Int("deploy.exit_code", exit))
		span.SetStatus(codes.Error, "non-zero exit")
		return exit, nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return -1, errors.New(errors.CodeDeployment, "running deployment command", err).
			WithAttribute("command", d.Command).
			WithRecoverable(false)
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
