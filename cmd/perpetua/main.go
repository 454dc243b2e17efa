// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Command perpetua runs and manages perpetual agents.
package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if stderrors.As(err, &exit) {
			stop()
			os.Exit(exit.code)
		}
		printError(os.Stderr, err, root.jsonOutput())
		stop()
		os.Exit(1)
	}
}
