// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jllopis/perpetua/pkg/config"
	"github.com/spf13/cobra"
)

// rootCmd carries the persistent flags shared by every subcommand.
type rootCmd struct {
	*cobra.Command
	configPath string
	sets       []string
	json       bool
}

func newRootCmd() *rootCmd {
	r := &rootCmd{}
	r.Command = &cobra.Command{
		Use:           "perpetua",
		Short:         "Perpetua runs purpose-driven agents that sleep between events",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	r.SetVersionTemplate(fmt.Sprintf("perpetua %s (commit: %s)\n", version, commit))

	flags := r.PersistentFlags()
	flags.StringVarP(&r.configPath, "config", "c", "perpetua.yaml", "config file path")
	flags.StringArrayVar(&r.sets, "set", nil, "override a config key (key=value), repeatable")
	flags.BoolVar(&r.json, "json", false, "print machine-readable output")

	r.AddCommand(
		newServeCmd(r),
		newValidateCmd(r),
		newDeployCmd(r),
		newVersionCmd(r),
	)
	return r
}

func (r *rootCmd) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithOverrides(r.configPath, r.sets)
	if err != nil {
		return nil, wrapConfigError(err, r.configPath)
	}
	return cfg, nil
}

func (r *rootCmd) jsonOutput() bool { return r != nil && r.json }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
