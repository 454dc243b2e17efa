// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/jllopis/perpetua/pkg/deploy"
	"github.com/jllopis/perpetua/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newDeployCmd(root *rootCmd) *cobra.Command {
	var req deploy.Request
	cmd := &cobra.Command{
		Use:   "deploy [-- extra orchestrator args]",
		Short: "Hand a deployment off to the configured orchestrator command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			req.ExtraArgs = args

			d := &deploy.Deployer{
				Command:  cfg.Deploy.Command,
				BaseArgs: cfg.Deploy.Args,
				Timeout:  cfg.Deploy.Timeout,
				Logger:   logger,
			}
			code, err := d.Deploy(cmd.Context(), req)
			if err != nil {
				return withHint(err, fmt.Sprintf("check deploy.command (%s) is installed", cfg.Deploy.Command))
			}
			if root.json {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"environment": req.Environment,
					"exit_code":   code,
				}); err != nil {
					return err
				}
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&req.Environment, "environment", "e", "", "target environment (required)")
	flags.StringVar(&req.ResourceGroup, "resource-group", "", "resource group")
	flags.StringVar(&req.Location, "location", "", "deployment location")
	flags.StringVar(&req.Template, "template", "", "infrastructure template")
	_ = cmd.MarkFlagRequired("environment")
	return cmd
}
