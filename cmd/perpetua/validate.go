// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type agentReport struct {
	ID              string   `json:"agent_id"`
	Role            string   `json:"role"`
	Purpose         string   `json:"purpose"`
	Specializations []string `json:"specializations"`
	Skills          int      `json:"skills"`
	Goals           int      `json:"goals"`
}

func newValidateCmd(root *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and the agent manifest without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			fleet, err := buildFleet(cfg, discardLogger())
			if err != nil {
				return err
			}

			reports := make([]agentReport, 0, fleet.Len())
			for _, a := range fleet.List() {
				id := a.Identity()
				reports = append(reports, agentReport{
					ID:              id.ID,
					Role:            id.Role,
					Purpose:         id.Purpose,
					Specializations: a.Chain(),
					Skills:          len(a.Capabilities().Skills()),
					Goals:           a.SeedCount(),
				})
			}

			out := cmd.OutOrStdout()
			if root.json {
				return json.NewEncoder(out).Encode(map[string]any{
					"valid":  true,
					"store":  cfg.Store.Backend,
					"agents": reports,
				})
			}
			tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tROLE\tSPECIALIZATIONS\tSKILLS\tGOALS")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", r.ID, r.Role, strings.Join(r.Specializations, ">"), r.Skills, r.Goals)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "ok: %d agents, store %s\n", len(reports), cfg.Store.Backend)
			return nil
		},
	}
}
