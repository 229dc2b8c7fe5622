// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/journal"
	"github.com/spf13/cobra"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		journalPath string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "replay [session-id]",
		Short: "Print a journaled session, or list sessions when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("journal") {
				a.cfg.Journal.Path = journalPath
			}
			storeCfg := a.cfg.Journal.StoreConfig(a.logger)
			storeCfg.GCInterval = 0

			j, err := journal.Open(storeCfg)
			if err != nil {
				return err
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				metas, err := j.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tMODEL\tPLANNER\tSEED\tBUDGET\tREASON\tSTARTED")
				for _, m := range metas {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%g\t%s\t%s\n",
						m.ID, m.Model, m.Planner, m.Seed, m.Budget, m.StopReason, m.StartedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			}

			record, err := j.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			}

			m := record.Meta
			fmt.Fprintf(out, "session %s  model=%s planner=%s seed=%d budget=%g reason=%s\n",
				m.ID, m.Model, m.Planner, m.Seed, m.Budget, m.StopReason)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STEP\tACTION\tOUTCOME\tUTILITY\tCOST\tREMAINING")
			for _, e := range record.Entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%g\t%g\t%g\n", e.Step, e.Action, e.Outcome, e.Utility, e.Cost, e.Remaining)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "total utility: %g\n", record.TotalUtility())
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal directory (defaults to journal.path from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	return cmd
}
