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
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/journal"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/session"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		flags       plannerFlags
		truth       string
		sessions    int
		parallelism int
		maxSteps    int
		journalPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate sessions against a ground-truth model",
		Example: `  portfolio run --model sat.yaml --sessions 50 --budget 300
  portfolio run --model prior.yaml --model-kind multinomial --truth sat.yaml --journal ./journal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed := cmd.Flags().Changed
			if changed("truth") {
				a.cfg.Model.TruthPath = truth
			}
			if changed("sessions") {
				a.cfg.Session.Sessions = sessions
			}
			if changed("parallelism") {
				a.cfg.Session.Parallelism = parallelism
			}
			if changed("max-steps") {
				a.cfg.Session.MaxSteps = maxSteps
			}
			if changed("journal") {
				a.cfg.Journal.Enabled = true
				a.cfg.Journal.Path = journalPath
			}
			if err := flags.apply(cmd, a); err != nil {
				return err
			}

			models, err := a.cfg.Model.LoadModels()
			if err != nil {
				return err
			}
			p, err := a.cfg.Planner.NewPlanner(models.Model.Actions(), a.plannerOptions()...)
			if err != nil {
				return err
			}
			exec, err := session.NewSimulatedExecutor(models.Truth)
			if err != nil {
				return err
			}

			opts := []session.Option{
				session.WithLogger(a.logger),
				session.WithMaxSteps(a.cfg.Session.MaxSteps),
				session.WithParallelism(a.cfg.Session.Parallelism),
				session.WithModelName(modelName(a.cfg.Model.Path, models.Spec.Name)),
				session.WithTracerProvider(a.providers.Tracer),
				session.WithStepLimiter(a.cfg.Session.Limiter()),
			}
			if a.cfg.Journal.Enabled {
				j, err := journal.Open(a.cfg.Journal.StoreConfig(a.logger))
				if err != nil {
					return err
				}
				defer j.Close()
				opts = append(opts, session.WithJournal(j))
			}

			runner, err := session.NewRunner(p, models.Model, exec, session.NewTerminalDomain(models.Truth.Actions()), opts...)
			if err != nil {
				return err
			}

			seeds := make([]uint64, a.cfg.Session.Sessions)
			for i := range seeds {
				seeds[i] = a.cfg.Session.Seed + uint64(i)
			}
			results, err := runner.RunAll(cmd.Context(), a.cfg.Session.Budget, seeds...)

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSEED\tREASON\tSTEPS\tSPENT\tUTILITY")
			for _, r := range results {
				if r == nil {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%g\t%g\n",
					r.SessionID, r.Seed, r.StopReason, r.History.Len(), r.Spent, r.Utility)
			}
			if flushErr := tw.Flush(); flushErr != nil && err == nil {
				err = flushErr
			}
			if err != nil {
				return err
			}

			summary := session.Summarize(results)
			fmt.Fprintf(out, "\nsessions: %d  final: %d  mean utility: %.4g  mean spent: %.4g  mean steps: %.3g\n",
				summary.Sessions, summary.Final, summary.MeanUtility, summary.MeanSpent, summary.MeanSteps)
			reasons := make([]string, 0, len(summary.Reasons))
			for reason := range summary.Reasons {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)
			for _, reason := range reasons {
				fmt.Fprintf(out, "  %s: %d\n", reason, summary.Reasons[reason])
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&truth, "truth", "", "Ground-truth model spec (defaults to the model spec)")
	cmd.Flags().IntVar(&sessions, "sessions", 1, "Number of sessions, seeded seed, seed+1, ...")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "Sessions run concurrently")
	cmd.Flags().IntVar(&maxSteps, "max-steps", session.DefaultMaxSteps, "Step cap per session (0 for none)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Record sessions in a journal at this directory")
	return cmd
}

func modelName(path, specName string) string {
	if specName != "" {
		return specName
	}
	return filepath.Base(path)
}
