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
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/journal"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toyModel = "testdata/toy.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSelect_HorizonPlan(t *testing.T) {
	out, err := execute(t, "select", "--model", toyModel, "--budget", "2", "--horizon", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "selected: B (index 1, cost 1)")
	assert.Contains(t, out, "plan: B -> A")
	assert.Contains(t, out, "expected utility: 9")
}

// selections reads the planner selection counter from the default registry.
func selections(t *testing.T, kind, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "portfolio_planner_selections_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["planner"] == kind && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestSelect_HorizonRecordsSelection(t *testing.T) {
	before := selections(t, "horizon", "ok")

	_, err := execute(t, "select", "--model", toyModel, "--budget", "2", "--horizon", "2")
	require.NoError(t, err)

	assert.Equal(t, before+1, selections(t, "horizon", "ok"))
}

func TestSelect_Myopic(t *testing.T) {
	out, err := execute(t, "select", "--model", toyModel, "--budget", "2", "--planner", "myopic")
	require.NoError(t, err)

	assert.Contains(t, out, "selected: A (index 0, cost 1)")
	assert.NotContains(t, out, "plan:")
}

func TestSelect_WithHistory(t *testing.T) {
	out, err := execute(t, "select", "--model", toyModel, "--budget", "1", "--history", "B:partial")
	require.NoError(t, err)
	assert.Contains(t, out, "selected: A")
}

func TestSelect_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no model", []string{"select", "--budget", "2"}},
		{"missing file", []string{"select", "--model", "testdata/missing.yaml"}},
		{"bad planner", []string{"select", "--model", toyModel, "--planner", "greedy"}},
		{"bad history", []string{"select", "--model", toyModel, "--history", "C:solved"}},
		{"nothing affordable", []string{"select", "--model", toyModel, "--budget", "0.5", "--planner", "myopic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseHistory(t *testing.T) {
	spec, err := model.LoadSpec(toyModel)
	require.NoError(t, err)

	h, err := parseHistory(spec, "")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())

	h, err = parseHistory(spec, "A:failed, B:partial")
	require.NoError(t, err)
	require.Equal(t, 2, h.Len())
	assert.Equal(t, 0, h.At(0).ActionIndex)
	assert.Equal(t, 1, h.At(0).OutcomeIndex)
	assert.Equal(t, 1, h.At(1).ActionIndex)
	assert.Equal(t, 2.0, h.Spent())

	for _, bad := range []string{"A", "Z:solved", "A:partial"} {
		_, err := parseHistory(spec, bad)
		assert.Error(t, err, bad)
	}
}

func TestRunAndReplay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	out, err := execute(t, "run", "--model", toyModel, "--budget", "3",
		"--sessions", "3", "--parallelism", "2", "--seed", "7", "--journal", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "sessions: 3")

	j, err := journal.Open(journal.StoreConfig{Path: dir})
	require.NoError(t, err)
	metas, err := j.Sessions(context.Background())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.Len(t, metas, 3)
	for _, m := range metas {
		assert.Equal(t, "toy", m.Model)
		assert.NotEmpty(t, m.StopReason)
	}

	out, err = execute(t, "replay", "--journal", dir)
	require.NoError(t, err)
	for _, m := range metas {
		assert.Contains(t, out, m.ID)
	}

	out, err = execute(t, "replay", "--journal", dir, metas[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "session "+metas[0].ID)
	assert.Contains(t, out, "total utility:")

	out, err = execute(t, "replay", "--journal", dir, "--json", metas[0].ID)
	require.NoError(t, err)
	var record journal.Record
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, metas[0].ID, record.Meta.ID)
	assert.NotEmpty(t, record.Entries)

	_, err = execute(t, "replay", "--journal", dir, "no-such-session")
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
}

func TestRun_Reproducible(t *testing.T) {
	args := []string{"run", "--model", toyModel, "--budget", "4", "--sessions", "2", "--seed", "11", "--planner", "myopic"}

	first, err := execute(t, args...)
	require.NoError(t, err)
	second, err := execute(t, args...)
	require.NoError(t, err)

	summaryLine := func(s string) string {
		i := bytes.Index([]byte(s), []byte("sessions:"))
		require.GreaterOrEqual(t, i, 0)
		return s[i:]
	}
	assert.Equal(t, summaryLine(first), summaryLine(second))
}
