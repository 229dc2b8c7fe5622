// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(InMemoryStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func entry(step, action, outcome int, cost, remaining float64) Entry {
	return Entry{
		Step:         step,
		ActionIndex:  action,
		Action:       fmt.Sprintf("a%d", action),
		OutcomeIndex: outcome,
		Outcome:      fmt.Sprintf("o%d", outcome),
		Utility:      float64(outcome),
		Cost:         cost,
		Remaining:    remaining,
	}
}

func TestJournal_RoundTrip(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, Meta{ID: "s1", Model: "sat", Planner: "horizon", Seed: 7, Budget: 10}))
	require.NoError(t, j.Append(ctx, "s1", entry(0, 1, 0, 3, 7)))
	require.NoError(t, j.Append(ctx, "s1", entry(1, 0, 2, 4, 3)))
	require.NoError(t, j.Finish(ctx, "s1", "budget_exhausted"))

	record, err := j.Load(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, "sat", record.Meta.Model)
	assert.Equal(t, uint64(7), record.Meta.Seed)
	assert.Equal(t, "budget_exhausted", record.Meta.StopReason)
	assert.False(t, record.Meta.StartedAt.IsZero())
	assert.False(t, record.Meta.FinishedAt.IsZero())

	require.Len(t, record.Entries, 2)
	assert.Equal(t, 0, record.Entries[0].Step)
	assert.Equal(t, "a1", record.Entries[0].Action)
	assert.Equal(t, 2, record.Entries[1].OutcomeIndex)
	assert.Equal(t, 2.0, record.TotalUtility())

	history := record.History()
	require.Equal(t, 2, history.Len())
	assert.Equal(t, planner.Step{ActionIndex: 0, OutcomeIndex: 2, Cost: 4}, history.At(1))
	assert.Equal(t, 7.0, history.Spent())
}

func TestJournal_EntriesStayInStepOrder(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, Meta{ID: "ordered"}))
	// Step 10 sorts after step 9 only with zero padding.
	for _, step := range []int{10, 2, 9, 0, 1} {
		require.NoError(t, j.Append(ctx, "ordered", entry(step, 0, 0, 1, 0)))
	}

	record, err := j.Load(ctx, "ordered")
	require.NoError(t, err)
	var steps []int
	for _, e := range record.Entries {
		steps = append(steps, e.Step)
	}
	assert.Equal(t, []int{0, 1, 2, 9, 10}, steps)
}

func TestJournal_SessionsAreIsolated(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, Meta{ID: "abc"}))
	require.NoError(t, j.Begin(ctx, Meta{ID: "abcd"}))
	require.NoError(t, j.Append(ctx, "abc", entry(0, 0, 0, 1, 0)))
	require.NoError(t, j.Append(ctx, "abcd", entry(0, 1, 1, 1, 0)))
	require.NoError(t, j.Append(ctx, "abcd", entry(1, 1, 1, 1, 0)))

	record, err := j.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Len(t, record.Entries, 1)
}

func TestJournal_Sessions(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Begin(ctx, Meta{ID: "late", StartedAt: base.Add(time.Hour)}))
	require.NoError(t, j.Begin(ctx, Meta{ID: "early", StartedAt: base}))

	metas, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "early", metas[0].ID)
	assert.Equal(t, "late", metas[1].ID)
}

func TestJournal_NotFound(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	_, err := j.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, j.Finish(ctx, "missing", "final"), ErrSessionNotFound)
	assert.ErrorIs(t, j.Delete(ctx, "missing"), ErrSessionNotFound)
}

func TestJournal_AppendRequiresBegin(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	err := j.Append(ctx, "early", entry(0, 0, 0, 1, 0))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The rejected entry must not surface once the session exists.
	require.NoError(t, j.Begin(ctx, Meta{ID: "early"}))
	record, err := j.Load(ctx, "early")
	require.NoError(t, err)
	assert.Empty(t, record.Entries)
}

func TestMeta_FinishedAtOmittedUntilFinished(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, Meta{ID: "s"}))
	record, err := j.Load(ctx, "s")
	require.NoError(t, err)
	data, err := json.Marshal(record.Meta)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "finished_at")

	require.NoError(t, j.Finish(ctx, "s", "final"))
	record, err = j.Load(ctx, "s")
	require.NoError(t, err)
	assert.False(t, record.Meta.FinishedAt.IsZero())
	data, err = json.Marshal(record.Meta)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"finished_at"`)
}

func TestJournal_InvalidSessionID(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	assert.ErrorIs(t, j.Begin(ctx, Meta{}), ErrInvalidSession)
	assert.ErrorIs(t, j.Append(ctx, "a/b", Entry{}), ErrInvalidSession)
	_, err := j.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestJournal_Delete(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, j.Begin(ctx, Meta{ID: "gone"}))
	require.NoError(t, j.Append(ctx, "gone", entry(0, 0, 0, 1, 0)))
	require.NoError(t, j.Begin(ctx, Meta{ID: "kept"}))

	require.NoError(t, j.Delete(ctx, "gone"))

	_, err := j.Load(ctx, "gone")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	metas, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "kept", metas[0].ID)
}

func TestJournal_CancelledContext(t *testing.T) {
	j := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := j.Begin(ctx, Meta{ID: "s"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJournal_Closed(t *testing.T) {
	j, err := Open(InMemoryStoreConfig())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Begin(context.Background(), Meta{ID: "s"}), ErrClosed)
	_, err = j.Sessions(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJournal_ConcurrentSessions(t *testing.T) {
	j := openInMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", s)
			assert.NoError(t, j.Begin(ctx, Meta{ID: id}))
			for step := 0; step < 5; step++ {
				assert.NoError(t, j.Append(ctx, id, entry(step, s%3, 0, 1, 0)))
			}
		}(s)
	}
	wg.Wait()

	metas, err := j.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 8)
	for _, m := range metas {
		record, err := j.Load(ctx, m.ID)
		require.NoError(t, err)
		assert.Len(t, record.Entries, 5)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(StoreConfig{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultStoreConfig(dir)
	cfg.GCInterval = time.Hour
	j, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, j.Begin(ctx, Meta{ID: "durable", Budget: 5}))
	require.NoError(t, j.Append(ctx, "durable", entry(0, 0, 1, 2, 3)))
	require.NoError(t, j.Close())

	j2, err := Open(cfg)
	require.NoError(t, err)
	defer j2.Close()

	record, err := j2.Load(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, 5.0, record.Meta.Budget)
	require.Len(t, record.Entries, 1)
	assert.Equal(t, 3.0, record.Entries[0].Remaining)
}

func TestOpen_RejectsBadGCRatio(t *testing.T) {
	cfg := DefaultStoreConfig(t.TempDir())
	cfg.GCDiscardRatio = 1.5
	_, err := Open(cfg)
	assert.Error(t, err)
}
