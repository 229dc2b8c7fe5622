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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/dgraph-io/badger/v4"
)

// Sentinel errors for the journal package.
var (
	ErrPathRequired    = errors.New("path is required for a persistent journal")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSession  = errors.New("session id must be non-empty and must not contain '/'")
	ErrClosed          = errors.New("journal is closed")
)

const (
	metaPrefix    = "meta/"
	sessionPrefix = "session/"
)

// Meta describes one recorded session.
type Meta struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Planner    string    `json:"planner"`
	Seed       uint64    `json:"seed"`
	Budget     float64   `json:"budget"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	StopReason string    `json:"stop_reason,omitempty"`
}

// Entry is one executed step of a session.
type Entry struct {
	Step         int       `json:"step"`
	ActionIndex  int       `json:"action_index"`
	Action       string    `json:"action"`
	OutcomeIndex int       `json:"outcome_index"`
	Outcome      string    `json:"outcome"`
	Utility      float64   `json:"utility"`
	Cost         float64   `json:"cost"`
	Remaining    float64   `json:"remaining"`
	Timestamp    time.Time `json:"timestamp"`
}

// Record is a session's metadata and its entries in step order.
type Record struct {
	Meta    Meta    `json:"meta"`
	Entries []Entry `json:"entries"`
}

// History rebuilds the planner history from the record's entries.
func (r *Record) History() planner.History {
	steps := make([]planner.Step, len(r.Entries))
	for i, e := range r.Entries {
		steps[i] = planner.Step{ActionIndex: e.ActionIndex, OutcomeIndex: e.OutcomeIndex, Cost: e.Cost}
	}
	return planner.NewHistory(steps...)
}

// TotalUtility sums the utility of every recorded outcome.
func (r *Record) TotalUtility() float64 {
	total := 0.0
	for _, e := range r.Entries {
		total += e.Utility
	}
	return total
}

// Journal is a session log backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use. Sessions written from different
// goroutines must use different ids.
type Journal struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens a journal and starts value log GC when configured.
//
// Inputs:
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//   - *Journal: The journal. Caller must call Close() when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg StoreConfig) (*Journal, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, logger: logger.With(slog.String("component", "journal"))}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create journal GC runner: %w", err)
		}
		j.gc = runner
		runner.start()
	}
	return j, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.gc != nil {
		j.gc.stop()
	}
	return j.db.Close()
}

// Begin records the start of a session.
func (j *Journal) Begin(ctx context.Context, meta Meta) error {
	if err := validSessionID(meta.ID); err != nil {
		return err
	}
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now().UTC()
	}
	if err := j.putJSON(ctx, metaKey(meta.ID), meta); err != nil {
		return fmt.Errorf("begin session %s: %w", meta.ID, err)
	}
	j.logger.Debug("session started", slog.String("session_id", meta.ID), slog.Float64("budget", meta.Budget))
	return nil
}

// Append writes one step of a session.
func (j *Journal) Append(ctx context.Context, sessionID string, entry Entry) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := j.checkOpen(); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("append step %d of session %s: marshal: %w", entry.Step, sessionID, err)
	}

	// Entries are only written under a begun session so Load and Delete can reach them.
	err = update(ctx, j.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(sessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		return txn.Set(entryKey(sessionID, entry.Step), data)
	})
	if err != nil {
		return fmt.Errorf("append step %d of session %s: %w", entry.Step, sessionID, err)
	}
	return nil
}

// Finish stamps the session's stop reason and end time.
func (j *Journal) Finish(ctx context.Context, sessionID string, reason string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := j.checkOpen(); err != nil {
		return err
	}
	err := update(ctx, j.db, func(txn *badger.Txn) error {
		var meta Meta
		if err := getJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}
		meta.FinishedAt = time.Now().UTC()
		meta.StopReason = reason
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal session meta: %w", err)
		}
		return txn.Set(metaKey(sessionID), data)
	})
	if err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	j.logger.Debug("session finished", slog.String("session_id", sessionID), slog.String("reason", reason))
	return nil
}

// Load reads a session and its entries in step order.
func (j *Journal) Load(ctx context.Context, sessionID string) (*Record, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	record := &Record{}
	err := view(ctx, j.db, func(txn *badger.Txn) error {
		if err := getJSON(txn, metaKey(sessionID), &record.Meta); err != nil {
			return err
		}

		prefix := []byte(sessionPrefix + sessionID + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			record.Entries = append(record.Entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return record, nil
}

// Sessions lists the metadata of every recorded session, oldest first.
func (j *Journal) Sessions(ctx context.Context) ([]Meta, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	var metas []Meta
	err := view(ctx, j.db, func(txn *badger.Txn) error {
		prefix := []byte(metaPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var meta Meta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			metas = append(metas, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.SliceStable(metas, func(a, b int) bool {
		if metas[a].StartedAt.Equal(metas[b].StartedAt) {
			return metas[a].ID < metas[b].ID
		}
		return metas[a].StartedAt.Before(metas[b].StartedAt)
	})
	return metas, nil
}

// Delete removes a session and all of its entries.
func (j *Journal) Delete(ctx context.Context, sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := j.checkOpen(); err != nil {
		return err
	}

	var keys [][]byte
	err := view(ctx, j.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(sessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		prefix := []byte(sessionPrefix + sessionID + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, bytes.Clone(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range append(keys, metaKey(sessionID)) {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (j *Journal) putJSON(ctx context.Context, key []byte, v any) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return update(ctx, j.db, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (j *Journal) checkOpen() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func validSessionID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return ErrInvalidSession
	}
	return nil
}

func metaKey(sessionID string) []byte {
	return []byte(metaPrefix + sessionID)
}

func entryKey(sessionID string, step int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", sessionPrefix, sessionID, step))
}
