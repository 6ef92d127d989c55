// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists per-step recognition snapshots in BadgerDB.
//
// Each observed action produces one Entry keyed by session and step, so a
// session can be replayed in order after the recognizer has gone away.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const keyPrefix = "goalrec/"

var tracer = otel.Tracer("goalrec.journal")

// Config configures the journal store.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory keeps all data in memory. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every append.
	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables GC.
	// Ignored for in-memory stores.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives journal events. Defaults to slog.Default().
	Logger *slog.Logger

	// StoreLogger receives badger's internal logging. Nil silences it.
	StoreLogger *slog.Logger
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests and ephemeral sessions.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path is required for persistent journal", ErrInvalidConfig)
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("%w: gc interval must not be negative", ErrInvalidConfig)
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		return fmt.Errorf("%w: gc discard ratio must be between 0 and 1", ErrInvalidConfig)
	}
	return nil
}

// Entry is the snapshot written after one observed action.
type Entry struct {
	SessionID     string             `json:"session_id"`
	Step          int                `json:"step"`
	Action        string             `json:"action"`
	Timestamp     time.Time          `json:"timestamp"`
	Nearer        []string           `json:"nearer,omitempty"`
	Further       []string           `json:"further,omitempty"`
	Pruned        []string           `json:"pruned,omitempty"`
	Hypothesis    []string           `json:"hypothesis,omitempty"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Journal is an append-only store of Entry records.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
	closed atomic.Bool
	once   sync.Once
}

// Open opens a journal.
//
// Description:
//
//	Validates cfg, opens the badger store and starts value log GC when
//	configured for a persistent store.
//
// Inputs:
//
//	cfg - Journal configuration. Must pass Validate().
//
// Outputs:
//
//	*Journal - The open journal. Caller must Close it.
//	error - Non-nil if the configuration is invalid or the store cannot open.
func Open(cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "journal"))

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		j.gc.start()
	}

	logger.Info("journal opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Bool("sync_writes", cfg.SyncWrites))
	return j, nil
}

func sessionPrefix(session string) []byte {
	return []byte(keyPrefix + session + "/")
}

func entryKey(session string, step int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", keyPrefix, session, step))
}

// Append writes e. Writing the same session and step twice overwrites.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if e.SessionID == "" || strings.Contains(e.SessionID, "/") {
		return fmt.Errorf("%w: session id %q", ErrInvalidConfig, e.SessionID)
	}

	_, span := tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("session_id", e.SessionID),
			attribute.Int("step", e.Step),
		),
	)
	defer span.End()

	data, err := json.Marshal(e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("encode entry: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.SessionID, e.Step), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write entry: %w", err)
	}

	j.logger.Debug("entry appended",
		slog.String("session_id", e.SessionID),
		slog.Int("step", e.Step),
		slog.Int("bytes", len(data)))
	return nil
}

// Entries returns every entry of session in step order.
func (j *Journal) Entries(ctx context.Context, session string) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrJournalClosed
	}

	ctx, span := tracer.Start(ctx, "journal.entries",
		trace.WithAttributes(attribute.String("session_id", session)))
	defer span.End()

	prefix := sessionPrefix(session)
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("%w: key %s: %v", ErrCorruptEntry, item.Key(), err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("entry_count", len(entries)))
	return entries, nil
}

// Sessions lists the session ids with at least one entry, sorted.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	if j.closed.Load() {
		return nil, ErrJournalClosed
	}

	var sessions []string
	prefix := []byte(keyPrefix)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rest := it.Item().Key()[len(prefix):]
			i := bytes.IndexByte(rest, '/')
			if i <= 0 {
				continue
			}
			id := string(rest[:i])
			if n := len(sessions); n == 0 || sessions[n-1] != id {
				sessions = append(sessions, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(sessions)
	return sessions, nil
}

// Close stops GC and closes the store. Safe to call more than once.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.closed.Store(true)
		if j.gc != nil {
			j.gc.stop()
		}
		err = j.db.Close()
		j.logger.Info("journal closed")
	})
	return err
}
