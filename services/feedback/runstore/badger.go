// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	runPrefix      = "run/"
	artifactPrefix = "artifact/"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `json:"path" yaml:"path"`

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `json:"gc_discard_ratio" yaml:"gc_discard_ratio"`

	// Logger receives BadgerDB's internal log output. Nil silences it.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultBadgerConfig returns durable defaults for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a test configuration.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a Store backed by BadgerDB.
//
// Layout:
//
//	run/<id>                 -> JSON RunRecord
//	artifact/<artifact>/<id> -> empty (secondary index)
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// OpenBadger opens (or creates) a BadgerStore.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close it.
//	error - Non-nil if the path is missing or the database cannot be opened.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("runstore: path is required for a persistent store")
	}
	if cfg.GCDiscardRatio < 0 || cfg.GCDiscardRatio > 1 {
		return nil, fmt.Errorf("runstore: gc discard ratio %v outside [0,1]", cfg.GCDiscardRatio)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("Run store value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// artifactIndexPrefix escapes the artifact id so ids containing "/" cannot
// collide with another artifact's prefix.
func artifactIndexPrefix(artifactID string) string {
	return artifactPrefix + url.PathEscape(artifactID) + "/"
}

func artifactKey(artifactID, id string) []byte {
	return []byte(artifactIndexPrefix(artifactID) + id)
}

func (s *BadgerStore) Save(ctx context.Context, rec RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		// Drop a stale index entry if the record moved artifacts.
		if item, err := txn.Get(runKey(rec.ID)); err == nil {
			var prev RunRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err != nil {
				return err
			}
			if prev.ArtifactID != rec.ArtifactID {
				if err := txn.Delete(artifactKey(prev.ArtifactID, rec.ID)); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(runKey(rec.ID), val); err != nil {
			return err
		}
		return txn.Set(artifactKey(rec.ArtifactID, rec.ID), nil)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return RunRecord{}, err
	}
	var rec RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, id, &rec)
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return RunRecord{}, ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return RunRecord{}, ErrClosed
	case err != nil:
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

func getRecord(txn *badger.Txn, id string, rec *RunRecord) error {
	item, err := txn.Get(runKey(id))
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, rec)
	})
}

func (s *BadgerStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	limit = normalizeLimit(limit)
	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return scanReverse(ctx, txn, []byte(runPrefix), func(item *badger.Item) (bool, error) {
			var rec RunRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return false, err
			}
			out = append(out, rec)
			return len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, wrapListErr(err)
	}
	return out, nil
}

func (s *BadgerStore) ListByArtifact(ctx context.Context, artifactID string, limit int) ([]RunRecord, error) {
	limit = normalizeLimit(limit)
	prefix := []byte(artifactIndexPrefix(artifactID))
	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return scanReverse(ctx, txn, prefix, func(item *badger.Item) (bool, error) {
			id := string(item.Key()[len(prefix):])
			var rec RunRecord
			if err := getRecord(txn, id, &rec); err != nil {
				return false, err
			}
			out = append(out, rec)
			return len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, wrapListErr(err)
	}
	return out, nil
}

// scanReverse visits keys under prefix from largest to smallest until fn
// returns false.
func scanReverse(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(*badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := fn(it.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func wrapListErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("list runs: %w", err)
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
