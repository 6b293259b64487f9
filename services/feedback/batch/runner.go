// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch runs independent feedback loops over many artifacts.
//
// Runs share no mutable state. A failure in one run is recorded in that
// run's Result and never cancels the others; only cancellation of the
// parent context stops the batch.
package batch

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

// DefaultParallel is the worker count when none is configured.
const DefaultParallel = 4

// ErrNoLooper is returned when a Runner has no loop to drive.
var ErrNoLooper = errors.New("batch: looper is required")

// Looper executes one feedback loop. *feedback.Controller satisfies it.
type Looper interface {
	Run(ctx context.Context, artifactID string, cfg feedback.Config) (feedback.RunSummary, error)
}

// Result is the outcome for one artifact.
type Result struct {
	ArtifactID string
	Summary    feedback.RunSummary
	Err        error

	// RunID is the stored record ID. Empty without a store, for runs
	// rejected before the loop started, or when saving failed.
	RunID string

	// StoreErr is set when persisting the run failed.
	StoreErr error
}

// Stats aggregates terminal states across a batch.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Exhausted int `json:"exhausted"`
	Failed    int `json:"failed"`
	Rejected  int `json:"rejected"`
}

// Runner drives a batch.
type Runner struct {
	// Looper runs each artifact. Required.
	Looper Looper

	// Config is applied to every run.
	Config feedback.Config

	// Parallel caps concurrent runs. <= 0 means DefaultParallel.
	Parallel int

	// Store, when set, receives a record for every run that reached the loop.
	Store runstore.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Run executes one loop per id and returns results in input order.
//
// Outputs:
//
//	[]Result - One result per id, index-aligned with ids.
//	error - ErrNoLooper, or the parent context's error if it was canceled.
//	  Per-run failures are reported in the results, not here.
func (r *Runner) Run(ctx context.Context, ids []string) ([]Result, error) {
	if r.Looper == nil {
		return nil, ErrNoLooper
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallel := r.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	results := make([]Result, len(ids))

	// Workers return nil so one failed run never cancels its siblings.
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = r.runOne(ctx, logger, id)
			return nil
		})
	}
	_ = g.Wait()

	stats := Summarize(results)
	logger.Info("Batch finished",
		slog.Int("total", stats.Total),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("exhausted", stats.Exhausted),
		slog.Int("failed", stats.Failed),
		slog.Int("rejected", stats.Rejected),
	)
	return results, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, logger *slog.Logger, id string) Result {
	res := Result{ArtifactID: id}
	res.Summary, res.Err = r.Looper.Run(ctx, id, r.Config)

	if r.Store == nil || !res.Summary.State().IsTerminal() {
		return res
	}
	rec, err := runstore.NewRecord(res.Summary, res.Err)
	if err == nil {
		err = r.Store.Save(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		logger.Warn("Failed to store run",
			slog.String("artifact_id", id),
			slog.String("error", err.Error()),
		)
		res.StoreErr = err
		return res
	}
	res.RunID = rec.ID
	return res
}

// Summarize counts results by outcome.
func Summarize(results []Result) Stats {
	s := Stats{Total: len(results)}
	for _, res := range results {
		switch res.Summary.State() {
		case feedback.StateSucceeded:
			s.Succeeded++
		case feedback.StateExhausted:
			s.Exhausted++
		case feedback.StateFailed:
			s.Failed++
		default:
			s.Rejected++
		}
	}
	return s
}
