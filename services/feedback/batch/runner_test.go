// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
	"github.com/AleutianAI/codecloop/services/feedback/stub"
)

func stubController(t *testing.T, mutate func(*feedback.Collaborators)) *feedback.Controller {
	t.Helper()
	collab, err := stub.Collaborators(stub.DefaultVerifierConfig())
	require.NoError(t, err)
	if mutate != nil {
		mutate(&collab)
	}
	c, err := feedback.NewController(collab)
	require.NoError(t, err)
	return c
}

func TestRunner_RequiresLooper(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), []string{"a.wav"})
	assert.ErrorIs(t, err, ErrNoLooper)
}

func TestRunner_InputOrderAndIndependence(t *testing.T) {
	c := stubController(t, nil)
	ids := []string{"a.wav", "b.mp3", "c.flac", "d.m4a", "e.ogg", "f"}

	r := &Runner{Looper: c, Config: feedback.DefaultConfig(), Parallel: 3}
	results, err := r.Run(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, results, len(ids))

	for i, res := range results {
		assert.Equal(t, ids[i], res.ArtifactID)
		require.NoError(t, res.Err)

		solo, err := c.Run(context.Background(), ids[i], feedback.DefaultConfig())
		require.NoError(t, err)
		want, err := feedback.Encode(solo)
		require.NoError(t, err)
		got, err := feedback.Encode(res.Summary)
		require.NoError(t, err)
		assert.Equal(t, want, got, "batch run of %s must match a solo run", ids[i])
	}
}

func TestRunner_FailureDoesNotCancelSiblings(t *testing.T) {
	c := stubController(t, func(collab *feedback.Collaborators) {
		inner := collab.Detector
		collab.Detector = feedback.DetectorFunc(func(ctx context.Context, id string) (feedback.DetectionResult, error) {
			if id == "bad.wav" {
				return feedback.DetectionResult{}, feedback.ErrDetectionUnavailable
			}
			return inner.Detect(ctx, id)
		})
	})

	store := runstore.NewMemoryStore()
	r := &Runner{Looper: c, Config: feedback.DefaultConfig(), Parallel: 2, Store: store}
	results, err := r.Run(context.Background(), []string{"a.wav", "bad.wav", "b.wav", ""})
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, feedback.ErrDetectionUnavailable)
	assert.NoError(t, results[2].Err)
	assert.ErrorIs(t, results[3].Err, feedback.ErrConfiguration)

	assert.NotEmpty(t, results[0].RunID)
	assert.NotEmpty(t, results[1].RunID, "aborted runs are stored")
	assert.Empty(t, results[3].RunID, "rejected runs are not stored")
	assert.Equal(t, 3, store.Len())

	rec, err := store.Get(context.Background(), results[1].RunID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StateFailed, rec.State)
	require.NotNil(t, rec.Error)
	assert.Equal(t, feedback.CodeDetectionUnavailable, rec.Error.Code)

	stats := Summarize(results)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, stats.Succeeded+stats.Exhausted)
}

func TestRunner_ParallelLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := stubController(t, func(collab *feedback.Collaborators) {
		inner := collab.Detector
		collab.Detector = feedback.DetectorFunc(func(ctx context.Context, id string) (feedback.DetectionResult, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			return inner.Detect(ctx, id)
		})
	})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = "x" + string(rune('a'+i)) + ".wav"
	}
	r := &Runner{Looper: c, Config: feedback.DefaultConfig(), Parallel: 2}
	_, err := r.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunner_CanceledParent(t *testing.T) {
	c := stubController(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := (&Runner{Looper: c, Config: feedback.DefaultConfig()}).Run(ctx, []string{"a.wav", "b.wav"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, feedback.ErrCanceled)
	}
}

type failingStore struct{ runstore.Store }

func (failingStore) Save(context.Context, runstore.RunRecord) error {
	return errors.New("disk full")
}

func TestRunner_StoreFailureIsReported(t *testing.T) {
	c := stubController(t, nil)
	r := &Runner{Looper: c, Config: feedback.DefaultConfig(), Store: failingStore{}}
	results, err := r.Run(context.Background(), []string{"a.wav"})
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[0].StoreErr, "disk full")
	assert.Empty(t, results[0].RunID)
}
