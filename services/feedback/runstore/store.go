// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore persists finished feedback loop runs.
//
// A RunRecord carries the canonical summary document together with the
// loop state, the abort error (if any) and a content digest. Two stores are
// provided: MemoryStore for tests and single-process use, and BadgerStore
// for durable local storage.
//
// Record IDs are UUIDv7, so lexical order is creation order and both
// stores list newest first.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/codecloop/services/feedback"
)

var (
	// ErrNotFound is returned when a run ID is not in the store.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidRecord is returned when saving a record missing required fields.
	ErrInvalidRecord = errors.New("invalid run record")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 50

// RunRecord is one stored run.
type RunRecord struct {
	// ID is the record identifier (UUIDv7).
	ID string `json:"id"`

	// ArtifactID is the artifact the run was executed against.
	ArtifactID string `json:"artifact_id"`

	// State is the terminal loop state.
	State feedback.RunState `json:"state"`

	// Success mirrors the summary's success flag.
	Success bool `json:"success"`

	// Steps is the number of completed steps.
	Steps int `json:"steps"`

	// Error is set when the run aborted.
	Error *feedback.RunError `json:"error,omitempty"`

	// Digest is the hex SHA-256 of Summary.
	Digest string `json:"digest"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// Summary is the canonical summary document.
	Summary json.RawMessage `json:"summary"`
}

// NewRecord builds a record from a finished run.
//
// Inputs:
//
//	summary - The summary returned by Controller.Run.
//	runErr - The error returned by Controller.Run, nil on a clean finish.
//
// Outputs:
//
//	RunRecord - The record with a fresh ID and timestamp.
//	error - Non-nil if the summary cannot be encoded.
func NewRecord(summary feedback.RunSummary, runErr error) (RunRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return RunRecord{}, fmt.Errorf("generate run id: %w", err)
	}
	doc, err := feedback.Encode(summary)
	if err != nil {
		return RunRecord{}, err
	}
	digest, err := feedback.Digest(summary)
	if err != nil {
		return RunRecord{}, err
	}
	return RunRecord{
		ID:         id.String(),
		ArtifactID: summary.ArtifactID(),
		State:      summary.State(),
		Success:    summary.Success(),
		Steps:      summary.Len(),
		Error:      feedback.NewRunError(runErr),
		Digest:     digest,
		CreatedAt:  time.Now().UTC(),
		Summary:    doc,
	}, nil
}

// DecodeSummary parses the stored document. The document does not carry
// the loop state, so the returned summary's State is derived; r.State is
// the recorded one.
func (r RunRecord) DecodeSummary() (feedback.RunSummary, error) {
	s, err := feedback.ParseSummary(r.Summary)
	if err != nil {
		return feedback.RunSummary{}, fmt.Errorf("decode run %s: %w", r.ID, err)
	}
	return s, nil
}

func (r RunRecord) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	case r.ArtifactID == "":
		return fmt.Errorf("%w: artifact_id is required", ErrInvalidRecord)
	case !r.State.IsTerminal():
		return fmt.Errorf("%w: state %q is not terminal", ErrInvalidRecord, r.State)
	}
	return nil
}

// Store persists run records.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, rec RunRecord) error

	// Get returns the record with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (RunRecord, error)

	// List returns up to limit records, newest first. limit <= 0 means
	// DefaultListLimit.
	List(ctx context.Context, limit int) ([]RunRecord, error)

	// ListByArtifact is List restricted to one artifact.
	ListByArtifact(ctx context.Context, artifactID string, limit int) ([]RunRecord, error)

	// Close releases resources.
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
