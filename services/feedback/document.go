// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ErrMalformedDocument indicates a summary document that cannot be read back.
var ErrMalformedDocument = errors.New("malformed summary document")

// summaryDocument is the wire form of a RunSummary. The loop state is not
// part of the document.
type summaryDocument struct {
	ArtifactID string     `json:"artifact_id"`
	Success    bool       `json:"success"`
	Steps      []LoopStep `json:"steps"`
}

// MarshalJSON encodes the summary as {artifact_id, success, steps}.
// Steps is always an array, never null.
func (s RunSummary) MarshalJSON() ([]byte, error) {
	steps := s.steps
	if steps == nil {
		steps = []LoopStep{}
	}
	return json.Marshal(summaryDocument{
		ArtifactID: s.artifactID,
		Success:    s.success,
		Steps:      steps,
	})
}

// Encode renders the summary as RFC 8785 canonical JSON.
//
// Description:
//
//	Two summaries with equal content encode to identical bytes regardless
//	of map iteration order, which makes the output suitable for digests and
//	byte-for-byte determinism checks.
func Encode(s RunSummary) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize summary: %w", err)
	}
	return canonical, nil
}

// Digest returns the hex SHA-256 of the canonical encoding.
func Digest(s RunSummary) (string, error) {
	doc, err := Encode(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

// ParseSummary reads a summary document back.
//
// Description:
//
//	The document does not carry the loop state, so it is derived: a
//	successful document is SUCCEEDED and any other is EXHAUSTED. Callers
//	that persisted the state separately should prefer the stored value.
//	Step numbering must be contiguous from 1 and every confidence must lie
//	in [0,1].
//
// Outputs:
//
//	RunSummary - The decoded summary.
//	error - Wraps ErrMalformedDocument on decode or consistency failures.
func ParseSummary(doc []byte) (RunSummary, error) {
	var d summaryDocument
	if err := json.Unmarshal(doc, &d); err != nil {
		return RunSummary{}, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if d.ArtifactID == "" {
		return RunSummary{}, fmt.Errorf("%w: missing artifact_id", ErrMalformedDocument)
	}
	for i, step := range d.Steps {
		if step.Iteration != i+1 {
			return RunSummary{}, fmt.Errorf("%w: step %d has iteration %d", ErrMalformedDocument, i, step.Iteration)
		}
		if err := checkConfidence(step.Verification.Confidence); err != nil {
			return RunSummary{}, fmt.Errorf("%w: step %d: %w", ErrMalformedDocument, i, err)
		}
	}
	if d.Success {
		last := len(d.Steps) - 1
		if last < 0 || !d.Steps[last].Verification.Passed {
			return RunSummary{}, fmt.Errorf("%w: success without a passing final step", ErrMalformedDocument)
		}
	}

	state := StateExhausted
	if d.Success {
		state = StateSucceeded
	}
	steps := d.Steps
	if steps == nil {
		steps = []LoopStep{}
	}
	return RunSummary{
		artifactID: d.ArtifactID,
		success:    d.Success,
		state:      state,
		steps:      steps,
	}, nil
}
