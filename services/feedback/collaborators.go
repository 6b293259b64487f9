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
	"context"
	"fmt"
)

// Detector maps an artifact identifier to codec metadata.
//
// Implementations that cannot reach a backing detector return an error
// wrapping ErrDetectionUnavailable.
type Detector interface {
	Detect(ctx context.Context, artifactID string) (DetectionResult, error)
}

// Generator proposes a perturbation conditioned on codec metadata and the
// feedback hint carried from the previous iteration.
//
// priorFeedback is nil on the first iteration. Deterministic implementations
// must be a pure function of (artifactID, priorFeedback). Unreachable
// strategy sources return an error wrapping ErrGenerationUnavailable.
type Generator interface {
	Generate(ctx context.Context, artifactID string, detection DetectionResult, priorFeedback *string) (Instruction, error)
}

// Applier performs (or simulates) a perturbation.
//
// Application errors wrap ErrApplicationFailed or ErrApplicationPartial.
// Returning Applied == false without an error is treated as partial.
type Applier interface {
	Apply(ctx context.Context, artifactID string, instruction Instruction) (ApplicationMetadata, error)
}

// Verifier checks whether the transformed artifact still satisfies the
// target invariant.
//
// A "not verified" verdict is a successful call with Passed == false.
// Only an unreachable verifier returns ErrVerificationUnavailable.
type Verifier interface {
	Verify(ctx context.Context, artifactID string, metadata ApplicationMetadata) (VerificationResult, error)
}

// Collaborators is the set of components a Controller drives.
type Collaborators struct {
	Detector  Detector
	Generator Generator
	Applier   Applier
	Verifier  Verifier
}

func (c Collaborators) validate() error {
	switch {
	case c.Detector == nil:
		return fmt.Errorf("%w: %s", ErrMissingCollaborator, ComponentDetector)
	case c.Generator == nil:
		return fmt.Errorf("%w: %s", ErrMissingCollaborator, ComponentGenerator)
	case c.Applier == nil:
		return fmt.Errorf("%w: %s", ErrMissingCollaborator, ComponentApplier)
	case c.Verifier == nil:
		return fmt.Errorf("%w: %s", ErrMissingCollaborator, ComponentVerifier)
	}
	return nil
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, artifactID string) (DetectionResult, error)

func (f DetectorFunc) Detect(ctx context.Context, artifactID string) (DetectionResult, error) {
	return f(ctx, artifactID)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, artifactID string, detection DetectionResult, priorFeedback *string) (Instruction, error)

func (f GeneratorFunc) Generate(ctx context.Context, artifactID string, detection DetectionResult, priorFeedback *string) (Instruction, error) {
	return f(ctx, artifactID, detection, priorFeedback)
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, artifactID string, instruction Instruction) (ApplicationMetadata, error)

func (f ApplierFunc) Apply(ctx context.Context, artifactID string, instruction Instruction) (ApplicationMetadata, error) {
	return f(ctx, artifactID, instruction)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, artifactID string, metadata ApplicationMetadata) (VerificationResult, error)

func (f VerifierFunc) Verify(ctx context.Context, artifactID string, metadata ApplicationMetadata) (VerificationResult, error) {
	return f(ctx, artifactID, metadata)
}
