// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/codecloop/services/feedback"
)

const (
	// DefaultPassThreshold is the confidence a verdict must strictly exceed.
	DefaultPassThreshold = 0.75

	// DefaultMinConfidence is the lower bound of the confidence draw.
	DefaultMinConfidence = 0.30

	// DefaultMaxConfidence is the upper bound of the confidence draw.
	DefaultMaxConfidence = 0.99

	// RationalePass is reported for a passing verdict.
	RationalePass = "PASS: Voiceprint matches expected speaker."

	// RationaleFail is reported for a failing verdict.
	RationaleFail = "FAIL: Perturbation distorted key biometric cues."
)

// ErrInvalidVerifierConfig indicates out-of-range verifier thresholds.
var ErrInvalidVerifierConfig = errors.New("invalid verifier config")

var verifierValidate = validator.New()

// VerifierConfig holds the stub verifier knobs. PassThreshold is separate
// from the loop's target confidence.
type VerifierConfig struct {
	PassThreshold float64 `json:"pass_threshold" yaml:"pass_threshold" validate:"gte=0,lte=1"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=1"`
	MaxConfidence float64 `json:"max_confidence" yaml:"max_confidence" validate:"gte=0,lte=1,gtfield=MinConfidence"`
}

// DefaultVerifierConfig returns 0.75 / 0.30 / 0.99.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		PassThreshold: DefaultPassThreshold,
		MinConfidence: DefaultMinConfidence,
		MaxConfidence: DefaultMaxConfidence,
	}
}

// Validate checks the thresholds.
func (c VerifierConfig) Validate() error {
	if err := verifierValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidVerifierConfig, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, err)
	}
	return nil
}

// Verifier simulates a speaker verification system.
//
// The verdict is seeded by (artifact id, technique, mix_db). mix_db is the
// distinguishing numeric parameter, so the outcome moves when the generator
// switches strategy.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier creates a verifier with validated thresholds.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg}, nil
}

// Config returns the verifier thresholds.
func (v *Verifier) Config() VerifierConfig {
	return v.cfg
}

// Verify never fails.
func (v *Verifier) Verify(_ context.Context, artifactID string, metadata feedback.ApplicationMetadata) (feedback.VerificationResult, error) {
	rng := NewRand(Seed(artifactID, metadata.Technique, metadata.Parameters["mix_db"]))
	confidence := v.cfg.MinConfidence + rng.Float64()*(v.cfg.MaxConfidence-v.cfg.MinConfidence)
	passed := confidence > v.cfg.PassThreshold

	rationale := RationaleFail
	if passed {
		rationale = RationalePass
	}
	return feedback.VerificationResult{
		Passed:     passed,
		Confidence: confidence,
		Rationale:  rationale,
	}, nil
}
