// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/stub"
)

var extensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ""}

func artifactName(base string, ext int) string {
	return "p-" + base + extensions[ext%len(extensions)]
}

// Property: Run(id, cfg) produces byte-identical documents across calls.
func TestProperty_RunIsDeterministic(t *testing.T) {
	c := stubController(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated runs encode identically", prop.ForAll(
		func(base string, ext int, maxIter int, target float64) bool {
			id := artifactName(base, ext)
			cfg := feedback.Config{MaxIterations: maxIter, TargetConfidence: target}
			a, errA := c.Run(context.Background(), id, cfg)
			b, errB := c.Run(context.Background(), id, cfg)
			if errA != nil || errB != nil {
				return false
			}
			docA, errA := feedback.Encode(a)
			docB, errB := feedback.Encode(b)
			return errA == nil && errB == nil && bytes.Equal(docA, docB)
		},
		gen.AlphaString(),
		gen.IntRange(0, 5),
		gen.IntRange(1, 8),
		gen.Float64Range(0.01, 1),
	))

	properties.TestingRun(t)
}

// Property: step count is in [1, max], numbering is contiguous, success
// holds exactly when the final step qualifies, and a run that did not
// succeed used its whole budget.
func TestProperty_TerminationInvariants(t *testing.T) {
	c := stubController(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bounded, contiguous, success iff final step qualifies", prop.ForAll(
		func(base string, ext int, maxIter int, target float64) bool {
			cfg := feedback.Config{MaxIterations: maxIter, TargetConfidence: target}
			s, err := c.Run(context.Background(), artifactName(base, ext), cfg)
			if err != nil {
				return false
			}
			steps := s.Steps()
			if len(steps) < 1 || len(steps) > maxIter {
				return false
			}
			for i, step := range steps {
				if step.Iteration != i+1 {
					return false
				}
				if i < len(steps)-1 && step.Verification.Passed && step.Verification.Confidence >= target {
					return false
				}
			}
			last := steps[len(steps)-1].Verification
			qualifies := last.Passed && last.Confidence >= target
			if s.Success() != qualifies {
				return false
			}
			return s.Success() || len(steps) == maxIter
		},
		gen.AlphaString(),
		gen.IntRange(0, 5),
		gen.IntRange(1, 8),
		gen.Float64Range(0.01, 1),
	))

	properties.TestingRun(t)
}

// Property: iteration k>1 was generated with the hint derived from step k-1.
func TestProperty_FeedbackPropagates(t *testing.T) {
	stubs, err := stub.Collaborators(stub.DefaultVerifierConfig())
	if err != nil {
		t.Fatal(err)
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hint carried from previous verdict", prop.ForAll(
		func(base string, ext int, maxIter int) bool {
			c, err := feedback.NewController(stubs)
			if err != nil {
				return false
			}
			// A target of 1 is never reached by the stub range, so every run
			// spends its full budget.
			cfg := feedback.Config{MaxIterations: maxIter, TargetConfidence: 1}
			s, err := c.Run(context.Background(), artifactName(base, ext), cfg)
			if err != nil || s.Len() != maxIter {
				return false
			}
			steps := s.Steps()
			if steps[0].Perturbation.Parameters["feedback_hint"] != stub.NoFeedbackSentinel {
				return false
			}
			for i := 1; i < len(steps); i++ {
				if steps[i].Perturbation.Parameters["feedback_hint"] != feedback.NextHint(steps[i-1].Verification) {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.IntRange(0, 5),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

// Property: the verifier verdict is exactly confidence > threshold, with
// confidence inside the configured range.
func TestProperty_VerifierThreshold(t *testing.T) {
	cfg := stub.DefaultVerifierConfig()
	v, err := stub.NewVerifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("passed iff confidence exceeds threshold", prop.ForAll(
		func(id, technique string, mix int) bool {
			meta := feedback.ApplicationMetadata{
				Technique:  technique,
				Parameters: map[string]string{"mix_db": string(rune('0' + mix%10))},
			}
			res, err := v.Verify(context.Background(), id, meta)
			if err != nil {
				return false
			}
			inRange := res.Confidence >= cfg.MinConfidence && res.Confidence <= cfg.MaxConfidence
			return inRange && res.Passed == (res.Confidence > cfg.PassThreshold)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
