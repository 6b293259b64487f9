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
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/codecloop/services/feedback"
)

// NoFeedbackSentinel stands in for the prior feedback on the first iteration.
const NoFeedbackSentinel = "initial_attempt"

// Generator picks a catalog strategy seeded by (artifact, prior feedback).
type Generator struct{}

// NewGenerator creates the catalog-backed generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Pick returns the strategy chosen for the given inputs.
func (g *Generator) Pick(artifactID string, priorFeedback *string) Strategy {
	rng := NewRand(Seed(artifactID, feedbackOrSentinel(priorFeedback)))
	return catalog[rng.IntN(len(catalog))]
}

// Generate never fails.
func (g *Generator) Generate(_ context.Context, artifactID string, detection feedback.DetectionResult, priorFeedback *string) (feedback.Instruction, error) {
	strategy := g.Pick(artifactID, priorFeedback)

	description := fmt.Sprintf(
		"Create perturbation optimized for %s (%s, %d kbps). Goal: %s.",
		detection.CodecName, strings.ToUpper(detection.Container), detection.BitrateKbps, strategy.Goal,
	)

	snippet := strings.Join([]string{
		"# pseudo-code for strategy " + strategy.ID,
		"frames = segment_audio(audio, window_ms=20)",
		fmt.Sprintf("targeted = select_frames(frames, strategy=%q)", strategy.ID),
		fmt.Sprintf("shaped_noise = craft_noise(targeted, codec=%q)", detection.CodecName),
		fmt.Sprintf("adversarial = inject(audio, shaped_noise, mix_db=%d)", strategy.MixDB),
		fmt.Sprintf("export(adversarial, codec=%q, bitrate=%d)", detection.Container, detection.BitrateKbps),
	}, "\n")

	return feedback.Instruction{
		Description: description,
		CodeSnippet: snippet,
		TargetCodec: detection.CodecName,
		Parameters: map[string]string{
			"strategy":      strategy.ID,
			"mix_db":        strconv.Itoa(strategy.MixDB),
			"codec_bias":    strings.ToLower(detection.CodecName),
			"feedback_hint": feedbackOrSentinel(priorFeedback),
		},
	}, nil
}

func feedbackOrSentinel(priorFeedback *string) string {
	if priorFeedback == nil {
		return NoFeedbackSentinel
	}
	return *priorFeedback
}
