// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback provides the adversarial feedback loop controller.
//
// The controller drives a detect, perturb, apply, verify cycle against a
// single audio artifact. Each iteration consults four collaborators in strict
// sequence, derives a feedback hint from the verification outcome, and
// carries that hint into the next generation call. The loop stops as soon as
// a verification passes with enough confidence, or when the iteration budget
// is spent.
//
// Collaborators are consumed through narrow interfaces (Detector, Generator,
// Applier, Verifier). The deterministic stand-ins live in the stub package;
// service-backed variants live in the remote package. Both are selected when
// the Controller is constructed.
//
// Thread Safety:
//
//	A Controller holds no per-run state and is safe for concurrent use.
//	Each call to Run owns its RunSummary until it returns.
package feedback

// DetectionResult is the codec and container metadata for one artifact.
type DetectionResult struct {
	// CodecName is the detected codec, e.g. "PCM" or "MP3".
	CodecName string `json:"codec_name"`

	// BitrateKbps is the nominal bitrate in kilobits per second.
	BitrateKbps int `json:"bitrate_kbps"`

	// Channels is the channel count.
	Channels int `json:"channels"`

	// SampleRate is the sample rate in Hz.
	SampleRate int `json:"sample_rate"`

	// Container is the container tag, e.g. "wav".
	Container string `json:"container"`

	// Details carries free-form detector output.
	Details map[string]string `json:"details"`
}

// Instruction is a proposed perturbation.
type Instruction struct {
	// Description is the human-readable form of the perturbation.
	Description string `json:"description"`

	// CodeSnippet is a machine-oriented sketch of the transform.
	CodeSnippet string `json:"code_snippet"`

	// TargetCodec is the codec name taken from the detection result.
	TargetCodec string `json:"target_codec"`

	// Parameters are the suggested transform parameters.
	Parameters map[string]string `json:"parameters"`
}

// ApplicationMetadata records a transform having been applied.
type ApplicationMetadata struct {
	// OutputID identifies the transformed artifact.
	OutputID string `json:"output_id"`

	// Applied is true when the transform and re-encode both happened.
	Applied bool `json:"applied"`

	// Technique is the technique tag, the instruction's target codec.
	Technique string `json:"technique"`

	// Parameters are the parameters the transform ran with.
	Parameters map[string]string `json:"parameters"`
}

// VerificationResult is the outcome of checking a transformed artifact.
//
// A result with Passed == false is a normal verdict, not an error. Callers
// that could not reach a verifier get ErrVerificationUnavailable instead.
type VerificationResult struct {
	// Passed is the verdict.
	Passed bool `json:"passed"`

	// Confidence is the verifier's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Rationale explains the verdict.
	Rationale string `json:"rationale"`
}

// LoopStep is the trace of one full iteration.
type LoopStep struct {
	// Iteration is the 1-based iteration index.
	Iteration int `json:"iteration"`

	CodecResult  DetectionResult     `json:"codec_result"`
	Perturbation Instruction         `json:"perturbation"`
	Application  ApplicationMetadata `json:"application"`
	Verification VerificationResult  `json:"verification"`

	// Feedback is the composed per-step message.
	Feedback string `json:"feedback"`
}

// RunSummary is the aggregate result of one run.
//
// The step sequence is append-only and owned by the Controller while the run
// is in progress. Steps returns a copy so callers cannot alias it.
type RunSummary struct {
	artifactID string
	success    bool
	state      RunState
	steps      []LoopStep
}

func newRunSummary(artifactID string) *RunSummary {
	return &RunSummary{
		artifactID: artifactID,
		state:      StateRunning,
		steps:      make([]LoopStep, 0, 4),
	}
}

// ArtifactID returns the artifact the run was executed against.
func (s RunSummary) ArtifactID() string { return s.artifactID }

// Success reports whether the last step passed with the target confidence.
func (s RunSummary) Success() bool { return s.success }

// State returns the loop state the run ended in.
func (s RunSummary) State() RunState { return s.state }

// Len returns the number of completed steps.
func (s RunSummary) Len() int { return len(s.steps) }

// Steps returns a copy of the completed steps in iteration order.
func (s RunSummary) Steps() []LoopStep {
	out := make([]LoopStep, len(s.steps))
	copy(out, s.steps)
	return out
}

// LastStep returns the most recent step, if any.
func (s RunSummary) LastStep() (LoopStep, bool) {
	if len(s.steps) == 0 {
		return LoopStep{}, false
	}
	return s.steps[len(s.steps)-1], true
}

func (s *RunSummary) appendStep(step LoopStep) {
	s.steps = append(s.steps, step)
}
