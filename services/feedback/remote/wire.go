// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import "github.com/AleutianAI/codecloop/services/feedback"

// Collaborator endpoint paths, relative to the service base URL.
const (
	PathDetect   = "/v1/collab/detect"
	PathGenerate = "/v1/collab/generate"
	PathApply    = "/v1/collab/apply"
	PathVerify   = "/v1/collab/verify"
)

// DetectRequest is the body of a detect call.
type DetectRequest struct {
	ArtifactID string `json:"artifact_id" validate:"required"`
}

// GenerateRequest is the body of a generate call. PriorFeedback is omitted
// on the first iteration.
type GenerateRequest struct {
	ArtifactID    string                   `json:"artifact_id" validate:"required"`
	Detection     feedback.DetectionResult `json:"detection"`
	PriorFeedback *string                  `json:"prior_feedback,omitempty"`
}

// ApplyRequest is the body of an apply call.
type ApplyRequest struct {
	ArtifactID  string               `json:"artifact_id" validate:"required"`
	Instruction feedback.Instruction `json:"instruction"`
}

// VerifyRequest is the body of a verify call.
type VerifyRequest struct {
	ArtifactID string                       `json:"artifact_id" validate:"required"`
	Metadata   feedback.ApplicationMetadata `json:"metadata"`
}

// ErrorResponse is returned by a collaborator service on failure. Code is
// one of the feedback error codes.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
