// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/batch"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// RunRequest is the body of POST /v1/feedback/runs.
//
// Omitted loop fields fall back to the server defaults.
type RunRequest struct {
	ArtifactID       string   `json:"artifact_id" binding:"required"`
	MaxIterations    *int     `json:"max_iterations,omitempty" binding:"omitempty,gte=1"`
	TargetConfidence *float64 `json:"target_confidence,omitempty" binding:"omitempty,gt=0,lte=1"`
}

// BatchRequest is the body of POST /v1/feedback/batch.
type BatchRequest struct {
	ArtifactIDs      []string `json:"artifact_ids" binding:"required,min=1,dive,required"`
	MaxIterations    *int     `json:"max_iterations,omitempty" binding:"omitempty,gte=1"`
	TargetConfidence *float64 `json:"target_confidence,omitempty" binding:"omitempty,gt=0,lte=1"`
}

// RunResponse is returned for a single run. An aborted run is still a 200
// with Record.Error filled.
type RunResponse struct {
	Record runstore.RunRecord `json:"run"`
	Stored bool               `json:"stored"`
}

// BatchItem is one entry of a BatchResponse.
type BatchItem struct {
	ArtifactID string             `json:"artifact_id"`
	RunID      string             `json:"run_id,omitempty"`
	State      feedback.RunState  `json:"state,omitempty"`
	Success    bool               `json:"success"`
	Steps      int                `json:"steps"`
	Error      *feedback.RunError `json:"error,omitempty"`
}

// BatchResponse is returned by POST /v1/feedback/batch.
type BatchResponse struct {
	Results []BatchItem `json:"results"`
	Stats   batch.Stats `json:"stats"`
}

// ListResponse is returned by GET /v1/feedback/runs.
type ListResponse struct {
	Runs  []runstore.RunRecord `json:"runs"`
	Count int                  `json:"count"`
}

// HealthResponse is returned by GET /v1/feedback/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the error body for the feedback endpoints.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
