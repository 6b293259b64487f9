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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/remote"
)

// codeInvalidRequest marks a malformed collaborator request. It is not a
// feedback error code, so remote clients treat it as the component being
// unavailable.
const codeInvalidRequest = "invalid_request"

// CollabHandlers serves a collaborator set over HTTP.
type CollabHandlers struct {
	collab feedback.Collaborators
}

// NewCollabHandlers wraps the given collaborators.
func NewCollabHandlers(collab feedback.Collaborators) *CollabHandlers {
	return &CollabHandlers{collab: collab}
}

// HandleDetect handles POST /v1/collab/detect.
func (h *CollabHandlers) HandleDetect(c *gin.Context) {
	var req remote.DetectRequest
	if !bindCollab(c, &req) {
		return
	}
	out, err := h.collab.Detector.Detect(c.Request.Context(), req.ArtifactID)
	respondCollab(c, feedback.ComponentDetector, out, err)
}

// HandleGenerate handles POST /v1/collab/generate.
func (h *CollabHandlers) HandleGenerate(c *gin.Context) {
	var req remote.GenerateRequest
	if !bindCollab(c, &req) {
		return
	}
	out, err := h.collab.Generator.Generate(c.Request.Context(), req.ArtifactID, req.Detection, req.PriorFeedback)
	respondCollab(c, feedback.ComponentGenerator, out, err)
}

// HandleApply handles POST /v1/collab/apply.
func (h *CollabHandlers) HandleApply(c *gin.Context) {
	var req remote.ApplyRequest
	if !bindCollab(c, &req) {
		return
	}
	out, err := h.collab.Applier.Apply(c.Request.Context(), req.ArtifactID, req.Instruction)
	respondCollab(c, feedback.ComponentApplier, out, err)
}

// HandleVerify handles POST /v1/collab/verify.
func (h *CollabHandlers) HandleVerify(c *gin.Context) {
	var req remote.VerifyRequest
	if !bindCollab(c, &req) {
		return
	}
	out, err := h.collab.Verifier.Verify(c.Request.Context(), req.ArtifactID, req.Metadata)
	respondCollab(c, feedback.ComponentVerifier, out, err)
}

func bindCollab(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, remote.ErrorResponse{Code: codeInvalidRequest, Message: err.Error()})
		return false
	}
	if err := collabValidate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, remote.ErrorResponse{Code: codeInvalidRequest, Message: err.Error()})
		return false
	}
	return true
}

func respondCollab(c *gin.Context, component feedback.Component, out any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, out)
		return
	}
	code := feedback.ErrorCode(err)
	if !component.Accepts(err) {
		code = feedback.ErrorCode(component.Unavailable())
	}
	slog.Warn("Collaborator call failed",
		"component", string(component),
		"code", code,
		"error", err,
	)
	c.JSON(collabStatus(err), remote.ErrorResponse{Code: code, Message: err.Error()})
}

func collabStatus(err error) int {
	switch {
	case errors.Is(err, feedback.ErrApplicationPartial):
		return http.StatusUnprocessableEntity
	case errors.Is(err, feedback.ErrApplicationFailed), errors.Is(err, feedback.ErrContractViolation):
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}
