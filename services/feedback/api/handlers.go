// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the feedback loop over HTTP.
//
// Two route groups are provided. /v1/feedback runs loops and reads stored
// runs. /v1/collab serves a set of collaborators (normally the stubs) so a
// remote.Client in another process can drive them.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/batch"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

// DefaultMaxBatchSize caps artifact_ids in one batch request.
const DefaultMaxBatchSize = 256

// HandlerConfig holds server-side defaults.
type HandlerConfig struct {
	// Loop is the run configuration used when a request omits a field.
	Loop feedback.Config

	// BatchParallel caps concurrent runs per batch request.
	BatchParallel int

	// MaxBatchSize caps artifact_ids per batch request.
	MaxBatchSize int
}

// DefaultHandlerConfig returns the loop defaults and batch limits.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Loop:          feedback.DefaultConfig(),
		BatchParallel: batch.DefaultParallel,
		MaxBatchSize:  DefaultMaxBatchSize,
	}
}

// Handlers contains the feedback HTTP handlers.
type Handlers struct {
	looper batch.Looper
	store  runstore.Store
	cfg    HandlerConfig
}

// NewHandlers creates handlers. A nil store falls back to a MemoryStore.
func NewHandlers(looper batch.Looper, store runstore.Store, cfg HandlerConfig) *Handlers {
	if store == nil {
		store = runstore.NewMemoryStore()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Handlers{looper: looper, store: store, cfg: cfg}
}

func (h *Handlers) loopConfig(maxIterations *int, targetConfidence *float64) feedback.Config {
	cfg := h.cfg.Loop
	if maxIterations != nil {
		cfg.MaxIterations = *maxIterations
	}
	if targetConfidence != nil {
		cfg.TargetConfidence = *targetConfidence
	}
	return cfg
}

// HandleRun handles POST /v1/feedback/runs.
//
// Description:
//
//	Runs one feedback loop synchronously and stores the result. A run that
//	aborts on a collaborator failure is a valid outcome and returns 200
//	with the error recorded on the run.
//
// Response:
//
//	200 OK: RunResponse
//	400 Bad Request: invalid body or configuration
//	500 Internal Server Error: the run could not be recorded
func (h *Handlers) HandleRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRun")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    feedback.CodeConfiguration,
			Details: err.Error(),
		})
		return
	}

	summary, runErr := h.looper.Run(c.Request.Context(), req.ArtifactID, h.loopConfig(req.MaxIterations, req.TargetConfidence))
	if errors.Is(runErr, feedback.ErrConfiguration) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid run configuration",
			Code:    feedback.CodeConfiguration,
			Details: runErr.Error(),
		})
		return
	}

	rec, err := runstore.NewRecord(summary, runErr)
	if err != nil {
		logger.Error("Failed to build run record", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to record run", Code: feedback.CodeInternal})
		return
	}

	stored := true
	if err := h.store.Save(c.Request.Context(), rec); err != nil {
		logger.Warn("Failed to store run", "run_id", rec.ID, "error", err)
		stored = false
	}

	logger.Info("Run finished",
		"run_id", rec.ID,
		"artifact_id", rec.ArtifactID,
		"state", rec.State,
		"steps", rec.Steps,
	)
	c.JSON(http.StatusOK, RunResponse{Record: rec, Stored: stored})
}

// HandleBatch handles POST /v1/feedback/batch.
//
// Response:
//
//	200 OK: BatchResponse
//	400 Bad Request: invalid body, configuration, or too many artifacts
func (h *Handlers) HandleBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBatch")

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    feedback.CodeConfiguration,
			Details: err.Error(),
		})
		return
	}
	if len(req.ArtifactIDs) > h.cfg.MaxBatchSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Too many artifacts",
			Code:    feedback.CodeConfiguration,
			Details: "artifact_ids exceeds " + strconv.Itoa(h.cfg.MaxBatchSize),
		})
		return
	}

	cfg := h.loopConfig(req.MaxIterations, req.TargetConfidence)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid run configuration",
			Code:    feedback.CodeConfiguration,
			Details: err.Error(),
		})
		return
	}

	runner := &batch.Runner{
		Looper:   h.looper,
		Config:   cfg,
		Parallel: h.cfg.BatchParallel,
		Store:    h.store,
		Logger:   logger,
	}
	results, err := runner.Run(c.Request.Context(), req.ArtifactIDs)
	if err != nil && results == nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: feedback.ErrorCode(err)})
		return
	}

	items := make([]BatchItem, len(results))
	for i, res := range results {
		items[i] = BatchItem{
			ArtifactID: res.ArtifactID,
			RunID:      res.RunID,
			State:      res.Summary.State(),
			Success:    res.Summary.Success(),
			Steps:      res.Summary.Len(),
			Error:      feedback.NewRunError(res.Err),
		}
	}
	c.JSON(http.StatusOK, BatchResponse{Results: items, Stats: batch.Summarize(results)})
}

// HandleListRuns handles GET /v1/feedback/runs.
//
// Query Parameters:
//
//	artifact_id - Restrict to one artifact (optional)
//	limit - Maximum results, default runstore.DefaultListLimit
func (h *Handlers) HandleListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: feedback.CodeConfiguration})
			return
		}
		limit = n
	}

	var (
		runs []runstore.RunRecord
		err  error
	)
	if artifactID := c.Query("artifact_id"); artifactID != "" {
		runs, err = h.store.ListByArtifact(c.Request.Context(), artifactID, limit)
	} else {
		runs, err = h.store.List(c.Request.Context(), limit)
	}
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list runs", Code: feedback.CodeInternal})
		return
	}
	if runs == nil {
		runs = []runstore.RunRecord{}
	}
	c.JSON(http.StatusOK, ListResponse{Runs: runs, Count: len(runs)})
}

// HandleGetRun handles GET /v1/feedback/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, runstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Run not found", Code: "not_found", Details: id})
		return
	}
	if err != nil {
		slog.Error("Failed to get run", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get run", Code: feedback.CodeInternal})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleHealth handles GET /v1/feedback/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
