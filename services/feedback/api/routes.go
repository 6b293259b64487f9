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
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/codecloop/services/feedback/telemetry"
)

// collabValidate checks the `validate` tags on the remote wire types, which
// gin's binding step does not read.
var collabValidate = validator.New()

// RegisterRoutes registers the feedback endpoints.
//
// Description:
//
//	Registers /v1/feedback/* on the given group (typically /v1).
//
// Endpoints:
//
//	POST /v1/feedback/runs - Run one loop
//	POST /v1/feedback/batch - Run loops over many artifacts
//	GET  /v1/feedback/runs - List stored runs
//	GET  /v1/feedback/runs/:id - Get a stored run
//	GET  /v1/feedback/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	fb := rg.Group("/feedback")
	{
		fb.POST("/runs", handlers.HandleRun)
		fb.POST("/batch", handlers.HandleBatch)
		fb.GET("/runs", handlers.HandleListRuns)
		fb.GET("/runs/:id", handlers.HandleGetRun)
		fb.GET("/health", handlers.HandleHealth)
	}
}

// RegisterCollabRoutes registers the collaborator endpoints.
//
// Endpoints:
//
//	POST /v1/collab/detect
//	POST /v1/collab/generate
//	POST /v1/collab/apply
//	POST /v1/collab/verify
func RegisterCollabRoutes(rg *gin.RouterGroup, handlers *CollabHandlers) {
	collab := rg.Group("/collab")
	{
		collab.POST("/detect", handlers.HandleDetect)
		collab.POST("/generate", handlers.HandleGenerate)
		collab.POST("/apply", handlers.HandleApply)
		collab.POST("/verify", handlers.HandleVerify)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName is used for the otelgin middleware.
	ServiceName string

	// Handlers serves /v1/feedback. Nil skips the group.
	Handlers *Handlers

	// Collab serves /v1/collab. Nil skips the group.
	Collab *CollabHandlers

	// Logger receives one line per request. Nil disables request logging.
	Logger *slog.Logger
}

// NewRouter builds the gin engine with recovery, tracing, request logging
// and, when the Prometheus exporter is active, GET /metrics.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	if cfg.Logger != nil {
		router.Use(requestLogger(cfg.Logger))
	}

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/v1")
	if cfg.Handlers != nil {
		RegisterRoutes(v1, cfg.Handlers)
	}
	if cfg.Collab != nil {
		RegisterCollabRoutes(v1, cfg.Collab)
	}
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("trace_id", telemetry.TraceID(c.Request.Context())),
		)
	}
}
