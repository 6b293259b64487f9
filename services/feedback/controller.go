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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/codecloop/services/feedback/telemetry"
)

// DefaultTracerName is the tracer used when none is configured.
const DefaultTracerName = "codecloop/feedback"

// Controller drives the bounded detect, perturb, apply, verify cycle.
//
// Thread Safety: Controller is safe for concurrent use. Runs share no
// mutable state beyond the optional gate.
type Controller struct {
	collab  Collaborators
	logger  *slog.Logger
	metrics *telemetry.Metrics
	gate    *semaphore.Weighted
	tracer  string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metric instruments. Nil disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithGate bounds concurrent iterations across every run sharing the gate.
//
// Description:
//
//	Each iteration acquires one unit before its first collaborator call and
//	releases it after the last. Size the semaphore to the concurrency budget
//	of the external services behind the collaborators.
func WithGate(gate *semaphore.Weighted) Option {
	return func(c *Controller) {
		c.gate = gate
	}
}

// WithTracerName selects the otel tracer used for run and call spans.
func WithTracerName(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.tracer = name
		}
	}
}

// NewController creates a Controller over the given collaborators.
//
// Outputs:
//
//	*Controller - The configured controller.
//	error - Wraps ErrMissingCollaborator if any collaborator is nil.
func NewController(collab Collaborators, opts ...Option) (*Controller, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		collab: collab,
		logger: slog.Default(),
		tracer: DefaultTracerName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes one feedback loop against artifactID.
//
// Description:
//
//	Validates cfg, then iterates from 1 to cfg.MaxIterations. Every
//	iteration calls the Detector, Generator, Applier and Verifier in strict
//	sequence, derives the next feedback hint from the verdict, and appends
//	a LoopStep. The run ends SUCCEEDED the first time a verification passes
//	with confidence >= cfg.TargetConfidence, EXHAUSTED when the budget is
//	spent, or FAILED when a collaborator fails or ctx is canceled.
//
// Inputs:
//
//	ctx - Context for cancellation. Per-call deadlines come from cfg.CallTimeout.
//	artifactID - The artifact under test. Must not be empty.
//	cfg - Run configuration.
//
// Outputs:
//
//	RunSummary - The run trace. On abort it holds the steps completed so
//	  far with success == false. Zero if cfg is invalid.
//	error - Wraps ErrConfiguration before the loop starts, or is a
//	  *ComponentError (or wraps ErrCanceled) when the run aborted.
//
// Thread Safety: Safe for concurrent use with different artifacts.
func (c *Controller) Run(ctx context.Context, artifactID string, cfg Config) (RunSummary, error) {
	if strings.TrimSpace(artifactID) == "" {
		return RunSummary{}, fmt.Errorf("%w: artifact_id is required", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		c.logger.Error("Feedback loop configuration rejected",
			slog.String("artifact_id", artifactID),
			slog.String("error", err.Error()),
		)
		return RunSummary{}, err
	}

	ctx, span := telemetry.StartSpan(ctx, c.tracer, "feedback.Run", trace.WithAttributes(
		attribute.String("artifact_id", artifactID),
		attribute.Int("max_iterations", cfg.MaxIterations),
		attribute.Float64("target_confidence", cfg.TargetConfidence),
	))
	defer span.End()

	logger := c.logger.With(slog.String("artifact_id", artifactID))
	logger.Info("Feedback loop starting",
		slog.Int("max_iterations", cfg.MaxIterations),
		slog.Float64("target_confidence", cfg.TargetConfidence),
	)

	summary := newRunSummary(artifactID)
	var priorFeedback *string

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, span, logger, summary, fmt.Errorf("%w: %w", ErrCanceled, err))
		}

		step, nextHint, err := c.iterate(ctx, artifactID, iteration, priorFeedback, cfg)
		if err != nil {
			return c.abort(ctx, span, logger, summary, err)
		}

		summary.appendStep(step)
		c.metrics.RecordIteration(ctx, step.Verification.Passed, step.Verification.Confidence)

		logger.Info("Iteration completed",
			slog.Int("iteration", iteration),
			slog.Bool("passed", step.Verification.Passed),
			slog.Float64("confidence", step.Verification.Confidence),
			slog.String("next_hint", nextHint),
		)

		if step.Verification.Passed && step.Verification.Confidence >= cfg.TargetConfidence {
			summary.success = true
			return c.finish(ctx, span, logger, summary, StateSucceeded)
		}
		if iteration == cfg.MaxIterations {
			return c.finish(ctx, span, logger, summary, StateExhausted)
		}

		hint := nextHint
		priorFeedback = &hint
	}
}

// iterate runs the four collaborator calls for one iteration.
func (c *Controller) iterate(ctx context.Context, artifactID string, iteration int, priorFeedback *string, cfg Config) (LoopStep, string, error) {
	if c.gate != nil {
		if err := c.gate.Acquire(ctx, 1); err != nil {
			return LoopStep{}, "", fmt.Errorf("%w: acquire gate: %w", ErrCanceled, err)
		}
		defer c.gate.Release(1)
	}

	ctx, span := telemetry.StartSpan(ctx, c.tracer, "feedback.Iteration", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	detection, err := invoke(ctx, c, ComponentDetector, iteration, cfg.CallTimeout,
		func(ctx context.Context) (DetectionResult, error) {
			return c.collab.Detector.Detect(ctx, artifactID)
		})
	if err != nil {
		return LoopStep{}, "", err
	}

	instruction, err := invoke(ctx, c, ComponentGenerator, iteration, cfg.CallTimeout,
		func(ctx context.Context) (Instruction, error) {
			return c.collab.Generator.Generate(ctx, artifactID, detection, priorFeedback)
		})
	if err != nil {
		return LoopStep{}, "", err
	}

	application, err := invoke(ctx, c, ComponentApplier, iteration, cfg.CallTimeout,
		func(ctx context.Context) (ApplicationMetadata, error) {
			meta, err := c.collab.Applier.Apply(ctx, artifactID, instruction)
			if err == nil && !meta.Applied {
				err = fmt.Errorf("%w: applier reported applied=false", ErrApplicationPartial)
			}
			return meta, err
		})
	if err != nil {
		return LoopStep{}, "", err
	}

	verification, err := invoke(ctx, c, ComponentVerifier, iteration, cfg.CallTimeout,
		func(ctx context.Context) (VerificationResult, error) {
			v, err := c.collab.Verifier.Verify(ctx, artifactID, application)
			if err == nil {
				err = checkConfidence(v.Confidence)
			}
			return v, err
		})
	if err != nil {
		return LoopStep{}, "", err
	}

	nextHint := NextHint(verification)
	span.SetAttributes(
		attribute.Bool("passed", verification.Passed),
		attribute.Float64("confidence", verification.Confidence),
	)

	return LoopStep{
		Iteration:    iteration,
		CodecResult:  detection,
		Perturbation: instruction,
		Application:  application,
		Verification: verification,
		Feedback:     ComposeFeedback(iteration, verification, nextHint),
	}, nextHint, nil
}

// invoke performs one collaborator call with the per-call timeout, tracing,
// metrics, and error normalization.
//
// A deadline hit by the call maps to the component's Unavailable sentinel.
// Any error the component may not raise (see Component.Accepts) is wrapped
// with that sentinel too, and its own chain is flattened to text so a
// foreign code such as ErrConfiguration cannot surface mid-run.
func invoke[T any](ctx context.Context, c *Controller, component Component, iteration int, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	callCtx, span := telemetry.StartSpan(callCtx, c.tracer, "feedback."+string(component))
	defer span.End()

	start := time.Now()
	out, err := call(callCtx)
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w: %w: %v", ErrCanceled, ctx.Err(), err)
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: call exceeded %s: %v", component.Unavailable(), timeout, err)
		case !component.Accepts(err):
			err = fmt.Errorf("%w: %v", component.Unavailable(), err)
		}
		err = &ComponentError{Component: component, Iteration: iteration, Err: err}
		telemetry.RecordError(span, err)
	}

	c.metrics.RecordCall(ctx, string(component), ErrorCode(err), elapsed)
	return out, err
}

func checkConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrContractViolation, confidence)
	}
	return nil
}

func (c *Controller) finish(ctx context.Context, span trace.Span, logger *slog.Logger, summary *RunSummary, state RunState) (RunSummary, error) {
	if err := summary.transition(state); err != nil {
		return c.abort(ctx, span, logger, summary, err)
	}

	logger.Info("Feedback loop finished",
		slog.String("state", state.String()),
		slog.Bool("success", summary.success),
		slog.Int("steps", summary.Len()),
	)
	span.SetAttributes(
		attribute.String("state", state.String()),
		attribute.Int("steps", summary.Len()),
	)
	telemetry.SetSpanOK(span)
	c.metrics.RecordRun(ctx, state.String(), summary.Len())
	return *summary, nil
}

func (c *Controller) abort(ctx context.Context, span trace.Span, logger *slog.Logger, summary *RunSummary, cause error) (RunSummary, error) {
	summary.success = false
	summary.state = StateFailed

	logger.Error("Feedback loop aborted",
		slog.Int("steps", summary.Len()),
		slog.String("code", ErrorCode(cause)),
		slog.String("error", cause.Error()),
	)
	telemetry.RecordError(span, cause)
	// ctx may already be canceled; metrics are best effort.
	c.metrics.RecordRun(context.WithoutCancel(ctx), StateFailed.String(), summary.Len())
	return *summary, cause
}
