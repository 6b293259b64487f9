// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the feedback loop instruments.
//
// All Record methods are safe on a nil *Metrics, so callers can leave
// metrics unset without guarding every call site.
type Metrics struct {
	// RunsTotal counts finished runs by terminal state.
	RunsTotal metric.Int64Counter

	// RunSteps records the number of completed steps per run.
	RunSteps metric.Int64Histogram

	// IterationsTotal counts completed iterations by verdict.
	IterationsTotal metric.Int64Counter

	// VerificationConfidence records verifier confidence per iteration.
	VerificationConfidence metric.Float64Histogram

	// ComponentCallDuration records collaborator call latency in seconds.
	ComponentCallDuration metric.Float64Histogram

	// ComponentErrorsTotal counts collaborator failures by component and code.
	ComponentErrorsTotal metric.Int64Counter
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"codecloop_runs_total",
		metric.WithDescription("Total feedback loop runs by terminal state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.RunSteps, err = meter.Int64Histogram(
		"codecloop_run_steps",
		metric.WithDescription("Completed steps per run"),
		metric.WithUnit("{step}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 13, 21),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_steps: %w", err)
	}

	m.IterationsTotal, err = meter.Int64Counter(
		"codecloop_iterations_total",
		metric.WithDescription("Total loop iterations by verification verdict"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.VerificationConfidence, err = meter.Float64Histogram(
		"codecloop_verification_confidence",
		metric.WithDescription("Verifier confidence per iteration"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create verification_confidence: %w", err)
	}

	m.ComponentCallDuration, err = meter.Float64Histogram(
		"codecloop_component_call_duration_seconds",
		metric.WithDescription("Collaborator call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create component_call_duration: %w", err)
	}

	m.ComponentErrorsTotal, err = meter.Int64Counter(
		"codecloop_component_errors_total",
		metric.WithDescription("Collaborator failures by component and error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create component_errors_total: %w", err)
	}

	return m, nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, state string, steps int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunSteps.Record(ctx, int64(steps), attrs)
}

// RecordIteration records one completed iteration.
func (m *Metrics) RecordIteration(ctx context.Context, passed bool, confidence float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("passed", passed))
	m.IterationsTotal.Add(ctx, 1, attrs)
	m.VerificationConfidence.Record(ctx, confidence, attrs)
}

// RecordCall records one collaborator call. code is empty on success.
func (m *Metrics) RecordCall(ctx context.Context, component, code string, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if code != "" {
		status = "error"
	}
	m.ComponentCallDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("status", status),
	))
	if code != "" {
		m.ComponentErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("code", code),
		))
	}
}
