// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote provides service-backed feedback loop collaborators.
//
// A Client speaks JSON over HTTP to a collaborator service exposing the
// /v1/collab endpoints (see the api package for a stub-backed server). It
// implements all four collaborator interfaces, so one Client can stand in
// for any subset of them.
//
// Failures are mapped onto the feedback error taxonomy: transport errors
// and 5xx responses become the component's Unavailable sentinel, and a
// structured error body carrying a known code maps to that code's sentinel.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/codecloop/services/feedback"
)

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 4 << 10

// ErrInvalidBaseURL is returned by NewClient for an empty base URL.
var ErrInvalidBaseURL = errors.New("remote: invalid base url")

// Client calls a collaborator service.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit limits outgoing requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithTimeout sets the per-request timeout. It applies regardless of option
// order and never modifies a client passed to WithHTTPClient. d <= 0 keeps
// the HTTP client's own timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a client for the service at baseURL.
//
// The default HTTP transport is instrumented with otelhttp, so each call
// appears as a child of the controller's component span. Requests are not
// rate limited unless WithRateLimit is given.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrInvalidBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Collaborators returns c in every collaborator slot.
func (c *Client) Collaborators() feedback.Collaborators {
	return feedback.Collaborators{
		Detector:  c,
		Generator: c,
		Applier:   c,
		Verifier:  c,
	}
}

// Detect implements feedback.Detector.
func (c *Client) Detect(ctx context.Context, artifactID string) (feedback.DetectionResult, error) {
	var out feedback.DetectionResult
	err := c.post(ctx, feedback.ComponentDetector, PathDetect, DetectRequest{ArtifactID: artifactID}, &out)
	return out, err
}

// Generate implements feedback.Generator.
func (c *Client) Generate(ctx context.Context, artifactID string, detection feedback.DetectionResult, priorFeedback *string) (feedback.Instruction, error) {
	var out feedback.Instruction
	err := c.post(ctx, feedback.ComponentGenerator, PathGenerate, GenerateRequest{
		ArtifactID:    artifactID,
		Detection:     detection,
		PriorFeedback: priorFeedback,
	}, &out)
	return out, err
}

// Apply implements feedback.Applier.
func (c *Client) Apply(ctx context.Context, artifactID string, instruction feedback.Instruction) (feedback.ApplicationMetadata, error) {
	var out feedback.ApplicationMetadata
	err := c.post(ctx, feedback.ComponentApplier, PathApply, ApplyRequest{
		ArtifactID:  artifactID,
		Instruction: instruction,
	}, &out)
	return out, err
}

// Verify implements feedback.Verifier.
func (c *Client) Verify(ctx context.Context, artifactID string, metadata feedback.ApplicationMetadata) (feedback.VerificationResult, error) {
	var out feedback.VerificationResult
	err := c.post(ctx, feedback.ComponentVerifier, PathVerify, VerifyRequest{
		ArtifactID: artifactID,
		Metadata:   metadata,
	}, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, component feedback.Component, path string, body, out any) error {
	unavailable := component.Unavailable()

	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: rate limit: %w", unavailable, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", unavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", unavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp, component)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", feedback.ErrContractViolation, component, err)
	}
	return nil
}

// decodeFailure maps a non-200 response onto the error taxonomy. Only codes
// the calling component may raise are kept; anything else, including
// configuration_error, becomes the component's Unavailable sentinel.
func decodeFailure(resp *http.Response, component feedback.Component) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Code != "" {
		if sentinel, ok := feedback.SentinelForCode(er.Code); ok && component.Accepts(sentinel) {
			return fmt.Errorf("%w: service returned %d: %s", sentinel, resp.StatusCode, er.Message)
		}
		return fmt.Errorf("%w: service returned %d: %s: %s", component.Unavailable(), resp.StatusCode, er.Code, er.Message)
	}
	return fmt.Errorf("%w: service returned %d: %s", component.Unavailable(), resp.StatusCode, strings.TrimSpace(string(raw)))
}
