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
	"errors"
	"fmt"
)

// Sentinel errors for the feedback loop.
var (
	// ErrConfiguration indicates an invalid run configuration. It is
	// returned before the loop starts.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDetectionUnavailable indicates the codec detector could not be reached.
	ErrDetectionUnavailable = errors.New("detection unavailable")

	// ErrGenerationUnavailable indicates the perturbation source could not be reached.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrApplicationFailed indicates the transform could not be applied.
	ErrApplicationFailed = errors.New("application failed")

	// ErrApplicationPartial indicates the transform ran but re-encoding was skipped.
	ErrApplicationPartial = errors.New("application partial")

	// ErrVerificationUnavailable indicates the verifier could not be asked.
	// A verifier that answered "not verified" does not produce this error.
	ErrVerificationUnavailable = errors.New("verification unavailable")

	// ErrContractViolation indicates a collaborator returned a value outside
	// its contract, such as a confidence outside [0,1].
	ErrContractViolation = errors.New("collaborator contract violation")

	// ErrCanceled indicates the run context was canceled.
	ErrCanceled = errors.New("run canceled")

	// ErrInvalidTransition indicates an illegal state machine transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMissingCollaborator indicates a nil collaborator at construction.
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// Component names a collaborator slot in the loop.
type Component string

const (
	ComponentDetector  Component = "detector"
	ComponentGenerator Component = "generator"
	ComponentApplier   Component = "applier"
	ComponentVerifier  Component = "verifier"
)

// Unavailable returns the sentinel used when a component cannot be reached.
func (c Component) Unavailable() error {
	switch c {
	case ComponentDetector:
		return ErrDetectionUnavailable
	case ComponentGenerator:
		return ErrGenerationUnavailable
	case ComponentApplier:
		return ErrApplicationFailed
	default:
		return ErrVerificationUnavailable
	}
}

// Accepts reports whether err carries a code that component c may raise:
// its own Unavailable code, ErrContractViolation, or ErrApplicationPartial
// for the applier. An error that also carries a foreign code, such as
// ErrConfiguration, is not accepted.
func (c Component) Accepts(err error) bool {
	switch ErrorCode(err) {
	case ErrorCode(c.Unavailable()), CodeContractViolation:
		return true
	case CodeApplicationPartial:
		return c == ComponentApplier
	default:
		return false
	}
}

// ComponentError records which component aborted a run and on which iteration.
type ComponentError struct {
	Component Component
	Iteration int
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s failed on iteration %d: %v", e.Component, e.Iteration, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// TransitionError is returned for an illegal state change.
type TransitionError struct {
	From RunState
	To   RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// RunError is the serializable form of a run abort.
type RunError struct {
	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Message is the error text.
	Message string `json:"message"`

	// Component is the collaborator that failed, if any.
	Component string `json:"component,omitempty"`

	// Iteration is the iteration the failure happened on, if any.
	Iteration int `json:"iteration,omitempty"`
}

// Error codes used in RunError.
const (
	CodeConfiguration           = "configuration_error"
	CodeDetectionUnavailable    = "detection_unavailable"
	CodeGenerationUnavailable   = "generation_unavailable"
	CodeApplicationFailed       = "application_failed"
	CodeApplicationPartial      = "application_partial"
	CodeVerificationUnavailable = "verification_unavailable"
	CodeContractViolation       = "contract_violation"
	CodeCanceled                = "canceled"
	CodeInternal                = "internal_error"
)

var codeBySentinel = []struct {
	err  error
	code string
}{
	{ErrConfiguration, CodeConfiguration},
	{ErrCanceled, CodeCanceled},
	{ErrDetectionUnavailable, CodeDetectionUnavailable},
	{ErrGenerationUnavailable, CodeGenerationUnavailable},
	{ErrApplicationPartial, CodeApplicationPartial},
	{ErrApplicationFailed, CodeApplicationFailed},
	{ErrVerificationUnavailable, CodeVerificationUnavailable},
	{ErrContractViolation, CodeContractViolation},
}

// ErrorCode maps an error to its stable code. Nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codeBySentinel {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// SentinelForCode is the inverse of ErrorCode for taxonomy codes.
func SentinelForCode(code string) (error, bool) {
	for _, c := range codeBySentinel {
		if c.code == code {
			return c.err, true
		}
	}
	return nil, false
}

// NewRunError converts an error into its serializable form.
func NewRunError(err error) *RunError {
	if err == nil {
		return nil
	}
	re := &RunError{
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
	var ce *ComponentError
	if errors.As(err, &ce) {
		re.Component = string(ce.Component)
		re.Iteration = ce.Iteration
	}
	return re
}
