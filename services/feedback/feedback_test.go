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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 0.85, cfg.TargetConfidence)
	assert.Zero(t, cfg.CallTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		field   string
	}{
		{"defaults", DefaultConfig(), false, ""},
		{"target one", Config{MaxIterations: 1, TargetConfidence: 1}, false, ""},
		{"with timeout", Config{MaxIterations: 2, TargetConfidence: 0.5, CallTimeout: time.Second}, false, ""},
		{"zero iterations", Config{MaxIterations: 0, TargetConfidence: 0.85}, true, "max_iterations"},
		{"zero target", Config{MaxIterations: 3, TargetConfidence: 0}, true, "target_confidence"},
		{"negative target", Config{MaxIterations: 3, TargetConfidence: -0.5}, true, "target_confidence"},
		{"target above one", Config{MaxIterations: 3, TargetConfidence: 1.01}, true, "target_confidence"},
		{"nan target", Config{MaxIterations: 3, TargetConfidence: math.NaN()}, true, "target_confidence"},
		{"inf target", Config{MaxIterations: 3, TargetConfidence: math.Inf(1)}, true, "target_confidence"},
		{"negative timeout", Config{MaxIterations: 3, TargetConfidence: 0.85, CallTimeout: -time.Second}, true, "call_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	assert.False(t, StateRunning.IsTerminal())
	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateExhausted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.Len(t, AllStates(), 4)
}

func TestCanTransition(t *testing.T) {
	for _, to := range AllStates() {
		assert.True(t, CanTransition(StateRunning, to), "RUNNING -> %s", to)
	}
	for _, from := range []RunState{StateSucceeded, StateExhausted, StateFailed} {
		for _, to := range AllStates() {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRunSummary_Transition(t *testing.T) {
	s := newRunSummary("a.wav")
	require.NoError(t, s.transition(StateExhausted))
	assert.Equal(t, StateExhausted, s.State())

	err := s.transition(StateRunning)
	require.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateExhausted, te.From)
	assert.Equal(t, StateRunning, te.To)
}

func TestRunSummary_StepsIsCopy(t *testing.T) {
	s := newRunSummary("a.wav")
	s.appendStep(LoopStep{Iteration: 1, Feedback: "one"})

	steps := s.Steps()
	steps[0].Feedback = "mutated"
	assert.Equal(t, "one", s.Steps()[0].Feedback)

	last, ok := s.LastStep()
	require.True(t, ok)
	assert.Equal(t, 1, last.Iteration)

	_, ok = newRunSummary("b").LastStep()
	assert.False(t, ok)
}

func TestNextHint(t *testing.T) {
	assert.Equal(t, HintReinforce, NextHint(VerificationResult{Passed: true, Confidence: 0.1}))
	assert.Equal(t, HintTighten, NextHint(VerificationResult{Passed: false, Confidence: 0.99}))
	assert.Equal(t, HintTighten, NextHint(VerificationResult{Passed: false, Rationale: "PASS"}))
}

func TestComposeFeedback(t *testing.T) {
	got := ComposeFeedback(2, VerificationResult{Passed: false, Confidence: 0.4567}, HintTighten)
	assert.Equal(t, "Adjust on iteration 2 (confidence=0.46). Next hint: increase subtlety.", got)

	got = ComposeFeedback(1, VerificationResult{Passed: true, Confidence: 0.9}, HintReinforce)
	assert.Equal(t, "Success on iteration 1 (confidence=0.90). Next hint: reinforce winning strategy.", got)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{ErrConfiguration, CodeConfiguration},
		{fmt.Errorf("wrap: %w", ErrDetectionUnavailable), CodeDetectionUnavailable},
		{&ComponentError{Component: ComponentGenerator, Iteration: 1, Err: ErrGenerationUnavailable}, CodeGenerationUnavailable},
		{ErrApplicationFailed, CodeApplicationFailed},
		{ErrApplicationPartial, CodeApplicationPartial},
		{ErrVerificationUnavailable, CodeVerificationUnavailable},
		{ErrContractViolation, CodeContractViolation},
		{fmt.Errorf("%w: %w", ErrCanceled, ErrVerificationUnavailable), CodeCanceled},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), "%v", tt.err)
	}
}

func TestSentinelForCode(t *testing.T) {
	for _, code := range []string{
		CodeConfiguration, CodeDetectionUnavailable, CodeGenerationUnavailable,
		CodeApplicationFailed, CodeApplicationPartial, CodeVerificationUnavailable,
		CodeContractViolation, CodeCanceled,
	} {
		sentinel, ok := SentinelForCode(code)
		require.True(t, ok, code)
		assert.Equal(t, code, ErrorCode(sentinel))
	}
	_, ok := SentinelForCode(CodeInternal)
	assert.False(t, ok)
}

func TestComponentUnavailable(t *testing.T) {
	assert.Equal(t, ErrDetectionUnavailable, ComponentDetector.Unavailable())
	assert.Equal(t, ErrGenerationUnavailable, ComponentGenerator.Unavailable())
	assert.Equal(t, ErrApplicationFailed, ComponentApplier.Unavailable())
	assert.Equal(t, ErrVerificationUnavailable, ComponentVerifier.Unavailable())
}

func TestComponentAccepts(t *testing.T) {
	tests := []struct {
		component Component
		err       error
		want      bool
	}{
		{ComponentDetector, ErrDetectionUnavailable, true},
		{ComponentDetector, fmt.Errorf("%w: dial", ErrDetectionUnavailable), true},
		{ComponentDetector, ErrVerificationUnavailable, false},
		{ComponentGenerator, ErrGenerationUnavailable, true},
		{ComponentApplier, ErrApplicationFailed, true},
		{ComponentApplier, ErrApplicationPartial, true},
		{ComponentVerifier, ErrApplicationPartial, false},
		{ComponentVerifier, ErrVerificationUnavailable, true},
		{ComponentVerifier, ErrContractViolation, true},
		{ComponentVerifier, ErrConfiguration, false},
		{ComponentVerifier, errors.Join(ErrVerificationUnavailable, ErrConfiguration), false},
		{ComponentVerifier, ErrCanceled, false},
		{ComponentVerifier, errors.New("boom"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.component.Accepts(tt.err), "%s accepts %v", tt.component, tt.err)
	}
}

func TestNewRunError(t *testing.T) {
	assert.Nil(t, NewRunError(nil))

	err := &ComponentError{Component: ComponentVerifier, Iteration: 2, Err: ErrVerificationUnavailable}
	re := NewRunError(err)
	require.NotNil(t, re)
	assert.Equal(t, CodeVerificationUnavailable, re.Code)
	assert.Equal(t, "verifier", re.Component)
	assert.Equal(t, 2, re.Iteration)
	assert.Equal(t, "verifier failed on iteration 2: verification unavailable", re.Message)

	re = NewRunError(ErrConfiguration)
	assert.Empty(t, re.Component)
	assert.Zero(t, re.Iteration)
}
