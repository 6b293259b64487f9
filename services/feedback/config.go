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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxIterations is the iteration budget when none is given.
	DefaultMaxIterations = 3

	// DefaultTargetConfidence is the success threshold when none is given.
	DefaultTargetConfidence = 0.85
)

// configValidate is shared; validator.Validate caches struct metadata and is
// safe for concurrent use.
var configValidate = validator.New()

// Config is the per-run configuration.
type Config struct {
	// MaxIterations bounds the number of loop iterations. Must be >= 1.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`

	// TargetConfidence is the confidence a passing verification must meet
	// or exceed for the run to succeed. Must be finite and in (0,1].
	TargetConfidence float64 `json:"target_confidence" yaml:"target_confidence" validate:"gt=0,lte=1"`

	// CallTimeout bounds each collaborator call. Zero disables the timeout.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" validate:"gte=0"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    DefaultMaxIterations,
		TargetConfidence: DefaultTargetConfidence,
	}
}

// Validate checks the configuration.
//
// Outputs:
//
//	error - Wraps ErrConfiguration and names the offending field, or nil.
func (c Config) Validate() error {
	if math.IsNaN(c.TargetConfidence) || math.IsInf(c.TargetConfidence, 0) {
		return fmt.Errorf("%w: target_confidence must be finite", ErrConfiguration)
	}
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fieldName(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func fieldName(goName string) string {
	switch goName {
	case "MaxIterations":
		return "max_iterations"
	case "TargetConfidence":
		return "target_confidence"
	case "CallTimeout":
		return "call_timeout"
	default:
		return goName
	}
}
