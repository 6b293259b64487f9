// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stub provides deterministic stand-ins for the feedback loop
// collaborators.
//
// Every stub is a pure function of its inputs. Randomized choices are drawn
// from an explicit PCG generator seeded with an xxhash of the inputs, so no
// global random state is touched and concurrent runs never interfere.
package stub

import (
	"math/rand/v2"
	"strings"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/cespare/xxhash/v2"
)

// seedSeparator joins seed parts. It cannot appear in a file name, so
// ("a", "bc") and ("ab", "c") hash differently.
const seedSeparator = "\x1f"

// pcgStream is the fixed second word of the PCG state.
const pcgStream = 0x9e3779b97f4a7c15

// Seed derives a 64-bit seed from the ordered parts.
func Seed(parts ...string) uint64 {
	return xxhash.Sum64String(strings.Join(parts, seedSeparator))
}

// NewRand returns a generator owned by the caller.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^pcgStream))
}

// Collaborators returns the full stub set with the given verifier config.
func Collaborators(cfg VerifierConfig) (feedback.Collaborators, error) {
	verifier, err := NewVerifier(cfg)
	if err != nil {
		return feedback.Collaborators{}, err
	}
	return feedback.Collaborators{
		Detector:  NewDetector(),
		Generator: NewGenerator(),
		Applier:   NewApplier(),
		Verifier:  verifier,
	}, nil
}
