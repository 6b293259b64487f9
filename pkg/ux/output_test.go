// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTone_RenderKeepsText(t *testing.T) {
	for _, tone := range []Tone{ToneNeutral, ToneSuccess, ToneWarning, ToneError} {
		assert.Contains(t, tone.Render("EXHAUSTED"), "EXHAUSTED")
	}
}

func TestVerdict(t *testing.T) {
	assert.Contains(t, Verdict(true), "pass")
	assert.Contains(t, Verdict(false), "fail")
}

func TestStyles_Box(t *testing.T) {
	out := Styles.Box.Render("run")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "╭")
}
