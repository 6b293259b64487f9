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

import "fmt"

const (
	// HintTighten is carried forward after a failed verification.
	HintTighten = "increase subtlety"

	// HintReinforce is carried forward after a passed verification.
	HintReinforce = "reinforce winning strategy"
)

// NextHint derives the feedback hint for the next iteration. It branches on
// the verdict only, never on the rationale text.
func NextHint(v VerificationResult) string {
	if v.Passed {
		return HintReinforce
	}
	return HintTighten
}

// ComposeFeedback builds the per-step message recorded in a LoopStep.
func ComposeFeedback(iteration int, v VerificationResult, nextHint string) string {
	status := "Adjust"
	if v.Passed {
		status = "Success"
	}
	return fmt.Sprintf("%s on iteration %d (confidence=%.2f). Next hint: %s.",
		status, iteration, v.Confidence, nextHint)
}
