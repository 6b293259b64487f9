// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stub

import (
	"context"
	"maps"

	"github.com/AleutianAI/codecloop/services/feedback"
)

// Applier pretends to apply the instruction and echoes it back.
type Applier struct{}

// NewApplier creates the echoing applier.
func NewApplier() *Applier {
	return &Applier{}
}

// Apply never fails. The output id is the input artifact id.
func (a *Applier) Apply(_ context.Context, artifactID string, instruction feedback.Instruction) (feedback.ApplicationMetadata, error) {
	params := maps.Clone(instruction.Parameters)
	if params == nil {
		params = map[string]string{}
	}
	return feedback.ApplicationMetadata{
		OutputID:   artifactID,
		Applied:    true,
		Technique:  instruction.TargetCodec,
		Parameters: params,
	}, nil
}
