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

// Strategy is one entry of the perturbation catalog.
type Strategy struct {
	// ID is the stable identifier echoed in Instruction.Parameters["strategy"].
	ID string

	// Goal is the human-readable strategy text used in descriptions.
	Goal string

	// MixDB is the injection level in dB relative to the source signal.
	MixDB int
}

var catalog = [...]Strategy{
	{
		ID:    "plosive_narrowband",
		Goal:  "inject narrowband noise between 3-4 kHz aligned with plosive frames",
		MixDB: -24,
	},
	{
		ID:    "silence_phase_jitter",
		Goal:  "add imperceptible phase jitter during silence gaps",
		MixDB: -30,
	},
	{
		ID:    "vowel_quantization_bias",
		Goal:  "apply codec-specific quantization bias to vowel segments",
		MixDB: -27,
	},
	{
		ID:    "reversed_phoneme_whisper",
		Goal:  "blend reversed phonemes with time-stretched whisper noise",
		MixDB: -21,
	},
}

// Catalog returns a copy of the ordered strategy catalog.
func Catalog() []Strategy {
	out := make([]Strategy, len(catalog))
	copy(out, catalog[:])
	return out
}

// StrategyByID looks up a catalog entry.
func StrategyByID(id string) (Strategy, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Strategy{}, false
}
