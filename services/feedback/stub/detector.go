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
	"path/filepath"
	"strings"

	"github.com/AleutianAI/codecloop/services/feedback"
)

type codecInfo struct {
	name    string
	bitrate int
}

var extensionCodecs = map[string]codecInfo{
	".wav":  {"PCM", 1411},
	".mp3":  {"MP3", 192},
	".m4a":  {"ALAC", 256},
	".flac": {"FLAC", 1000},
}

var unknownCodec = codecInfo{"Unknown", 128}

// Detector infers codec metadata from the artifact's file extension.
type Detector struct{}

// NewDetector creates the extension-mapping detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect never fails.
func (d *Detector) Detect(_ context.Context, artifactID string) (feedback.DetectionResult, error) {
	base := filepath.Base(artifactID)
	ext := strings.ToLower(filepath.Ext(base))

	codec, ok := extensionCodecs[ext]
	if !ok {
		codec = unknownCodec
	}

	container := strings.TrimPrefix(ext, ".")
	if container == "" {
		container = "raw"
	}

	channels := 2
	if strings.Contains(base, "short") {
		channels = 1
	}

	sampleRate := 44100
	if ext == ".wav" || ext == ".m4a" {
		sampleRate = 16000
	}

	return feedback.DetectionResult{
		CodecName:   codec.name,
		BitrateKbps: codec.bitrate,
		Channels:    channels,
		SampleRate:  sampleRate,
		Container:   container,
		Details: map[string]string{
			"filename":  base,
			"heuristic": "extension_mapping",
			"notes":     "Simulated metadata, replace with detector service output.",
		},
	}, nil
}
