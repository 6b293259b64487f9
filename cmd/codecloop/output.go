// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/codecloop/pkg/ux"
	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/api"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

// Output formats.
const (
	formatAuto = ""
	formatJSON = "json"
	formatYAML = "yaml"
	formatText = "text"
)

// resolveFormat returns format, or text for a terminal and JSON otherwise
// when format is empty.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch strings.ToLower(format) {
	case formatAuto:
		if isTerminal(w) {
			return formatText, nil
		}
		return formatJSON, nil
	case formatJSON, formatYAML, formatText:
		return strings.ToLower(format), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, yaml or text)", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeStructured writes v as indented JSON or YAML. YAML goes through a
// JSON round trip so json tags and raw documents are honored.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if format == formatJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// printRecord writes one run record in the requested format.
func printRecord(w io.Writer, format string, rec runstore.RunRecord) error {
	format, err := resolveFormat(format, w)
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(w, format, rec)
	}
	return renderRecord(w, rec)
}

func renderState(state feedback.RunState) string {
	switch state {
	case feedback.StateSucceeded:
		return ux.ToneSuccess.Render(state.String())
	case feedback.StateExhausted:
		return ux.ToneWarning.Render(state.String())
	case feedback.StateFailed:
		return ux.ToneError.Render(state.String())
	default:
		return ux.ToneNeutral.Render(string(state))
	}
}

func renderRecord(w io.Writer, rec runstore.RunRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", ux.Styles.Label.Render("Run:      "), rec.ID)
	fmt.Fprintf(&b, "%s %s\n", ux.Styles.Label.Render("Artifact: "), rec.ArtifactID)
	fmt.Fprintf(&b, "%s %s (success=%t, steps=%d)\n", ux.Styles.Label.Render("State:    "), renderState(rec.State), rec.Success, rec.Steps)
	fmt.Fprintf(&b, "%s %s\n", ux.Styles.Label.Render("Created:  "), rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "%s %s", ux.Styles.Label.Render("Digest:   "), ux.Styles.Muted.Render(rec.Digest))
	if rec.Error != nil {
		fmt.Fprintf(&b, "\n%s %s", ux.Styles.Label.Render("Error:    "), ux.Styles.Error.Render(rec.Error.Code+": "+rec.Error.Message))
	}
	if _, err := fmt.Fprintln(w, ux.Styles.Box.Render(b.String())); err != nil {
		return err
	}

	summary, err := rec.DecodeSummary()
	if err != nil {
		return err
	}
	for _, step := range summary.Steps() {
		if err := renderStep(w, step); err != nil {
			return err
		}
	}
	return nil
}

func renderStep(w io.Writer, step feedback.LoopStep) error {
	verdict := ux.Verdict(step.Verification.Passed)
	codec := step.CodecResult
	_, err := fmt.Fprintf(w, "%s %s/%s %dkbps %dch %dHz  strategy=%s  %s confidence=%.2f\n  %s\n",
		ux.Styles.Title.Render(fmt.Sprintf("#%d", step.Iteration)),
		codec.Container, codec.CodecName, codec.BitrateKbps, codec.Channels, codec.SampleRate,
		step.Perturbation.Parameters["strategy"],
		verdict, step.Verification.Confidence,
		ux.Styles.Muted.Render(step.Feedback),
	)
	return err
}

// printRecords writes a list of records.
func printRecords(w io.Writer, format string, recs []runstore.RunRecord) error {
	format, err := resolveFormat(format, w)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []runstore.RunRecord{}
	}
	if format != formatText {
		return writeStructured(w, format, api.ListResponse{Runs: recs, Count: len(recs)})
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, ux.Styles.Muted.Render("No runs recorded."))
		return err
	}
	for _, rec := range recs {
		if _, err := fmt.Fprintf(w, "%s  %-9s  %-8s  steps=%d  %s\n",
			rec.ID, renderState(rec.State), rec.CreatedAt.Format("2006-01-02 15:04"), rec.Steps, rec.ArtifactID); err != nil {
			return err
		}
	}
	return nil
}

// printBatch writes batch results.
func printBatch(w io.Writer, format string, resp api.BatchResponse) error {
	format, err := resolveFormat(format, w)
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(w, format, resp)
	}
	for _, item := range resp.Results {
		line := fmt.Sprintf("%-9s  steps=%d  %s", renderState(item.State), item.Steps, item.ArtifactID)
		if item.RunID != "" {
			line += "  " + ux.Styles.Muted.Render(item.RunID)
		}
		if item.Error != nil {
			line += "  " + ux.Styles.Error.Render(item.Error.Code)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	s := resp.Stats
	_, err = fmt.Fprintln(w, ux.Styles.Title.Render(fmt.Sprintf(
		"%d runs: %d succeeded, %d exhausted, %d failed, %d rejected",
		s.Total, s.Succeeded, s.Exhausted, s.Failed, s.Rejected)))
	return err
}
