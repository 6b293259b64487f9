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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/api"
	"github.com/AleutianAI/codecloop/services/feedback/batch"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

func (c *cli) newBatchCmd() *cobra.Command {
	var (
		flags    loopFlags
		parallel int
		gate     int
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "batch <artifact>...",
		Short: "Run independent feedback loops over many artifacts",
		Example: `  codecloop batch a.wav b.mp3 c.flac --parallel 2
  codecloop batch --from artifacts.txt -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd.Flags(), &c.cfg)
			if cmd.Flags().Changed("parallel") {
				c.cfg.Batch.Parallel = parallel
			}
			if cmd.Flags().Changed("gate") {
				c.cfg.Batch.Gate = gate
			}

			ids := append([]string(nil), args...)
			if fromFile != "" {
				more, err := readArtifactList(fromFile)
				if err != nil {
					return err
				}
				ids = append(ids, more...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("%w: no artifacts given", feedback.ErrConfiguration)
			}
			return c.runBatch(cmd, ids, flags)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().IntVarP(&parallel, "parallel", "p", batch.DefaultParallel, "concurrent runs")
	cmd.Flags().IntVar(&gate, "gate", 0, "cap on concurrent iterations across runs (0 disables)")
	cmd.Flags().StringVar(&fromFile, "from", "", "file with one artifact per line")
	return cmd
}

func (c *cli) runBatch(cmd *cobra.Command, ids []string, flags loopFlags) error {
	ctx := cmd.Context()
	loopCfg := c.cfg.Loop.Feedback()
	if err := loopCfg.Validate(); err != nil {
		return err
	}
	if c.cfg.Batch.Parallel < 1 {
		return fmt.Errorf("%w: parallel must be >= 1", feedback.ErrConfiguration)
	}

	controller, err := c.controller()
	if err != nil {
		return err
	}

	var store runstore.Store
	if !flags.noStore {
		store, err = c.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
	}

	runner := &batch.Runner{
		Looper:   controller,
		Config:   loopCfg,
		Parallel: c.cfg.Batch.Parallel,
		Store:    store,
		Logger:   c.slog(),
	}
	results, runErr := runner.Run(ctx, ids)

	resp := api.BatchResponse{
		Results: make([]api.BatchItem, len(results)),
		Stats:   batch.Summarize(results),
	}
	for i, res := range results {
		resp.Results[i] = api.BatchItem{
			ArtifactID: res.ArtifactID,
			RunID:      res.RunID,
			State:      res.Summary.State(),
			Success:    res.Summary.Success(),
			Steps:      res.Summary.Len(),
			Error:      feedback.NewRunError(res.Err),
		}
	}
	if err := printBatch(cmd.OutOrStdout(), flags.format, resp); err != nil {
		return err
	}

	switch {
	case runErr != nil:
		return runErr
	case resp.Stats.Failed > 0 || resp.Stats.Rejected > 0:
		return fmt.Errorf("%d of %d runs failed", resp.Stats.Failed+resp.Stats.Rejected, resp.Stats.Total)
	case flags.failOnExhausted && resp.Stats.Exhausted > 0:
		return fmt.Errorf("%d of %d runs: %w", resp.Stats.Exhausted, resp.Stats.Total, ErrExhausted)
	}
	return nil
}

// readArtifactList reads one artifact per line, skipping blanks and
// lines starting with #.
func readArtifactList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact list: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read artifact list: %w", err)
	}
	return ids, nil
}
