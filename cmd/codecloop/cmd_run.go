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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/codecloop/cmd/codecloop/config"
	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

// ErrExhausted is returned with --fail-on-exhausted when a run spends its
// budget without succeeding.
var ErrExhausted = errors.New("run exhausted its iteration budget")

// loopFlags are the flags shared by run and batch.
type loopFlags struct {
	maxIterations    int
	targetConfidence float64
	callTimeout      time.Duration
	remoteURL        string
	storePath        string
	noStore          bool
	format           string
	failOnExhausted  bool
}

func (f *loopFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.maxIterations, "max-iterations", feedback.DefaultMaxIterations, "iteration budget")
	fs.Float64Var(&f.targetConfidence, "target-confidence", feedback.DefaultTargetConfidence, "confidence a passing verification must reach")
	fs.DurationVar(&f.callTimeout, "call-timeout", 0, "per-collaborator call timeout (0 disables)")
	fs.StringVar(&f.remoteURL, "remote", "", "base URL of remote collaborators (default: local stubs)")
	fs.StringVar(&f.storePath, "store", "", "badger directory for run records")
	fs.BoolVar(&f.noStore, "no-store", false, "do not record runs")
	fs.StringVarP(&f.format, "format", "o", "", "output format: json, yaml, text (default: text on a terminal, json otherwise)")
	fs.BoolVar(&f.failOnExhausted, "fail-on-exhausted", false, "exit non-zero when a run exhausts without success")
}

// apply copies explicitly set flags over the loaded configuration.
func (f *loopFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("max-iterations") {
		cfg.Loop.MaxIterations = f.maxIterations
	}
	if fs.Changed("target-confidence") {
		cfg.Loop.TargetConfidence = f.targetConfidence
	}
	if fs.Changed("call-timeout") {
		cfg.Loop.CallTimeout = f.callTimeout
	}
	if fs.Changed("remote") {
		cfg.Remote.BaseURL = f.remoteURL
	}
	if fs.Changed("store") {
		cfg.Store.Backend = config.StoreBadger
		cfg.Store.Path = f.storePath
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	var flags loopFlags
	cmd := &cobra.Command{
		Use:   "run <artifact>",
		Short: "Run one feedback loop against an artifact",
		Example: `  codecloop run sample-001.wav
  codecloop run clip.mp3 --max-iterations 5 --target-confidence 0.9 -o yaml
  codecloop run clip.flac --remote http://collab.internal:8090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd.Flags(), &c.cfg)
			return c.runOne(cmd, args[0], flags)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func (c *cli) runOne(cmd *cobra.Command, artifactID string, flags loopFlags) error {
	ctx := cmd.Context()
	loopCfg := c.cfg.Loop.Feedback()
	if err := loopCfg.Validate(); err != nil {
		return err
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

	summary, runErr := controller.Run(ctx, artifactID, loopCfg)
	if errors.Is(runErr, feedback.ErrConfiguration) {
		return runErr
	}

	rec, err := runstore.NewRecord(summary, runErr)
	if err != nil {
		return err
	}
	c.saveRecord(ctx, store, rec)

	if err := printRecord(cmd.OutOrStdout(), flags.format, rec); err != nil {
		return err
	}

	switch {
	case runErr != nil:
		return fmt.Errorf("run %s aborted: %w", rec.ID, runErr)
	case flags.failOnExhausted && rec.State == feedback.StateExhausted:
		return fmt.Errorf("run %s: %w", rec.ID, ErrExhausted)
	}
	return nil
}
