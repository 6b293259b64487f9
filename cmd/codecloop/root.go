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
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/codecloop/cmd/codecloop/config"
	"github.com/AleutianAI/codecloop/pkg/logging"
	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/remote"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
	"github.com/AleutianAI/codecloop/services/feedback/stub"
	"github.com/AleutianAI/codecloop/services/feedback/telemetry"
)

// skipConfigAnnotation marks commands that run without loading the config.
const skipConfigAnnotation = "codecloop/skip-config"

// cli holds the state shared by every command of one invocation.
type cli struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    config.Config
	logger *logging.Logger
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{out: out, errOut: errOut, cfg: config.DefaultConfig()}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "codecloop",
		Short: "Run codec-aware adversarial feedback loops",
		Long: `codecloop detects an artifact's codec, proposes a perturbation,
applies it, and verifies the result, feeding each verdict into the next
attempt until verification passes with the target confidence or the
iteration budget runs out.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default ~/.codecloop/codecloop.yaml)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&c.jsonLogs, "json-logs", false, "write logs as JSON")

	root.AddCommand(
		c.newRunCmd(),
		c.newBatchCmd(),
		c.newShowCmd(),
		c.newListCmd(),
		c.newServeCmd(),
		c.newConfigCmd(),
	)
	return root
}

// setup loads the configuration and installs the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if _, skip := cmd.Annotations[skipConfigAnnotation]; !skip {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
	}
	if c.logLevel != "" {
		c.cfg.Logging.Level = c.logLevel
	}
	if cmd.Flags().Changed("json-logs") {
		c.cfg.Logging.JSON = c.jsonLogs
	}

	level, err := logging.ParseLevel(c.cfg.Logging.Level)
	if err != nil {
		return err
	}
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  c.cfg.Logging.Dir,
		Service: "codecloop-" + cmd.Name(),
		JSON:    c.cfg.Logging.JSON,
		Output:  c.errOut,
	})
	slog.SetDefault(c.logger.Slog())
	return nil
}

func (c *cli) close() {
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

func (c *cli) slog() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger.Slog()
}

// collaborators returns the remote collaborators when a base URL is
// configured and the deterministic stubs otherwise.
func (c *cli) collaborators() (feedback.Collaborators, error) {
	rc := c.cfg.Remote
	if rc.BaseURL == "" {
		return stub.Collaborators(c.cfg.Verifier.Stub())
	}

	opts := []remote.ClientOption{remote.WithTimeout(rc.Timeout)}
	if rc.RatePerSecond > 0 {
		opts = append(opts, remote.WithRateLimit(rate.Limit(rc.RatePerSecond), max(rc.Burst, 1)))
	}
	client, err := remote.NewClient(rc.BaseURL, opts...)
	if err != nil {
		return feedback.Collaborators{}, err
	}
	c.slog().Debug("Using remote collaborators", slog.String("base_url", client.BaseURL()))
	return client.Collaborators(), nil
}

// controller builds a Controller wired to the configured collaborators,
// the global meter, and the optional iteration gate.
func (c *cli) controller() (*feedback.Controller, error) {
	collab, err := c.collaborators()
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(otel.Meter(feedback.DefaultTracerName))
	if err != nil {
		return nil, err
	}

	opts := []feedback.Option{
		feedback.WithLogger(c.slog()),
		feedback.WithMetrics(metrics),
	}
	if c.cfg.Batch.Gate > 0 {
		opts = append(opts, feedback.WithGate(semaphore.NewWeighted(int64(c.cfg.Batch.Gate))))
	}
	return feedback.NewController(collab, opts...)
}

// openStore opens the configured run store.
func (c *cli) openStore() (runstore.Store, error) {
	switch c.cfg.Store.Backend {
	case config.StoreMemory:
		return runstore.NewMemoryStore(), nil
	case config.StoreBadger:
		bc := c.cfg.Store.Badger()
		bc.Logger = c.slog().With(slog.String("component", "badger"))
		store, err := runstore.OpenBadger(bc)
		if err != nil {
			return nil, fmt.Errorf("open run store %s: %w", bc.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.cfg.Store.Backend)
	}
}

// saveRecord stores rec, logging rather than failing when the store is
// unavailable. It reports whether the record was stored.
func (c *cli) saveRecord(ctx context.Context, store runstore.Store, rec runstore.RunRecord) bool {
	if store == nil {
		return false
	}
	if err := store.Save(context.WithoutCancel(ctx), rec); err != nil {
		c.slog().Warn("Failed to store run",
			slog.String("run_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
