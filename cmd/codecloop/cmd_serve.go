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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codecloop/cmd/codecloop/config"
	"github.com/AleutianAI/codecloop/services/feedback/api"
	"github.com/AleutianAI/codecloop/services/feedback/stub"
	"github.com/AleutianAI/codecloop/services/feedback/telemetry"
)

const serveServiceName = "codecloop-serve"

func (c *cli) newServeCmd() *cobra.Command {
	var (
		host      string
		port      int
		storePath string
		noCollab  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the feedback loop API over HTTP",
		Long: `Serve exposes /v1/feedback (runs, batches, stored records, health),
/v1/collab (the local stub collaborators, unless --no-collab) and, with the
Prometheus exporter, /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			if fs.Changed("host") {
				c.cfg.Server.Host = host
			}
			if fs.Changed("port") {
				c.cfg.Server.Port = port
			}
			if fs.Changed("store") {
				c.cfg.Store.Backend = config.StoreBadger
				c.cfg.Store.Path = storePath
			}
			if fs.Changed("no-collab") {
				c.cfg.Server.ServeCollab = !noCollab
			}

			addr := net.JoinHostPort(c.cfg.Server.Host, strconv.Itoa(c.cfg.Server.Port))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return c.serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&storePath, "store", "", "badger directory for run records")
	cmd.Flags().BoolVar(&noCollab, "no-collab", false, "do not mount the stub collaborators")
	return cmd
}

// serve runs the API on ln until ctx is canceled, then shuts down
// gracefully within the configured timeout.
func (c *cli) serve(ctx context.Context, ln net.Listener) error {
	logger := c.slog()

	shutdownTelemetry, err := telemetry.Init(ctx, c.cfg.Telemetry.Telemetry(serveServiceName))
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	handler, closeStore, err := c.buildHandler()
	if err != nil {
		return err
	}
	defer closeStore()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildHandler assembles the gin router over the configured controller and
// store. The returned func closes the store.
func (c *cli) buildHandler() (http.Handler, func(), error) {
	if c.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	controller, err := c.controller()
	if err != nil {
		return nil, nil, err
	}
	store, err := c.openStore()
	if err != nil {
		return nil, nil, err
	}

	hcfg := api.DefaultHandlerConfig()
	hcfg.Loop = c.cfg.Loop.Feedback()
	hcfg.BatchParallel = c.cfg.Batch.Parallel
	hcfg.MaxBatchSize = c.cfg.Server.MaxBatchSize

	rcfg := api.RouterConfig{
		ServiceName: serveServiceName,
		Handlers:    api.NewHandlers(controller, store, hcfg),
		Logger:      c.slog(),
	}
	if c.cfg.Server.ServeCollab {
		collab, err := stub.Collaborators(c.cfg.Verifier.Stub())
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		rcfg.Collab = api.NewCollabHandlers(collab)
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			c.slog().Warn("Failed to close run store", slog.String("error", err.Error()))
		}
	}
	return api.NewRouter(rcfg), closeStore, nil
}
