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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codecloop/cmd/codecloop/config"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
)

func (c *cli) newListCmd() *cobra.Command {
	var (
		format     string
		storePath  string
		artifactID string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("store") {
				c.cfg.Store.Backend = config.StoreBadger
				c.cfg.Store.Path = storePath
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var recs []runstore.RunRecord
			if artifactID != "" {
				recs, err = store.ListByArtifact(cmd.Context(), artifactID, limit)
			} else {
				recs, err = store.List(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), format, recs)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "", "output format: json, yaml, text")
	cmd.Flags().StringVar(&storePath, "store", "", "badger directory for run records")
	cmd.Flags().StringVar(&artifactID, "artifact", "", "only runs for this artifact")
	cmd.Flags().IntVarP(&limit, "limit", "n", runstore.DefaultListLimit, "maximum runs to list")
	return cmd
}
