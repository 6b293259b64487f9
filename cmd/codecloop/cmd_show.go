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
)

func (c *cli) newShowCmd() *cobra.Command {
	var (
		format    string
		storePath string
	)
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run and its step trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("store") {
				c.cfg.Store.Backend = config.StoreBadger
				c.cfg.Store.Path = storePath
			}
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), format, rec)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "", "output format: json, yaml, text")
	cmd.Flags().StringVar(&storePath, "store", "", "badger directory for run records")
	return cmd
}
