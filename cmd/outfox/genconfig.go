// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/relay/config"
)

func newGenconfigCommand() *cobra.Command {
	var (
		out        string
		identifier string
		role       string
		layer      int
		dataDir    string
		address    string
		metrics    string
		kemScheme  string
	)

	cmd := &cobra.Command{
		Use:   "genconfig",
		Short: "Write a relay configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := pki.ParseRole(role)
			if err != nil {
				return fmt.Errorf("invalid argument: %v", err)
			}
			dir, err := filepath.Abs(dataDir)
			if err != nil {
				return err
			}
			cfg := &config.Config{
				Relay: &config.Relay{
					Identifier:     identifier,
					Role:           r,
					Layer:          layer,
					Address:        address,
					MetricsAddress: metrics,
					DataDir:        dir,
				},
				Packet: &config.Packet{
					KEMScheme: kemScheme,
				},
			}
			if err := cfg.FixupAndValidate(); err != nil {
				return err
			}
			if err := config.Store(cfg, out); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "outfox.toml", "configuration file to write")
	cmd.Flags().StringVar(&identifier, "identifier", "", "relay identifier")
	cmd.Flags().StringVar(&role, "role", "mix", "relay role: entry, mix, exit or validator")
	cmd.Flags().IntVar(&layer, "layer", 1, "topology layer")
	cmd.Flags().StringVar(&dataDir, "datadir", ".", "relay state directory")
	cmd.Flags().StringVar(&address, "address", "", "advertised host:port")
	cmd.Flags().StringVar(&metrics, "metrics", "", "prometheus listener host:port")
	cmd.Flags().StringVar(&kemScheme, "kem", "", "KEM scheme name")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}
