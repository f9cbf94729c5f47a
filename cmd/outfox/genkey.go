// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/internal/mixkey"
	"github.com/katzenpost/outfox/relay/config"
)

func newGenkeyCommand() *cobra.Command {
	var configFile string
	var force bool

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a relay key pair",
		Long: `Genkey writes the relay's KEM key pair to its DataDir as PEM files and
prints the resulting node identifier.  An existing key is kept unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
			}
			g, err := cfg.Packet.Geometry()
			if err != nil {
				return err
			}

			var key *mixkey.MixKey
			if force {
				if key, err = mixkey.New(g.Scheme(), cfg.Mixing.ReplayFilterSize); err == nil {
					err = mixkey.Store(cfg.Relay.DataDir, key.KeyPair())
				}
			} else {
				key, err = mixkey.Load(cfg.Relay.DataDir, g.Scheme(), cfg.Mixing.ReplayFilterSize, true)
			}
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", g.KEMName, pki.NodeIDFromPublicKey(key.PublicKey()))
			return err
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "outfox.toml", "path to the relay configuration file (TOML format)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key pair")
	return cmd
}
