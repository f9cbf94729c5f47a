// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/internal/instrument"
	"github.com/katzenpost/outfox/internal/mixkey"
	"github.com/katzenpost/outfox/internal/profiling"
	"github.com/katzenpost/outfox/internal/simnet"
	"github.com/katzenpost/outfox/relay"
	"github.com/katzenpost/outfox/relay/config"
	"github.com/katzenpost/outfox/reputation"
)

const loopbackPollInterval = 10 * time.Millisecond

func newRunCommand() *cobra.Command {
	var configFile string
	var genOnly bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a relay",
		Long: `Run starts a relay from its configuration file.  The relay's key pair is
loaded from DataDir, or generated on first start.  The reputation ledger is
restored from its database, decayed and checkpointed every DecayInterval,
and saved on shutdown.  Logs are reopened on SIGHUP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configFile, genOnly)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "outfox.toml", "path to the relay configuration file (TOML format)")
	cmd.Flags().BoolVarP(&genOnly, "generate-only", "g", false, "generate the relay key pair and exit")
	return cmd
}

func runRelay(configFile string, genOnly bool) error {
	// Ensure that a sane number of OS threads is allowed.
	if os.Getenv("GOMAXPROCS") == "" {
		if nProcs, nCPU := runtime.GOMAXPROCS(0), runtime.NumCPU(); nProcs < nCPU {
			runtime.GOMAXPROCS(nCPU)
		}
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %v", err)
	}
	logger := logBackend.GetLogger("outfox")
	if err := profiling.Start(logger, cfg.Relay.Identifier); err != nil {
		logger.Warningf("Failed to start profiling: %v", err)
	}

	g, err := cfg.Packet.Geometry()
	if err != nil {
		return err
	}
	key, err := mixkey.Load(cfg.Relay.DataDir, g.Scheme(), cfg.Mixing.ReplayFilterSize, true)
	if err != nil {
		return fmt.Errorf("failed to load relay key: %v", err)
	}
	if genOnly {
		logger.Noticef("Generated key pair in %v.", cfg.Relay.DataDir)
		return nil
	}

	store, err := reputation.OpenStore(cfg.Reputation.Database)
	if err != nil {
		return fmt.Errorf("failed to open reputation ledger: %v", err)
	}
	defer store.Close()
	ledger := reputation.New(reputation.ParamsFromConfig(cfg.Reputation))
	n, err := store.Load(ledger)
	if err != nil {
		return fmt.Errorf("failed to load reputation ledger: %v", err)
	}
	logger.Noticef("Restored %d reputation records.", n)

	// Without a network transport the relay serves its own decoy loops.
	hub := simnet.New(logBackend, loopbackPollInterval)
	node, err := relay.New(cfg, key, logBackend, relay.WithObserver(ledger), relay.WithDecoyRouter(hub))
	if err != nil {
		hub.Halt()
		return fmt.Errorf("failed to start relay: %v", err)
	}
	ledger.AddNode(node.ID())
	hub.AddNode(node)

	decayer := reputation.NewDecayer(ledger, store, time.Duration(cfg.Reputation.DecayInterval)*time.Millisecond, logBackend.GetLogger("reputation"))

	errCh := make(chan error, 1)
	if addr := cfg.Relay.MetricsAddress; addr != "" {
		srv := instrument.StartPrometheusListener(addr, errCh)
		defer srv.Close()
		logger.Noticef("Serving metrics on %v.", addr)
	}

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	logger.Noticef("Relay %v is running.", node.ID())
	var runErr error
loop:
	for {
		select {
		case <-haltCh:
			logger.Noticef("Shutting down.")
			break loop
		case <-rotateCh:
			if err := logBackend.Rotate(); err != nil {
				logger.Errorf("Failed to rotate logs: %v", err)
			}
		case err := <-errCh:
			if err != nil {
				runErr = fmt.Errorf("metrics listener failed: %v", err)
				break loop
			}
		}
	}

	hub.Halt()
	node.Halt()
	decayer.Halt()
	if err := store.Save(ledger); err != nil {
		logger.Errorf("Failed to save reputation ledger: %v", err)
	}
	st := node.Stats()
	logger.Noticef("Processed %d packets, dropped %d, sent %d decoys.", st.Processed, st.Dropped, st.Decoys)
	return runErr
}
