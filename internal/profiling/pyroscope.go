//go:build pyroscope
// +build pyroscope

// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start initializes Pyroscope profiling, tagging the profiles with the
// relay's identifier.
func Start(log *logging.Logger, identifier string) error {
	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "outfox"
	}

	_, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"relay": identifier,
		},
	})
	if err != nil {
		return err
	}
	log.Noticef("Pyroscope profiling %s as %s via %s.", identifier, appName, serverAddress)
	return nil
}
