//go:build !pyroscope
// +build !pyroscope

// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package profiling hooks up continuous profiling when built with the
// pyroscope tag.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing.
func Start(log *logging.Logger, identifier string) error {
	log.Debugf("Profiling is disabled.")
	return nil
}
