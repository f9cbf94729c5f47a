// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/katzenpost/hpqc/kem/mlkem768"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/relay/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenconfigAndGenkey(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dir := t.TempDir()
	f := filepath.Join(dir, "exit.toml")
	_, err := execute(t, "genconfig", "-o", f, "--identifier", "exit1", "--role", "exit",
		"--layer", "3", "--datadir", dir, "--kem", mlkem768.Scheme().Name())
	require.NoError(err)

	cfg, err := config.LoadFile(f)
	require.NoError(err)
	require.Equal(pki.RoleExit, cfg.Relay.Role)
	require.Equal(3, cfg.Relay.Layer)

	out, err := execute(t, "genkey", "-f", f)
	require.NoError(err)
	again, err := execute(t, "genkey", "-f", f)
	require.NoError(err)
	require.Equal(out, again, "existing keys are kept")
	require.True(strings.HasPrefix(out, mlkem768.Scheme().Name()+" "))

	forced, err := execute(t, "genkey", "-f", f, "--force")
	require.NoError(err)
	require.NotEqual(out, forced)

	_, err = execute(t, "genconfig", "-o", f, "--identifier", "x", "--role", "bogus")
	require.Error(err)
	require.True(isUsageError(err))
}

func TestSimulate(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var out bytes.Buffer
	err := simulate(&out, &simulateFlags{
		width:        2,
		hops:         3,
		kemScheme:    mlkem768.Scheme().Name(),
		payload:      1024,
		messages:     3,
		size:         600,
		delayMean:    1,
		maxDelay:     5,
		paths:        2,
		dataShards:   1,
		parityShards: 1,
		timeout:      20 * time.Second,
	})
	require.NoError(err)
	require.Contains(out.String(), "3/3 messages delivered")
	require.Contains(out.String(), "Top relays")
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.True(isUsageError(errors.New("unknown flag: --bogus")))
	require.False(isUsageError(errors.New("relay: node is halted")))

	var buf bytes.Buffer
	cmd := newRootCommand()
	errorHandlerWithUsage(cmd)(&buf, fang.Styles{}, errors.New("unknown flag: --bogus"))
	require.Contains(buf.String(), "Usage")
	require.Contains(buf.String(), "simulate", "usage is written to the error writer")

	buf.Reset()
	errorHandlerWithUsage(cmd)(&buf, fang.Styles{}, errors.New("relay: node is halted"))
	require.Contains(buf.String(), "--help")
	require.NotContains(buf.String(), "simulate")
}
