// config_test.go - Outfox relay configuration tests.
// Copyright (C) 2017  Yawning Angel
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/outfox/core/pki"
)

func TestConfig(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := Load(nil)
	require.Error(err, "no Load() with nil config")
	require.EqualError(err, "No nil buffer as config file")

	dataDir := t.TempDir()
	basicConfig := `# A basic configuration example.
[Relay]
Identifier = "mix1.example.com"
Role = "mix"
Layer = 2
Address = "127.0.0.1:29483"
DataDir = "%s"

[Mixing]
DelayMean = 50
CoverTrafficProbability = 0.25

[Packet]
KEMScheme = "MLKEM768"
MaxHops = 3

[Logging]
Level = "debug"
`
	cfg, err := Load([]byte(fmt.Sprintf(basicConfig, dataDir)))
	require.NoError(err)
	require.Equal(pki.RoleMix, cfg.Relay.Role)
	require.Equal(2, cfg.Relay.Layer)
	require.Equal(3, cfg.Relay.Layers)
	require.Equal(uint64(50), cfg.Mixing.DelayMean)
	require.Equal(uint64(defaultMaxDelay), cfg.Mixing.MaxDelay)
	require.Equal(0.25, cfg.Mixing.CoverTrafficProbability)
	require.Equal(defaultInboundQueueSize, cfg.Mixing.InboundQueueSize)
	require.False(cfg.Mixing.DisableCoverTraffic)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal(defaultSuccessReward, cfg.Reputation.SuccessReward)
	require.Equal(defaultFailurePenalty, cfg.Reputation.FailurePenalty)
	require.Equal(defaultDecayFactor, cfg.Reputation.DecayFactor)
	require.Equal(filepath.Join(dataDir, defaultLedgerDB), cfg.Reputation.Database)

	g, err := cfg.Packet.Geometry()
	require.NoError(err)
	require.Equal(3, g.MaxHops)
	require.Equal("MLKEM768", g.KEMName)

	// Store and reload.
	f := filepath.Join(dataDir, "relay.toml")
	require.NoError(Store(cfg, f))
	cfg2, err := LoadFile(f)
	require.NoError(err)
	require.Equal(cfg, cfg2)
}

func TestConfigCoverTrafficDefaults(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dataDir := t.TempDir()
	cfg, err := Load([]byte(fmt.Sprintf(`[Relay]
Identifier = "exit.example.com"
Role = "exit"
DataDir = "%s"
`, dataDir)))
	require.NoError(err)
	require.Equal(defaultCoverTrafficProbability, cfg.Mixing.CoverTrafficProbability)
	require.Equal(uint64(defaultCoverTrafficInterval), cfg.Mixing.CoverTrafficInterval)

	cfg, err = Load([]byte(fmt.Sprintf(`[Relay]
Identifier = "exit.example.com"
Role = "exit"
DataDir = "%s"
[Mixing]
DisableCoverTraffic = true
`, dataDir)))
	require.NoError(err)
	require.Zero(cfg.Mixing.CoverTrafficProbability)
}

func TestConfigInvalid(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	for name, body := range map[string]string{
		"no relay block": `[Logging]
Level = "DEBUG"`,
		"relative datadir": `[Relay]
Identifier = "a"
Role = "mix"
DataDir = "relative/dir"`,
		"bad role": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "gateway"
DataDir = "%s"`, dataDir),
		"layer out of range": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "exit"
Layer = 4
DataDir = "%s"`, dataDir),
		"too many hops": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "mix"
DataDir = "%s"
[Packet]
MaxHops = 6`, dataDir),
		"unknown kem": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "mix"
DataDir = "%s"
[Packet]
KEMScheme = "RSA"`, dataDir),
		"cover probability": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "mix"
DataDir = "%s"
[Mixing]
CoverTrafficProbability = 1.5`, dataDir),
		"decay factor": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "mix"
DataDir = "%s"
[Reputation]
DecayFactor = 1.0`, dataDir),
		"unknown key": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "mix"
DataDir = "%s"
Colour = "blue"`, dataDir),
		"bad log level": fmt.Sprintf(`[Relay]
Identifier = "a"
Role = "mix"
DataDir = "%s"
[Logging]
Level = "LOUD"`, dataDir),
	} {
		_, err := Load([]byte(body))
		require.Error(t, err, name)
	}
}
