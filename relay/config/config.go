// config.go - Outfox relay configuration.
// Copyright (C) 2017  Yawning Angel and David Stainton.
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

// Package config provides the Outfox relay configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/pki"
)

const (
	defaultLogLevel                = "NOTICE"
	defaultMaxHops                 = outfox.AbsoluteMaxHops
	defaultDelayMean               = 100  // 100 ms.
	defaultMaxDelay                = 5000 // 5 sec.
	defaultCoverTrafficProbability = 0.1
	defaultCoverTrafficInterval    = 1000 // 1 sec.
	defaultInboundQueueSize        = 1000
	defaultReplayFilterSize        = 20
	defaultInitialScore            = 0.5
	defaultSuccessReward           = 0.01
	defaultFailurePenalty          = 0.05
	defaultDecayFactor             = 0.95
	defaultDecayInterval           = 60 * 1000 // 60 sec.
	defaultThreshold               = 0.3
	defaultLedgerDB                = "reputation.db"
	defaultPaths                   = 3
	defaultDataShards              = 2
	defaultParityShards            = 1

	maxReplayFilterSize = 32
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Relay is the relay identity configuration.
type Relay struct {
	// Identifier is the human readable identifier for the node (eg: FQDN).
	Identifier string

	// Role is one of entry, mix, exit or validator.
	Role pki.Role

	// Layer is the topology layer of the node, 1 to Layers.
	Layer int

	// Layers is the number of topology layers in the network.
	Layers int

	// Stake is the amount bonded by the operator.
	Stake uint64

	// Address is the host:port advertised to the transport.
	Address string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  If empty, no endpoint is started.
	MetricsAddress string

	// DataDir is the absolute path to the relay's state files.
	DataDir string
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.Layers == 0 {
		rCfg.Layers = 3
	}
	if rCfg.Layer == 0 {
		rCfg.Layer = 1
	}
}

func (rCfg *Relay) validate() error {
	if rCfg.Identifier == "" {
		return errors.New("config: Relay: Identifier is not set")
	}
	if rCfg.Role == pki.RoleInvalid {
		return errors.New("config: Relay: Role is not set")
	}
	if rCfg.Layer < 1 || rCfg.Layer > rCfg.Layers {
		return fmt.Errorf("config: Relay: Layer %d is out of range [1, %d]", rCfg.Layer, rCfg.Layers)
	}
	if rCfg.Address != "" {
		if _, _, err := net.SplitHostPort(rCfg.Address); err != nil {
			return fmt.Errorf("config: Relay: Address '%v' is invalid: %v", rCfg.Address, err)
		}
	}
	if rCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(rCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Relay: MetricsAddress '%v' is invalid: %v", rCfg.MetricsAddress, err)
		}
	}
	if !filepath.IsAbs(rCfg.DataDir) {
		return fmt.Errorf("config: Relay: DataDir '%v' is not an absolute path", rCfg.DataDir)
	}
	return nil
}

// Packet is the packet geometry configuration.  Every node of a network
// must use the same values.
type Packet struct {
	// KEMScheme is the hpqc KEM scheme name.
	KEMScheme string

	// MaxHops is the maximum route length, 1 to 5.
	MaxHops int

	// PayloadLength is the padded payload length in bytes.
	PayloadLength int
}

func (pCfg *Packet) applyDefaults() {
	if pCfg.KEMScheme == "" {
		pCfg.KEMScheme = outfox.DefaultKEMName
	}
	if pCfg.MaxHops == 0 {
		pCfg.MaxHops = defaultMaxHops
	}
	if pCfg.PayloadLength == 0 {
		pCfg.PayloadLength = outfox.DefaultPayloadLength
	}
}

// Geometry returns the validated packet Geometry.
func (pCfg *Packet) Geometry() (*outfox.Geometry, error) {
	g := &outfox.Geometry{
		KEMName:       pCfg.KEMScheme,
		MaxHops:       pCfg.MaxHops,
		PayloadLength: pCfg.PayloadLength,
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("config: Packet: %v", err)
	}
	return g, nil
}

// Mixing is the mixing strategy configuration.
type Mixing struct {
	// DelayMean is the mean of the exponentially distributed per-hop
	// delay in milliseconds.
	DelayMean uint64

	// MaxDelay is the upper bound on a sampled delay in milliseconds.
	MaxDelay uint64

	// CoverTrafficProbability is the probability that a cover traffic
	// tick emits a decoy.
	CoverTrafficProbability float64

	// DisableCoverTraffic disables the cover traffic loop.
	DisableCoverTraffic bool

	// CoverTrafficInterval is the mean interval between cover traffic
	// ticks in milliseconds.
	CoverTrafficInterval uint64

	// InboundQueueSize is the capacity of the inbound queue.
	InboundQueueSize int

	// ReplayFilterSize is the log2 of the replay filter size in bits.
	ReplayFilterSize int
}

func (mCfg *Mixing) applyDefaults() {
	if mCfg.DelayMean == 0 {
		mCfg.DelayMean = defaultDelayMean
	}
	if mCfg.MaxDelay == 0 {
		mCfg.MaxDelay = defaultMaxDelay
	}
	if mCfg.CoverTrafficProbability == 0 && !mCfg.DisableCoverTraffic {
		mCfg.CoverTrafficProbability = defaultCoverTrafficProbability
	}
	if mCfg.CoverTrafficInterval == 0 {
		mCfg.CoverTrafficInterval = defaultCoverTrafficInterval
	}
	if mCfg.InboundQueueSize == 0 {
		mCfg.InboundQueueSize = defaultInboundQueueSize
	}
	if mCfg.ReplayFilterSize == 0 {
		mCfg.ReplayFilterSize = defaultReplayFilterSize
	}
}

func (mCfg *Mixing) validate() error {
	if mCfg.MaxDelay < mCfg.DelayMean {
		return fmt.Errorf("config: Mixing: MaxDelay %d is smaller than DelayMean %d", mCfg.MaxDelay, mCfg.DelayMean)
	}
	if mCfg.CoverTrafficProbability < 0 || mCfg.CoverTrafficProbability > 1 {
		return fmt.Errorf("config: Mixing: CoverTrafficProbability %v is out of range [0, 1]", mCfg.CoverTrafficProbability)
	}
	if mCfg.InboundQueueSize < 0 {
		return fmt.Errorf("config: Mixing: InboundQueueSize %d is negative", mCfg.InboundQueueSize)
	}
	if mCfg.ReplayFilterSize < 10 || mCfg.ReplayFilterSize > maxReplayFilterSize {
		return fmt.Errorf("config: Mixing: ReplayFilterSize %d is out of range [10, %d]", mCfg.ReplayFilterSize, maxReplayFilterSize)
	}
	return nil
}

// Reputation is the reputation ledger configuration.
type Reputation struct {
	// InitialScore is the score assigned to newly known nodes.
	InitialScore float64

	// SuccessReward is added to the score on every success.
	SuccessReward float64

	// FailurePenalty is subtracted from the score on every failure.
	FailurePenalty float64

	// DecayFactor multiplies every score on every decay tick.
	DecayFactor float64

	// DecayInterval is the interval between decay ticks in milliseconds.
	DecayInterval uint64

	// Threshold is the minimum score of nodes eligible for routing.
	Threshold float64

	// Database is the ledger's bolt database file, relative to DataDir
	// unless absolute.
	Database string
}

func (rCfg *Reputation) applyDefaults(dataDir string) {
	if rCfg.InitialScore == 0 {
		rCfg.InitialScore = defaultInitialScore
	}
	if rCfg.SuccessReward == 0 {
		rCfg.SuccessReward = defaultSuccessReward
	}
	if rCfg.FailurePenalty == 0 {
		rCfg.FailurePenalty = defaultFailurePenalty
	}
	if rCfg.DecayFactor == 0 {
		rCfg.DecayFactor = defaultDecayFactor
	}
	if rCfg.DecayInterval == 0 {
		rCfg.DecayInterval = defaultDecayInterval
	}
	if rCfg.Threshold == 0 {
		rCfg.Threshold = defaultThreshold
	}
	if rCfg.Database == "" {
		rCfg.Database = defaultLedgerDB
	}
	if !filepath.IsAbs(rCfg.Database) {
		rCfg.Database = filepath.Join(dataDir, rCfg.Database)
	}
}

func (rCfg *Reputation) validate() error {
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"InitialScore", rCfg.InitialScore},
		{"SuccessReward", rCfg.SuccessReward},
		{"FailurePenalty", rCfg.FailurePenalty},
		{"Threshold", rCfg.Threshold},
	} {
		if v.val < 0 || v.val > 1 {
			return fmt.Errorf("config: Reputation: %s %v is out of range [0, 1]", v.name, v.val)
		}
	}
	if rCfg.DecayFactor <= 0 || rCfg.DecayFactor >= 1 {
		return fmt.Errorf("config: Reputation: DecayFactor %v is out of range (0, 1)", rCfg.DecayFactor)
	}
	return nil
}

// Routing is the multipath routing configuration.
type Routing struct {
	// Paths is the number of disjoint paths requested per message.
	Paths int

	// DataShards is the number of erasure coded data shards per message.
	DataShards int

	// ParityShards is the number of erasure coded parity shards per
	// message.
	ParityShards int
}

func (rCfg *Routing) applyDefaults() {
	if rCfg.Paths == 0 {
		rCfg.Paths = defaultPaths
	}
	if rCfg.DataShards == 0 {
		rCfg.DataShards = defaultDataShards
	}
	if rCfg.ParityShards == 0 {
		rCfg.ParityShards = defaultParityShards
	}
}

func (rCfg *Routing) validate() error {
	if rCfg.Paths < 1 {
		return fmt.Errorf("config: Routing: Paths %d must be positive", rCfg.Paths)
	}
	if rCfg.DataShards < 1 || rCfg.ParityShards < 1 {
		return fmt.Errorf("config: Routing: invalid shard counts %d+%d", rCfg.DataShards, rCfg.ParityShards)
	}
	return nil
}

// Logging is the Outfox relay logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	if _, err := log.ParseLevel(lCfg.Level); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = strings.ToUpper(lCfg.Level) // Force uppercase.
	return nil
}

// Config is the top level Outfox relay configuration.
type Config struct {
	Relay      *Relay
	Packet     *Packet
	Mixing     *Mixing
	Reputation *Reputation
	Routing    *Routing
	Logging    *Logging
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Relay section is mandatory, everything else is optional.
	if cfg.Relay == nil {
		return errors.New("config: No Relay block was present")
	}
	if cfg.Packet == nil {
		cfg.Packet = &Packet{}
	}
	if cfg.Mixing == nil {
		cfg.Mixing = &Mixing{}
	}
	if cfg.Reputation == nil {
		cfg.Reputation = &Reputation{}
	}
	if cfg.Routing == nil {
		cfg.Routing = &Routing{}
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}

	cfg.Relay.applyDefaults()
	cfg.Packet.applyDefaults()
	cfg.Mixing.applyDefaults()
	cfg.Reputation.applyDefaults(cfg.Relay.DataDir)
	cfg.Routing.applyDefaults()

	if err := cfg.Relay.validate(); err != nil {
		return err
	}
	if _, err := cfg.Packet.Geometry(); err != nil {
		return err
	}
	if err := cfg.Mixing.validate(); err != nil {
		return err
	}
	if err := cfg.Reputation.validate(); err != nil {
		return err
	}
	if err := cfg.Routing.validate(); err != nil {
		return err
	}
	if cfg.Routing.Paths < cfg.Routing.DataShards+cfg.Routing.ParityShards {
		return fmt.Errorf("config: Routing: %d paths can not carry %d shards", cfg.Routing.Paths, cfg.Routing.DataShards+cfg.Routing.ParityShards)
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	var err error
	cfg.Relay.Identifier, err = idna.Lookup.ToASCII(cfg.Relay.Identifier)
	if err != nil {
		return fmt.Errorf("config: Failed to normalize Identifier: %v", err)
	}
	return nil
}

// Store writes a config to fileName on disk as TOML.
func Store(cfg *Config, fileName string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(fileName, buf.Bytes(), 0600)
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
