// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package simnet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/katzenpost/hpqc/kem/schemes"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/internal/mixkey"
	"github.com/katzenpost/outfox/multipath"
	"github.com/katzenpost/outfox/relay"
	"github.com/katzenpost/outfox/relay/config"
	"github.com/katzenpost/outfox/reputation"
	"github.com/katzenpost/outfox/routing"
)

const defaultPollInterval = 2 * time.Millisecond

// Config is a simulated network description.
type Config struct {
	// Width is the number of relays per layer.
	Width int

	// Packet, Mixing and Routing are shared by every relay.
	Packet  config.Packet
	Mixing  config.Mixing
	Routing config.Routing

	// Reputation parameterizes the shared ledger.
	Reputation config.Reputation

	// MinLatency and MaxLatency bound the advertised edge latencies.
	MinLatency time.Duration
	MaxLatency time.Duration

	// Loss is the probability a packet is lost between two relays.
	Loss float64

	// PollInterval is how often the hub moves packets.
	PollInterval time.Duration

	// DataDir is the directory relay state would be kept under.
	DataDir string
}

// Network is a layered network of relays joined by a Hub.  Layer 1 holds
// entry nodes, the last layer exit nodes, and every layer is fully
// connected to the next.
type Network struct {
	Hub    *Hub
	Graph  *routing.Graph
	Ledger *reputation.Ledger
	Sender *multipath.Sender

	layers [][]*relay.Node
}

// Layer returns the relays of layer l, counting from 1.
func (n *Network) Layer(l int) []*relay.Node {
	return n.layers[l-1]
}

// Entries returns the entry relays.
func (n *Network) Entries() []*relay.Node {
	return n.layers[0]
}

// Exits returns the exit relays.
func (n *Network) Exits() []*relay.Node {
	return n.layers[len(n.layers)-1]
}

// Nodes returns every relay, layer by layer.
func (n *Network) Nodes() []*relay.Node {
	var nodes []*relay.Node
	for _, l := range n.layers {
		nodes = append(nodes, l...)
	}
	return nodes
}

// Send sends msg from the entry src to the exit dst and returns the
// message identifier.
func (n *Network) Send(msg []byte, src, dst pki.NodeID) ([multipath.MessageIDLength]byte, error) {
	id, dispatches, err := n.Sender.Send(msg, src, dst)
	if err != nil {
		return id, err
	}
	var errs []error
	for _, d := range dispatches {
		if err := n.Hub.Dispatch(d); err != nil {
			errs = append(errs, err)
		}
	}
	return id, errors.Join(errs...)
}

// Halt stops every relay and the hub.
func (n *Network) Halt() {
	n.Hub.Halt()
	for _, node := range n.Nodes() {
		node.Halt()
	}
}

func (cfg *Config) fixup() error {
	if cfg.Width < 1 {
		return fmt.Errorf("simnet: Width %d must be positive", cfg.Width)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxLatency < cfg.MinLatency {
		return fmt.Errorf("simnet: MaxLatency %v is below MinLatency %v", cfg.MaxLatency, cfg.MinLatency)
	}
	if cfg.Loss < 0 || cfg.Loss >= 1 {
		return fmt.Errorf("simnet: Loss %v is out of range [0, 1)", cfg.Loss)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = os.TempDir()
	}

	// Resolve the shared sections' defaults once.
	tmpl := &config.Config{
		Relay: &config.Relay{
			Identifier: "simnet",
			Role:       pki.RoleMix,
			DataDir:    cfg.DataDir,
		},
		Packet:     &cfg.Packet,
		Mixing:     &cfg.Mixing,
		Reputation: &cfg.Reputation,
		Routing:    &cfg.Routing,
	}
	return tmpl.FixupAndValidate()
}

func (cfg *Config) relayConfig(role pki.Role, layer, index int) (*config.Config, error) {
	packet, mixing, routingCfg, rep := cfg.Packet, cfg.Mixing, cfg.Routing, cfg.Reputation
	id := fmt.Sprintf("%s-%d-%d", role, layer, index)
	c := &config.Config{
		Relay: &config.Relay{
			Identifier: id,
			Role:       role,
			Layer:      layer,
			Layers:     packet.MaxHops,
			DataDir:    filepath.Join(cfg.DataDir, id),
		},
		Packet:     &packet,
		Mixing:     &mixing,
		Reputation: &rep,
		Routing:    &routingCfg,
	}
	if err := c.FixupAndValidate(); err != nil {
		return nil, err
	}
	return c, nil
}

func roleOf(layer, layers int) pki.Role {
	switch layer {
	case 1:
		return pki.RoleEntry
	case layers:
		return pki.RoleExit
	default:
		return pki.RoleMix
	}
}

// NewNetwork builds and starts a simulated network.
func NewNetwork(cfg *Config, logBackend *log.Backend) (*Network, error) {
	if err := cfg.fixup(); err != nil {
		return nil, err
	}
	layers := cfg.Packet.MaxHops
	if layers < 2 {
		return nil, fmt.Errorf("simnet: %d layers can not separate entry and exit", layers)
	}
	scheme := schemes.ByName(cfg.Packet.KEMScheme)
	if scheme == nil {
		return nil, fmt.Errorf("simnet: unknown KEM scheme %s", cfg.Packet.KEMScheme)
	}

	ledger := reputation.New(reputation.ParamsFromConfig(&cfg.Reputation))
	n := &Network{
		Hub:    New(logBackend, cfg.PollInterval),
		Graph:  routing.NewGraph(),
		Ledger: ledger,
		layers: make([][]*relay.Node, layers),
	}
	n.Hub.SetLoss(cfg.Loss)
	n.Graph.SetLayers(layers)

	for l := 1; l <= layers; l++ {
		role := roleOf(l, layers)
		for i := 0; i < cfg.Width; i++ {
			relayCfg, err := cfg.relayConfig(role, l, i)
			if err != nil {
				n.Halt()
				return nil, err
			}
			key, err := mixkey.New(scheme, relayCfg.Mixing.ReplayFilterSize)
			if err != nil {
				n.Halt()
				return nil, err
			}
			node, err := relay.New(relayCfg, key, logBackend, relay.WithObserver(ledger), relay.WithDecoyRouter(n.Hub))
			if err != nil {
				n.Halt()
				return nil, err
			}
			n.layers[l-1] = append(n.layers[l-1], node)
			n.Hub.AddNode(node)
			n.Graph.AddNode(node.Info())
			ledger.AddNode(node.ID())
		}
	}

	rng := rand.NewMath()
	spread := int64(cfg.MaxLatency - cfg.MinLatency)
	for l := 0; l < layers-1; l++ {
		for _, from := range n.layers[l] {
			for _, to := range n.layers[l+1] {
				latency := cfg.MinLatency
				if spread > 0 {
					latency += time.Duration(rng.Int63n(spread + 1))
				}
				if err := n.Graph.AddEdge(routing.Edge{From: from.ID(), To: to.ID(), Latency: latency}); err != nil {
					n.Halt()
					return nil, err
				}
			}
		}
	}

	var err error
	n.Sender, err = multipath.NewSender(n.layers[0][0].Outfox(), n.Graph, &cfg.Routing, ledger, cfg.Reputation.Threshold)
	if err != nil {
		n.Halt()
		return nil, err
	}
	return n, nil
}
