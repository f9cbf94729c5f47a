// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay implements the Outfox relay node pipeline.
package relay

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/outfox/crypto"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/core/worker"
	"github.com/katzenpost/outfox/internal/instrument"
	"github.com/katzenpost/outfox/internal/mixkey"
	"github.com/katzenpost/outfox/relay/config"
)

var (
	// ErrReplay is the drop reason for a packet seen before at the same
	// layer.
	ErrReplay = errors.New("relay: replayed packet")

	// ErrMisrouted is the drop reason for a fresh packet handed to an
	// entry node it was not built for.
	ErrMisrouted = errors.New("relay: packet is not addressed to this node")

	// ErrNotRelaying is the drop reason for every packet handed to a
	// validator.
	ErrNotRelaying = errors.New("relay: validators do not relay packets")

	// ErrQueueFull is returned when the inbound queue is at capacity.
	ErrQueueFull = errors.New("relay: inbound queue is full")

	// ErrHalted is returned when a packet is handed to a halted node.
	ErrHalted = errors.New("relay: node is halted")
)

// Observer receives the outcome of every packet a node handles.
type Observer interface {
	// PacketProcessed is called when the node successfully processed a
	// packet, with the time it took including the mixing delay.
	PacketProcessed(id pki.NodeID, latency time.Duration)

	// PacketDropped is called when the node dropped a packet.
	PacketDropped(id pki.NodeID, err error)
}

type scorer interface {
	Score(id pki.NodeID) float64
}

// Stats is a snapshot of a node's counters.
type Stats struct {
	Processed      uint64
	AverageLatency time.Duration
	QueueDepth     int
	Reputation     float64
	Dropped        uint64
	Decoys         uint64
	DecoysSunk     uint64
	Delivered      uint64
}

// Option configures a Node.
type Option func(*Node)

// WithObserver reports packet outcomes to o.
func WithObserver(o Observer) Option {
	return func(n *Node) {
		n.observer = o
	}
}

// WithDecoyRouter has r choose and carry the node's cover traffic loops.
// Without one, loops pass through the node alone.
func WithDecoyRouter(r DecoyRouter) Option {
	return func(n *Node) {
		n.decoyRouter = r
	}
}

// Node is a relay node.  It owns a processing loop and a cover traffic loop.
type Node struct {
	worker.Worker

	log *logging.Logger

	info   *pki.NodeInfo
	key    *mixkey.MixKey
	outfox *outfox.Outfox
	cfg    *config.Mixing

	inCh      chan *outfox.Packet
	outbound  fifo
	delivered fifo

	observer    Observer
	decoyRouter DecoyRouter

	rng      *mRand.Rand
	coverRng *mRand.Rand

	statsLock    sync.Mutex
	processed    uint64
	totalLatency time.Duration
	dropped      uint64
	decoys       uint64
	decoysSunk   uint64
	nDelivered   uint64
}

// ID returns the node's identifier.
func (n *Node) ID() pki.NodeID {
	return n.info.ID
}

// Info returns the node's descriptor.
func (n *Node) Info() *pki.NodeInfo {
	return n.info
}

// PublicKey returns the node's KEM public key.
func (n *Node) PublicKey() kem.PublicKey {
	return n.key.PublicKey()
}

// Outfox returns the packet engine used by the node.
func (n *Node) Outfox() *outfox.Outfox {
	return n.outfox
}

// Receive deserializes b and enqueues it for processing.  A full inbound
// queue drops the packet.
func (n *Node) Receive(b []byte) error {
	pkt, err := n.outfox.FromBytes(b)
	if err != nil {
		n.drop(nil, err)
		return err
	}
	return n.enqueue(pkt)
}

// OnPacket enqueues pkt for processing.
func (n *Node) OnPacket(pkt *outfox.Packet) {
	n.enqueue(pkt)
}

func (n *Node) enqueue(pkt *outfox.Packet) error {
	if n.IsHalted() {
		return ErrHalted
	}
	select {
	case n.inCh <- pkt:
		instrument.PacketsReceived()
		instrument.InboundQueue(len(n.inCh))
		return nil
	default:
		n.drop(pkt, ErrQueueFull)
		return ErrQueueFull
	}
}

// TakeOutbound removes the oldest processed packet from the outbound queue.
func (n *Node) TakeOutbound() ([]byte, bool) {
	return n.outbound.pop()
}

// TakeDelivered removes the oldest message delivered by this exit node.
func (n *Node) TakeDelivered() ([]byte, bool) {
	return n.delivered.pop()
}

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() Stats {
	n.statsLock.Lock()
	s := Stats{
		Processed:  n.processed,
		QueueDepth: len(n.inCh),
		Reputation: n.info.Reputation,
		Dropped:    n.dropped,
		Decoys:     n.decoys,
		DecoysSunk: n.decoysSunk,
		Delivered:  n.nDelivered,
	}
	if n.processed > 0 {
		s.AverageLatency = n.totalLatency / time.Duration(n.processed)
	}
	n.statsLock.Unlock()

	if sc, ok := n.observer.(scorer); ok {
		s.Reputation = sc.Score(n.info.ID)
	}
	return s
}

// Halt stops the node's loops.  Packets waiting out their mixing delay are
// dropped.
func (n *Node) Halt() {
	n.Worker.Halt()
	n.log.Debugf("Halted.")
}

func (n *Node) worker() {
	for {
		var pkt *outfox.Packet
		select {
		case <-n.HaltCh():
			n.log.Debugf("Terminating gracefully.")
			return
		case pkt = <-n.inCh:
		}
		n.process(pkt)
	}
}

func (n *Node) process(pkt *outfox.Packet) {
	start := time.Now()

	if n.info.Role == pki.RoleValidator {
		n.drop(pkt, ErrNotRelaying)
		return
	}
	tag := mixkey.ReplayTag(pkt)
	if n.key.IsReplay(tag[:]) {
		instrument.PacketsReplayed()
		n.drop(pkt, ErrReplay)
		return
	}
	if !pkt.VerifyIntegrity() {
		n.drop(pkt, outfox.ErrIntegrity)
		return
	}
	if n.info.Role == pki.RoleEntry && pkt.Metadata.Layer == 0 && pki.NodeID(pkt.Metadata.NextHopHash) != n.info.ID {
		n.drop(pkt, ErrMisrouted)
		return
	}

	hop, err := n.outfox.ProcessLayer(pkt, n.key.PrivateKey())
	if err != nil {
		n.drop(pkt, err)
		return
	}

	if hop.Terminal {
		switch {
		case hop.Decoy:
			n.log.Debugf("Sinking decoy %x.", pkt.Metadata.PacketID)
			instrument.DecoysReceived()
			n.statsLock.Lock()
			n.decoysSunk++
			n.statsLock.Unlock()
		case n.info.Role == pki.RoleExit:
			n.log.Debugf("Delivering %x (%d bytes).", pkt.Metadata.PacketID, len(hop.Payload))
			n.delivered.push(hop.Payload)
			instrument.PacketsDelivered()
			n.statsLock.Lock()
			n.nDelivered++
			n.statsLock.Unlock()
		default:
			// Entry and mix nodes only terminate loops.
			n.log.Debugf("Sinking terminal packet %x.", pkt.Metadata.PacketID)
		}
		n.recordProcessed(time.Since(start))
		return
	}

	delay := n.sampleDelay()
	instrument.MixingDelay(delay)
	if !n.Sleep(delay) {
		n.log.Debugf("Halted while delaying %x, dropping.", pkt.Metadata.PacketID)
		return
	}

	b, err := pkt.MarshalBinary()
	if err != nil {
		n.drop(pkt, err)
		return
	}
	n.outbound.push(b)
	instrument.PacketsProcessed()
	n.recordProcessed(time.Since(start))
}

func (n *Node) sampleDelay() time.Duration {
	if n.cfg.DelayMean == 0 {
		return 0
	}
	delayMsec := uint64(rand.Exp(n.rng, 1/float64(n.cfg.DelayMean)))
	if delayMsec > n.cfg.MaxDelay {
		delayMsec = n.cfg.MaxDelay
	}
	return time.Duration(delayMsec) * time.Millisecond
}

func (n *Node) recordProcessed(latency time.Duration) {
	n.statsLock.Lock()
	n.processed++
	n.totalLatency += latency
	n.statsLock.Unlock()

	if n.observer != nil {
		n.observer.PacketProcessed(n.info.ID, latency)
	}
}

func (n *Node) drop(pkt *outfox.Packet, err error) {
	n.statsLock.Lock()
	n.dropped++
	n.statsLock.Unlock()

	instrument.PacketsDropped(dropReason(err))
	if pkt != nil {
		n.log.Debugf("Dropping packet %x: %v", pkt.Metadata.PacketID, err)
	} else {
		n.log.Debugf("Dropping packet: %v", err)
	}
	if n.observer != nil {
		n.observer.PacketDropped(n.info.ID, err)
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrMisrouted):
		return "misrouted"
	case errors.Is(err, ErrNotRelaying):
		return "validator"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, outfox.ErrIntegrity):
		return "integrity"
	case errors.Is(err, outfox.ErrLayersExhausted):
		return "layers_exhausted"
	case errors.Is(err, outfox.ErrSerialization):
		return "serialization"
	case errors.Is(err, crypto.ErrCrypto):
		return "crypto"
	default:
		return "other"
	}
}

// New constructs and starts a relay node from cfg, using key as the node's
// KEM key pair and replay filter.
func New(cfg *config.Config, key *mixkey.MixKey, logBackend *log.Backend, opts ...Option) (*Node, error) {
	g, err := cfg.Packet.Geometry()
	if err != nil {
		return nil, err
	}
	if name := key.PublicKey().Scheme().Name(); name != g.KEMName {
		return nil, fmt.Errorf("relay: key scheme %s does not match packet scheme %s", name, g.KEMName)
	}
	o, err := outfox.New(g)
	if err != nil {
		return nil, err
	}
	info, err := pki.NewNodeInfo(key.PublicKey(), cfg.Relay.Layer, cfg.Relay.Role, cfg.Relay.Stake, cfg.Relay.Address)
	if err != nil {
		return nil, err
	}

	n := &Node{
		log:      logBackend.GetLogger("relay/" + cfg.Relay.Identifier),
		info:     info,
		key:      key,
		outfox:   o,
		cfg:      cfg.Mixing,
		inCh:     make(chan *outfox.Packet, cfg.Mixing.InboundQueueSize),
		rng:      rand.NewMath(),
		coverRng: rand.NewMath(),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.log.Noticef("Starting %v relay %v (%v).", info.Role, info.ID, g)
	n.Go(n.worker)
	if info.Role.IsRelay() && cfg.Mixing.CoverTrafficProbability > 0 && !cfg.Mixing.DisableCoverTraffic {
		n.Go(n.coverWorker)
	}
	return n, nil
}
