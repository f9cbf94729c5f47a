// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package simnet is an in-process transport connecting relay nodes.
package simnet

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/core/worker"
	"github.com/katzenpost/outfox/multipath"
	"github.com/katzenpost/outfox/relay"
)

const (
	messagesChannelSize = 64

	// routeTTL bounds how long the path of a packet that was dropped
	// inside a relay is kept.
	routeTTL = time.Minute
)

// ErrUnknownNode is the error returned when a path names a node that is
// not attached to the hub.
var ErrUnknownNode = errors.New("simnet: unknown node")

// Stats are the hub's counters.
type Stats struct {
	Dispatched uint64
	Forwarded  uint64
	Lost       uint64
	Looped     uint64
	Discarded  uint64
	Delivered  uint64
}

type pathEntry struct {
	path  []pki.NodeID
	added time.Time
}

// Hub moves packets between the relays attached to it.  Packets dispatched
// through the hub, and the decoy loops of its relays, follow their recorded
// path.  Anything else is discarded.
type Hub struct {
	worker.Worker
	sync.Mutex

	log *logging.Logger

	nodes  map[pki.NodeID]*relay.Node
	order  []pki.NodeID
	routes map[[outfox.IDLength]byte]*pathEntry

	reassembler *multipath.Reassembler
	messagesCh  chan []byte

	rng      *mRand.Rand
	loss     float64
	interval time.Duration
	pruned   time.Time

	stats Stats
}

// AddNode attaches a relay to the hub.
func (h *Hub) AddNode(n *relay.Node) {
	h.Lock()
	defer h.Unlock()
	if _, ok := h.nodes[n.ID()]; !ok {
		h.order = append(h.order, n.ID())
	}
	h.nodes[n.ID()] = n
}

// SetLoss sets the probability that a packet is lost between two relays.
func (h *Hub) SetLoss(p float64) {
	h.Lock()
	defer h.Unlock()
	h.loss = p
}

// Messages returns the channel of messages reassembled from exit node
// deliveries.
func (h *Hub) Messages() <-chan []byte {
	return h.messagesCh
}

// Stats returns a snapshot of the hub's counters.
func (h *Hub) Stats() Stats {
	h.Lock()
	defer h.Unlock()
	return h.stats
}

// Dispatch hands a packet to the first relay of its path.
func (h *Hub) Dispatch(d multipath.Dispatch) error {
	if len(d.Path) == 0 {
		return fmt.Errorf("simnet: empty path")
	}
	b, err := d.Packet.MarshalBinary()
	if err != nil {
		return err
	}

	h.Lock()
	n, ok := h.nodes[d.Path[0]]
	if !ok {
		h.Unlock()
		return fmt.Errorf("%w: %v", ErrUnknownNode, d.Path[0])
	}
	h.routes[d.Packet.Metadata.PacketID] = &pathEntry{path: d.Path, added: time.Now()}
	h.stats.Dispatched++
	h.Unlock()

	if err := n.Receive(b); err != nil {
		h.forget(d.Packet.Metadata.PacketID)
		return err
	}
	return nil
}

// DecoyLoop returns a loop through origin at index start and at the end.
// Every other hop is a random relay of the matching layer, or of any
// layer when there is none.
func (h *Hub) DecoyLoop(origin pki.NodeID, start, hops int) ([]pki.NodeID, outfox.Route, error) {
	h.Lock()
	defer h.Unlock()

	self, ok := h.nodes[origin]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnknownNode, origin)
	}
	if start < 0 || start >= hops {
		return nil, nil, fmt.Errorf("simnet: decoy start %d out of range", start)
	}
	var others []*relay.Node
	byLayer := make(map[int][]*relay.Node)
	for _, id := range h.order {
		n := h.nodes[id]
		if id == origin || !n.Info().Role.IsRelay() {
			continue
		}
		others = append(others, n)
		byLayer[n.Info().Layer] = append(byLayer[n.Info().Layer], n)
	}

	path := make([]pki.NodeID, hops)
	route := make(outfox.Route, hops)
	for i := range path {
		n := self
		if i != start && i != hops-1 {
			candidates := byLayer[i+1]
			if len(candidates) == 0 {
				candidates = others
			}
			if len(candidates) > 0 {
				n = candidates[h.rng.Intn(len(candidates))]
			}
		}
		path[i] = n.ID()
		route[i] = n.PublicKey()
	}
	return path, route, nil
}

// RouteDecoy records the path of a decoy loop.
func (h *Hub) RouteDecoy(id [outfox.IDLength]byte, path []pki.NodeID) {
	h.Lock()
	defer h.Unlock()
	h.routes[id] = &pathEntry{path: path, added: time.Now()}
	h.stats.Looped++
}

func (h *Hub) forget(id [outfox.IDLength]byte) {
	h.Lock()
	defer h.Unlock()
	delete(h.routes, id)
}

// prune drops the paths of packets that never reached their last hop.
func (h *Hub) prune(now time.Time) {
	h.Lock()
	defer h.Unlock()
	if now.Sub(h.pruned) < routeTTL {
		return
	}
	h.pruned = now
	for id, r := range h.routes {
		if now.Sub(r.added) >= routeTTL {
			delete(h.routes, id)
		}
	}
}

// Routes returns the number of packets the hub is carrying.
func (h *Hub) Routes() int {
	h.Lock()
	defer h.Unlock()
	return len(h.routes)
}

func (h *Hub) worker() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.HaltCh():
			h.log.Debugf("Terminating gracefully.")
			return
		case now := <-ticker.C:
			h.prune(now)
		}
		h.pump()
	}
}

func (h *Hub) snapshot() []*relay.Node {
	h.Lock()
	defer h.Unlock()
	nodes := make([]*relay.Node, 0, len(h.order))
	for _, id := range h.order {
		nodes = append(nodes, h.nodes[id])
	}
	return nodes
}

func (h *Hub) pump() {
	for _, n := range h.snapshot() {
		for {
			b, ok := n.TakeOutbound()
			if !ok {
				break
			}
			h.forward(n, b)
		}
		for {
			b, ok := n.TakeDelivered()
			if !ok {
				break
			}
			h.deliver(b)
		}
	}
}

func (h *Hub) forward(from *relay.Node, b []byte) {
	pkt, err := from.Outfox().FromBytes(b)
	if err != nil {
		h.log.Warningf("Relay %v emitted a malformed packet: %v", from.ID(), err)
		return
	}

	id := pkt.Metadata.PacketID
	h.Lock()
	var next *relay.Node
	r, ok := h.routes[id]
	layer := int(pkt.Metadata.Layer)
	switch {
	case ok && layer < len(r.path):
		next = h.nodes[r.path[layer]]
		if layer == len(r.path)-1 {
			delete(h.routes, id)
		}
	default:
		delete(h.routes, id)
		h.stats.Discarded++
	}
	if next != nil && h.loss > 0 && h.rng.Float64() < h.loss {
		delete(h.routes, id)
		h.stats.Lost++
		next = nil
	}
	if next != nil {
		h.stats.Forwarded++
	}
	h.Unlock()

	if next == nil {
		return
	}
	if err := next.Receive(b); err != nil {
		h.forget(id)
		h.log.Debugf("Relay %v refused packet: %v", next.ID(), err)
	}
}

func (h *Hub) deliver(b []byte) {
	msg, done, err := h.reassembler.Add(b)
	if err != nil {
		h.log.Debugf("Discarding delivery: %v", err)
		return
	}
	if !done {
		return
	}

	h.Lock()
	h.stats.Delivered++
	h.Unlock()

	select {
	case h.messagesCh <- msg:
	case <-h.HaltCh():
	}
}

// New returns a running Hub polling its relays every interval.
func New(logBackend *log.Backend, interval time.Duration) *Hub {
	h := &Hub{
		log:         logBackend.GetLogger("simnet"),
		nodes:       make(map[pki.NodeID]*relay.Node),
		routes:      make(map[[outfox.IDLength]byte]*pathEntry),
		reassembler: multipath.NewReassembler(),
		messagesCh:  make(chan []byte, messagesChannelSize),
		rng:         rand.NewMath(),
		interval:    interval,
	}
	h.Go(h.worker)
	return h
}
