// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/internal/instrument"
)

// DecoyRouter picks the relays a cover traffic loop passes through and
// carries the loop once it is built.
type DecoyRouter interface {
	// DecoyLoop returns a path of hops relays with origin at index start
	// and at the end, and the matching route.
	DecoyLoop(origin pki.NodeID, start, hops int) ([]pki.NodeID, outfox.Route, error)

	// RouteDecoy records the path of the decoy with the given packet ID.
	RouteDecoy(id [outfox.IDLength]byte, path []pki.NodeID)
}

func (n *Node) coverWorker() {
	lambda := 1 / float64(n.cfg.CoverTrafficInterval)
	for {
		wakeMsec := uint64(rand.Exp(n.coverRng, lambda))
		if !n.Sleep(time.Duration(wakeMsec) * time.Millisecond) {
			n.log.Debugf("Cover traffic terminating gracefully.")
			return
		}
		if n.coverRng.Float64() >= n.cfg.CoverTrafficProbability {
			continue
		}
		n.sendDecoy()
	}
}

// decoyStart is the index of the node's own slot in its decoy loops: the
// layer of the traffic it forwards, short of the final slot.
func (n *Node) decoyStart() int {
	hops := n.outfox.Geometry().MaxHops
	start := n.info.Layer - 1
	if start > hops-2 {
		start = hops - 2
	}
	if start < 0 {
		start = 0
	}
	return start
}

func (n *Node) decoyLoop(start int) ([]pki.NodeID, outfox.Route, error) {
	hops := n.outfox.Geometry().MaxHops
	if n.decoyRouter != nil {
		return n.decoyRouter.DecoyLoop(n.info.ID, start, hops)
	}
	path := make([]pki.NodeID, hops)
	route := make(outfox.Route, hops)
	for i := range path {
		path[i] = n.info.ID
		route[i] = n.key.PublicKey()
	}
	return path, route, nil
}

// sendDecoy builds a full length loop and peels the node's own layer, so
// the decoy leaves at the layer and slot count of forwarded traffic.
// Slots before start are never processed.
func (n *Node) sendDecoy() {
	start := n.decoyStart()
	path, route, err := n.decoyLoop(start)
	if err != nil {
		n.log.Warningf("Failed to route decoy: %v", err)
		return
	}
	pkt, err := n.outfox.NewDecoy(route)
	if err != nil {
		n.log.Warningf("Failed to build decoy: %v", err)
		return
	}
	if len(route) > 1 {
		pkt.Metadata.Layer = uint8(start)
		if _, err = n.outfox.ProcessLayer(pkt, n.key.PrivateKey()); err != nil {
			n.log.Warningf("Failed to peel decoy: %v", err)
			return
		}
	}
	b, err := pkt.MarshalBinary()
	if err != nil {
		n.log.Warningf("Failed to serialize decoy: %v", err)
		return
	}
	if n.decoyRouter != nil {
		n.decoyRouter.RouteDecoy(pkt.Metadata.PacketID, path)
	}
	n.outbound.push(b)
	instrument.DecoysSent()

	n.statsLock.Lock()
	n.decoys++
	n.statsLock.Unlock()
}
