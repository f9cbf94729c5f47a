// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package multipath

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/relay/config"
	"github.com/katzenpost/outfox/reputation"
	"github.com/katzenpost/outfox/routing"
)

// ErrNoPath is the error returned when no usable path to the destination
// exists.
var ErrNoPath = errors.New("multipath: no path to destination")

// Dispatch is one shard packet and the path it must travel.  Path[0] is
// the relay the packet must be handed to.
type Dispatch struct {
	Path   []pki.NodeID
	Packet *outfox.Packet
}

// Sender sends messages as erasure coded shards over disjoint paths.
type Sender struct {
	outfox *outfox.Outfox
	graph  *routing.Graph
	codec  *Codec
	paths  int

	ledger    *reputation.Ledger
	threshold float64
}

// NewSender returns a Sender building packets with o over graph.  If ledger
// is not nil, only relays scoring at least threshold carry shards.
func NewSender(o *outfox.Outfox, graph *routing.Graph, cfg *config.Routing, ledger *reputation.Ledger, threshold float64) (*Sender, error) {
	codec, err := NewCodec(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, err
	}
	shardLen := o.Geometry().MaxMessageLength() - ShardHeaderLength
	if shardLen <= 0 {
		return nil, fmt.Errorf("multipath: %v can not carry a shard", o.Geometry())
	}
	return &Sender{
		outfox:    o,
		graph:     graph,
		codec:     codec,
		paths:     cfg.Paths,
		ledger:    ledger,
		threshold: threshold,
	}, nil
}

// MaxMessageLength is the largest message body, after compression, that
// fits in one set of shards.
func (s *Sender) MaxMessageLength() int {
	return s.codec.DataShards() * (s.outfox.Geometry().MaxMessageLength() - ShardHeaderLength)
}

// Paths returns the disjoint paths Send would use from src to dst.
// Paths longer than the packet geometry allows are skipped.
func (s *Sender) Paths(src, dst pki.NodeID) ([][]pki.NodeID, *routing.Graph) {
	g := s.graph
	if s.ledger != nil {
		ids := s.ledger.HighReputationNodes(s.threshold)
		g = g.Restrict(append(ids, src, dst))
	}

	var paths [][]pki.NodeID
	for _, p := range g.FindDisjointPaths(src, dst, s.paths) {
		if len(p) <= s.outfox.Geometry().MaxHops {
			paths = append(paths, p)
		}
	}
	return paths, g
}

// Send encodes msg into shards and builds one packet per shard, spreading
// the shards over the disjoint paths from src to dst.  With fewer paths
// than shards, paths carry more than one shard.
func (s *Sender) Send(msg []byte, src, dst pki.NodeID) ([MessageIDLength]byte, []Dispatch, error) {
	var id [MessageIDLength]byte
	paths, g := s.Paths(src, dst)
	if len(paths) == 0 {
		return id, nil, ErrNoPath
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return id, nil, err
	}
	id = [MessageIDLength]byte(u)

	shards, err := s.codec.Encode(id, msg)
	if err != nil {
		return id, nil, err
	}
	if int(shards[0].Length) > s.MaxMessageLength() {
		return id, nil, fmt.Errorf("%w: %d > %d", outfox.ErrPayloadTooLarge, shards[0].Length, s.MaxMessageLength())
	}

	scheme := s.outfox.Geometry().Scheme()
	dispatches := make([]Dispatch, 0, len(shards))
	for i, shard := range shards {
		path := paths[i%len(paths)]
		route, err := g.Route(path, scheme)
		if err != nil {
			return id, nil, err
		}
		b, err := shard.MarshalBinary()
		if err != nil {
			return id, nil, err
		}
		pkt, err := s.outfox.NewPacket(b, route)
		if err != nil {
			return id, nil, err
		}
		dispatches = append(dispatches, Dispatch{Path: path, Packet: pkt})
	}
	return id, dispatches, nil
}
