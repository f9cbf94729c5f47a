// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/kem/mlkem768"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/outfox/crypto"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/internal/mixkey"
	"github.com/katzenpost/outfox/relay/config"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 5 * time.Millisecond
)

type recorder struct {
	sync.Mutex

	processed int
	drops     []error
}

func (r *recorder) PacketProcessed(id pki.NodeID, latency time.Duration) {
	r.Lock()
	defer r.Unlock()
	r.processed++
}

func (r *recorder) PacketDropped(id pki.NodeID, err error) {
	r.Lock()
	defer r.Unlock()
	r.drops = append(r.drops, err)
}

func (r *recorder) dropped(target error) bool {
	r.Lock()
	defer r.Unlock()
	for _, err := range r.drops {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func newTestConfig(t *testing.T, id string, role pki.Role, layer int) *config.Config {
	cfg := &config.Config{
		Relay: &config.Relay{
			Identifier: id,
			Role:       role,
			Layer:      layer,
			DataDir:    t.TempDir(),
		},
		Packet: &config.Packet{
			KEMScheme:     mlkem768.Scheme().Name(),
			MaxHops:       3,
			PayloadLength: 512,
		},
		Mixing: &config.Mixing{
			DelayMean:           1,
			MaxDelay:            5,
			DisableCoverTraffic: true,
			ReplayFilterSize:    12,
		},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config, opts ...Option) *Node {
	key, err := mixkey.New(mlkem768.Scheme(), cfg.Mixing.ReplayFilterSize)
	require.NoError(t, err)
	n, err := New(cfg, key, log.NewDiscard(), opts...)
	require.NoError(t, err)
	t.Cleanup(n.Halt)
	return n
}

func takeOutbound(t *testing.T, n *Node) []byte {
	var b []byte
	require.Eventually(t, func() bool {
		var ok bool
		b, ok = n.TakeOutbound()
		return ok
	}, testTimeout, testTick)
	return b
}

func selfRoute(n *Node) outfox.Route {
	return outfox.Route{n.key.PublicKey()}
}

func TestPipeline(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	entry := newTestNode(t, newTestConfig(t, "entry", pki.RoleEntry, 1))
	mix := newTestNode(t, newTestConfig(t, "mix", pki.RoleMix, 2))
	exit := newTestNode(t, newTestConfig(t, "exit", pki.RoleExit, 3))

	route := outfox.Route{entry.key.PublicKey(), mix.key.PublicKey(), exit.key.PublicKey()}
	pkt, err := entry.Outfox().NewPacket([]byte("hello"), route)
	require.NoError(err)
	b, err := pkt.MarshalBinary()
	require.NoError(err)

	require.NoError(entry.Receive(b))
	b = takeOutbound(t, entry)
	require.NoError(mix.Receive(b))
	b = takeOutbound(t, mix)
	require.NoError(exit.Receive(b))

	var msg []byte
	require.Eventually(func() bool {
		var ok bool
		msg, ok = exit.TakeDelivered()
		return ok
	}, testTimeout, testTick)
	require.Equal([]byte("hello"), msg)

	for _, n := range []*Node{entry, mix, exit} {
		s := n.Stats()
		require.Equal(uint64(1), s.Processed, n.Info().String())
		require.Zero(s.Dropped)
		require.Zero(s.QueueDepth)
	}
	require.Equal(uint64(1), exit.Stats().Delivered)
	_, ok := exit.TakeOutbound()
	require.False(ok, "terminal packets are not forwarded")
}

func TestForwardedPacketLayout(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	mix := newTestNode(t, newTestConfig(t, "mix", pki.RoleMix, 1))
	other, err := crypto.GenerateKeyPair(mlkem768.Scheme())
	require.NoError(err)

	pkt, err := mix.Outfox().NewPacket([]byte("layout"), outfox.Route{mix.key.PublicKey(), other.Public})
	require.NoError(err)
	b, err := pkt.MarshalBinary()
	require.NoError(err)
	mix.OnPacket(pkt.Clone())

	fwd, err := mix.Outfox().FromBytes(takeOutbound(t, mix))
	require.NoError(err)
	require.Equal(uint8(1), fwd.Metadata.Layer)
	require.True(fwd.VerifyIntegrity())
	require.Equal(pkt.Header, fwd.Header)
	require.Equal(pkt.Payload, fwd.Payload)
	require.NotEqual(b, takeBytes(t, fwd))
}

func takeBytes(t *testing.T, pkt *outfox.Packet) []byte {
	b, err := pkt.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestReplayDropped(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	rec := new(recorder)
	mix := newTestNode(t, newTestConfig(t, "mix", pki.RoleMix, 1), WithObserver(rec))
	other, err := crypto.GenerateKeyPair(mlkem768.Scheme())
	require.NoError(err)

	pkt, err := mix.Outfox().NewPacket([]byte("twice"), outfox.Route{mix.key.PublicKey(), other.Public})
	require.NoError(err)
	b := takeBytes(t, pkt)

	require.NoError(mix.Receive(b))
	takeOutbound(t, mix)
	require.NoError(mix.Receive(b))
	require.Eventually(func() bool { return rec.dropped(ErrReplay) }, testTimeout, testTick)

	s := mix.Stats()
	require.Equal(uint64(1), s.Processed)
	require.Equal(uint64(1), s.Dropped)
}

func TestInvalidPacketsDropped(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	rec := new(recorder)
	mix := newTestNode(t, newTestConfig(t, "mix", pki.RoleMix, 1), WithObserver(rec))
	other, err := crypto.GenerateKeyPair(mlkem768.Scheme())
	require.NoError(err)

	// Tampered payload.
	pkt, err := mix.Outfox().NewPacket([]byte("tampered"), outfox.Route{mix.key.PublicKey(), other.Public})
	require.NoError(err)
	pkt.Payload[20] ^= 0xff
	mix.OnPacket(pkt)
	require.Eventually(func() bool { return rec.dropped(outfox.ErrIntegrity) }, testTimeout, testTick)

	// Built for someone else.
	pkt, err = mix.Outfox().NewPacket([]byte("stranger"), outfox.Route{other.Public})
	require.NoError(err)
	mix.OnPacket(pkt)
	require.Eventually(func() bool { return rec.dropped(crypto.ErrCrypto) }, testTimeout, testTick)

	// Garbage on the wire.
	err = mix.Receive([]byte("definitely not a packet"))
	require.ErrorIs(err, outfox.ErrSerialization)
	require.True(rec.dropped(outfox.ErrSerialization))

	require.Equal(uint64(3), mix.Stats().Dropped)
	require.Zero(mix.Stats().Processed)
	_, ok := mix.TakeOutbound()
	require.False(ok)
}

func TestEntryMisrouted(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	rec := new(recorder)
	entry := newTestNode(t, newTestConfig(t, "entry", pki.RoleEntry, 1), WithObserver(rec))
	other, err := crypto.GenerateKeyPair(mlkem768.Scheme())
	require.NoError(err)

	// The entry holds the right key for slot 0, but the packet names
	// another first hop.
	pkt, err := entry.Outfox().NewPacket([]byte("misrouted"), outfox.Route{entry.key.PublicKey(), other.Public})
	require.NoError(err)
	pkt.Metadata.NextHopHash = [outfox.HashLength]byte(pki.NodeIDFromPublicKey(other.Public))
	entry.OnPacket(pkt)
	require.Eventually(func() bool { return rec.dropped(ErrMisrouted) }, testTimeout, testTick)
}

func TestValidatorDropsEverything(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	rec := new(recorder)
	v := newTestNode(t, newTestConfig(t, "validator", pki.RoleValidator, 1), WithObserver(rec))

	pkt, err := v.Outfox().NewPacket([]byte("ignored"), selfRoute(v))
	require.NoError(err)
	v.OnPacket(pkt)
	require.Eventually(func() bool { return rec.dropped(ErrNotRelaying) }, testTimeout, testTick)
	require.Zero(v.Stats().Processed)
}

func TestCoverTraffic(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cfg := newTestConfig(t, "mix", pki.RoleMix, 2)
	cfg.Mixing.DisableCoverTraffic = false
	cfg.Mixing.CoverTrafficProbability = 1
	cfg.Mixing.CoverTrafficInterval = 1
	rec := new(recorder)
	mix := newTestNode(t, cfg, WithObserver(rec))

	decoy := unpack(t, mix, takeOutbound(t, mix))

	// A packet the node forwards after the entry relay peeled its layer.
	entry := newTestNode(t, newTestConfig(t, "entry", pki.RoleEntry, 1))
	exit := newTestNode(t, newTestConfig(t, "exit", pki.RoleExit, 3))
	pkt, err := mix.Outfox().NewPacket([]byte("real"), outfox.Route{entry.PublicKey(), mix.PublicKey(), exit.PublicKey()})
	require.NoError(err)
	_, err = entry.Outfox().ProcessLayer(pkt, entry.key.PrivateKey())
	require.NoError(err)
	require.NoError(mix.Receive(takeBytes(t, pkt)))
	forwarded := unpack(t, mix, takeOutboundID(t, mix, pkt.Metadata.PacketID))

	require.Equal(uint8(2), forwarded.Metadata.Layer)
	require.Equal(forwarded.Metadata.Layer, decoy.Metadata.Layer, "decoys leave at the layer of forwarded traffic")
	require.Equal(usedSlots(mix, forwarded), usedSlots(mix, decoy), "decoys fill as many header slots as forwarded traffic")
	require.Equal(3, usedSlots(mix, decoy))
	require.Len(takeBytes(t, decoy), len(takeBytes(t, forwarded)))

	// Without a router the decoy loops through the node alone, which
	// finally sinks it.
	require.NoError(mix.Receive(takeBytes(t, decoy)))
	require.Eventually(func() bool { return mix.Stats().DecoysSunk >= 1 }, testTimeout, testTick)
	require.GreaterOrEqual(mix.Stats().Decoys, uint64(1))
}

type loopRouter struct {
	sync.Mutex

	hops  []*Node
	start int
	paths map[[outfox.IDLength]byte][]pki.NodeID
}

func (r *loopRouter) setHops(hops ...*Node) {
	r.Lock()
	defer r.Unlock()
	r.hops = hops
}

func (r *loopRouter) DecoyLoop(origin pki.NodeID, start, hops int) ([]pki.NodeID, outfox.Route, error) {
	r.Lock()
	defer r.Unlock()
	if len(r.hops) < hops {
		return nil, nil, errors.New("no loop yet")
	}
	r.start = start
	path := make([]pki.NodeID, 0, hops)
	route := make(outfox.Route, 0, hops)
	for _, n := range r.hops[:hops] {
		path = append(path, n.ID())
		route = append(route, n.PublicKey())
	}
	return path, route, nil
}

func (r *loopRouter) RouteDecoy(id [outfox.IDLength]byte, path []pki.NodeID) {
	r.Lock()
	defer r.Unlock()
	r.paths[id] = path
}

func (r *loopRouter) path(id [outfox.IDLength]byte) ([]pki.NodeID, int, bool) {
	r.Lock()
	defer r.Unlock()
	p, ok := r.paths[id]
	return p, r.start, ok
}

func TestDecoyRouter(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cfg := newTestConfig(t, "mix", pki.RoleMix, 2)
	cfg.Mixing.DisableCoverTraffic = false
	cfg.Mixing.CoverTrafficProbability = 1
	cfg.Mixing.CoverTrafficInterval = 1
	entry := newTestNode(t, newTestConfig(t, "entry", pki.RoleEntry, 1))

	r := &loopRouter{paths: make(map[[outfox.IDLength]byte][]pki.NodeID)}
	mix := newTestNode(t, cfg, WithDecoyRouter(r))
	r.setHops(entry, mix, mix)

	decoy := unpack(t, mix, takeOutbound(t, mix))
	path, start, ok := r.path(decoy.Metadata.PacketID)
	require.True(ok, "the decoy's path is recorded before it leaves")
	require.Equal(1, start)
	require.Equal([]pki.NodeID{entry.ID(), mix.ID(), mix.ID()}, path)
	require.Equal(uint8(2), decoy.Metadata.Layer)
	require.Equal(entry.ID(), pki.NodeID(decoy.Metadata.NextHopHash))
	require.Equal(3, usedSlots(mix, decoy))

	require.NoError(mix.Receive(takeBytes(t, decoy)))
	require.Eventually(func() bool { return mix.Stats().DecoysSunk >= 1 }, testTimeout, testTick)
}

func unpack(t *testing.T, n *Node, b []byte) *outfox.Packet {
	pkt, err := n.Outfox().FromBytes(b)
	require.NoError(t, err)
	return pkt
}

func takeOutboundID(t *testing.T, n *Node, id [outfox.IDLength]byte) []byte {
	var b []byte
	require.Eventually(t, func() bool {
		for {
			var ok bool
			if b, ok = n.TakeOutbound(); !ok {
				return false
			}
			if unpack(t, n, b).Metadata.PacketID == id {
				return true
			}
		}
	}, testTimeout, testTick)
	return b
}

func usedSlots(n *Node, pkt *outfox.Packet) int {
	ctLen := n.Outfox().Geometry().CiphertextLength()
	used := 0
	for i := 0; i+ctLen <= len(pkt.Header); i += ctLen {
		for _, v := range pkt.Header[i : i+ctLen] {
			if v != 0 {
				used++
				break
			}
		}
	}
	return used
}

func mustPacket(t *testing.T, n *Node) *outfox.Packet {
	pkt, err := n.Outfox().NewPacket([]byte("x"), selfRoute(n))
	require.NoError(t, err)
	return pkt
}

func TestHalted(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	mix := newTestNode(t, newTestConfig(t, "mix", pki.RoleMix, 1))
	mix.Halt()
	require.ErrorIs(mix.Receive(takeBytes(t, mustPacket(t, mix))), ErrHalted)
}

func TestNewRejectsMismatchedKey(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cfg := newTestConfig(t, "mix", pki.RoleMix, 1)
	cfg.Packet.KEMScheme = "Xwing"
	key, err := mixkey.New(mlkem768.Scheme(), cfg.Mixing.ReplayFilterSize)
	require.NoError(err)
	_, err = New(cfg, key, log.NewDiscard())
	require.Error(err)
}
