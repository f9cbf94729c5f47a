// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package outfox

import (
	"testing"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/kem/mlkem768"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/outfox/core/outfox/crypto"
)

func newTestOutfox(t *testing.T, maxHops int) *Outfox {
	g, err := NewGeometry(mlkem768.Scheme(), maxHops, 512)
	require.NoError(t, err)
	o, err := New(g)
	require.NoError(t, err)
	return o
}

func newTestRoute(t *testing.T, n int) (Route, []*crypto.KeyPair) {
	route := make(Route, 0, n)
	keys := make([]*crypto.KeyPair, 0, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair(mlkem768.Scheme())
		require.NoError(t, err)
		route = append(route, kp.Public)
		keys = append(keys, kp)
	}
	return route, keys
}

func TestGeometry(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := NewGeometry(mlkem768.Scheme(), 0, 512)
	require.Error(err)
	_, err = NewGeometry(mlkem768.Scheme(), AbsoluteMaxHops+1, 512)
	require.Error(err)
	_, err = NewGeometry(mlkem768.Scheme(), 3, payloadPrefixLength)
	require.Error(err)

	g := &Geometry{KEMName: "NoSuchKEM", MaxHops: 3, PayloadLength: 512}
	require.Error(g.Validate())

	g, err = NewGeometry(mlkem768.Scheme(), 5, 512)
	require.NoError(err)
	require.Equal(5*mlkem768.Scheme().CiphertextSize(), g.HeaderLength())
	require.Equal(512-payloadPrefixLength, g.MaxMessageLength())
}

func TestThreeHopScenario(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, AbsoluteMaxHops)
	route, keys := newTestRoute(t, 3)

	pkt, err := o.NewPacket([]byte("hello"), route)
	require.NoError(err)
	require.Len(pkt.Header, AbsoluteMaxHops*mlkem768.Scheme().CiphertextSize())
	require.True(pkt.VerifyIntegrity())
	require.Equal(hash.Sum256From(route[0]), pkt.Metadata.NextHopHash)

	hop, err := o.ProcessLayer(pkt, keys[0].Private)
	require.NoError(err)
	require.Equal(uint8(1), pkt.Metadata.Layer)
	require.False(hop.Terminal)
	require.True(pkt.VerifyIntegrity())

	_, err = o.ProcessLayer(pkt, keys[1].Private)
	require.NoError(err)
	require.Equal(uint8(2), pkt.Metadata.Layer)
	require.True(pkt.VerifyIntegrity())

	before := pkt.Clone()
	_, err = o.ProcessLayer(pkt, keys[0].Private)
	require.ErrorIs(err, crypto.ErrCrypto)
	require.Equal(before, pkt)

	hop, err = o.ProcessLayer(pkt, keys[2].Private)
	require.NoError(err)
	require.True(hop.Terminal)
	require.False(hop.Decoy)
	require.Equal([]byte("hello"), hop.Payload)
	require.True(pkt.VerifyIntegrity())

	// The route ended after three hops.
	before = pkt.Clone()
	_, err = o.ProcessLayer(pkt, keys[2].Private)
	require.ErrorIs(err, ErrLayersExhausted)
	require.Equal(before, pkt)
}

func TestBuildAllRouteLengths(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, AbsoluteMaxHops)
	for n := 1; n <= AbsoluteMaxHops; n++ {
		route, keys := newTestRoute(t, n)
		pkt, err := o.NewPacket([]byte("route length test"), route)
		require.NoError(err)
		require.True(pkt.VerifyIntegrity())
		require.Len(pkt.Payload, o.Geometry().PayloadCiphertextLength())

		for i := 0; i < n; i++ {
			hop, err := o.ProcessLayer(pkt, keys[i].Private)
			require.NoError(err)
			require.Equal(i+1, hop.Layer)
			require.Equal(i == n-1, hop.Terminal)
			require.True(pkt.VerifyIntegrity())
		}
	}
}

func TestSixthLayerExhausted(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, AbsoluteMaxHops)
	route, keys := newTestRoute(t, AbsoluteMaxHops)
	pkt, err := o.NewPacket([]byte("five hops"), route)
	require.NoError(err)

	for i := 0; i < AbsoluteMaxHops; i++ {
		_, err = o.ProcessLayer(pkt, keys[i].Private)
		require.NoError(err)
	}
	meta := pkt.Metadata
	_, err = o.ProcessLayer(pkt, keys[AbsoluteMaxHops-1].Private)
	require.ErrorIs(err, ErrLayersExhausted)
	require.Equal(meta, pkt.Metadata)
}

func TestInvalidRoutes(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, 3)

	_, err := o.NewPacket([]byte("x"), nil)
	require.ErrorIs(err, ErrInvalidRoute)

	route, _ := newTestRoute(t, 4)
	_, err = o.NewPacket([]byte("x"), route)
	require.ErrorIs(err, ErrInvalidRoute)

	_, err = o.NewPacket([]byte("x"), Route{route[0], nil})
	require.ErrorIs(err, ErrInvalidRoute)

	_, err = o.NewPacket(make([]byte, o.Geometry().MaxMessageLength()+1), route[:1])
	require.ErrorIs(err, ErrPayloadTooLarge)
}

func TestTamperedPacket(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, 3)
	route, keys := newTestRoute(t, 1)
	pkt, err := o.NewPacket([]byte("tamper"), route)
	require.NoError(err)

	pkt.Payload[len(pkt.Payload)-1] ^= 0xff
	require.False(pkt.VerifyIntegrity())

	// The payload AEAD catches the tampering even if a relay skips the
	// integrity check.
	_, err = o.ProcessLayer(pkt, keys[0].Private)
	require.ErrorIs(err, crypto.ErrCrypto)
	require.Equal(uint8(0), pkt.Metadata.Layer)
}

func TestDecoy(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, 3)
	route, keys := newTestRoute(t, 2)

	decoy, err := o.NewDecoy(route)
	require.NoError(err)
	genuine, err := o.NewPacket([]byte("real"), route)
	require.NoError(err)
	require.Equal(len(genuine.Header), len(decoy.Header))
	require.Equal(len(genuine.Payload), len(decoy.Payload))

	_, err = o.ProcessLayer(decoy, keys[0].Private)
	require.NoError(err)
	hop, err := o.ProcessLayer(decoy, keys[1].Private)
	require.NoError(err)
	require.True(hop.Terminal)
	require.True(hop.Decoy)
}

func TestSerializationRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	o := newTestOutfox(t, AbsoluteMaxHops)
	route, keys := newTestRoute(t, 4)
	pkt, err := o.NewPacket([]byte("round trip"), route)
	require.NoError(err)
	_, err = o.ProcessLayer(pkt, keys[0].Private)
	require.NoError(err)

	b, err := pkt.MarshalBinary()
	require.NoError(err)
	decoded, err := o.FromBytes(b)
	require.NoError(err)
	require.Equal(pkt, decoded)
	require.True(decoded.VerifyIntegrity())

	_, err = o.FromBytes(b[:len(b)/2])
	require.ErrorIs(err, ErrSerialization)
	_, err = o.FromBytes(nil)
	require.ErrorIs(err, ErrSerialization)
	_, err = o.FromBytes([]byte{0xff, 0x00, 0x13, 0x37})
	require.ErrorIs(err, ErrSerialization)

	// A well formed encoding of a packet from another geometry is rejected.
	small := newTestOutfox(t, 2)
	_, err = small.FromBytes(b)
	require.ErrorIs(err, ErrSerialization)
}
