// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package outfox implements the Outfox layered KEM packet format: clients
// build a packet carrying one KEM ciphertext per hop, and every relay on the
// route peels exactly one layer.
package outfox

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/outfox/crypto"
)

const (
	// HashLength is the length of packet hashes and integrity tags.
	HashLength = 32

	// IDLength is the length of a packet identifier.
	IDLength = 16

	flagDecoy = 0x01
)

var (
	// ErrInvalidRoute is the error returned when a route is empty, too
	// long, or uses keys of the wrong scheme.
	ErrInvalidRoute = errors.New("outfox: invalid route")

	// ErrLayersExhausted is the error returned when a packet has no
	// remaining layer to process.
	ErrLayersExhausted = errors.New("outfox: layers exhausted")

	// ErrIntegrity is the error returned when a packet's integrity tag
	// does not match its contents.
	ErrIntegrity = errors.New("outfox: integrity check failed")

	// ErrSerialization is the error returned when a packet can not be
	// decoded.
	ErrSerialization = errors.New("outfox: malformed packet")

	// ErrPayloadTooLarge is the error returned when a message does not fit
	// the payload.
	ErrPayloadTooLarge = errors.New("outfox: message too large")
)

// Route is the ordered list of relay public keys a packet traverses.
type Route []kem.PublicKey

// Metadata is the cleartext bookkeeping carried by a Packet.
type Metadata struct {
	// Timestamp is the creation time in Unix nanoseconds.
	Timestamp int64

	// Layer is the index of the next header slot to process.
	Layer uint8

	// NextHopHash is the hash of the first hop's public key.
	NextHopHash [HashLength]byte

	// IntegrityTag is H(Header || Payload || PacketID).
	IntegrityTag [HashLength]byte

	// PacketID is a random identifier.
	PacketID [IDLength]byte

	// KeyTags holds one key confirmation tag per header slot.
	KeyTags []byte
}

// Time returns the creation time of the packet.
func (m *Metadata) Time() time.Time {
	return time.Unix(0, m.Timestamp)
}

// Packet is an Outfox packet.
type Packet struct {
	Header   []byte
	Payload  []byte
	Metadata Metadata
}

// ID returns the packet identifier.
func (p *Packet) ID() [IDLength]byte {
	return p.Metadata.PacketID
}

func (p *Packet) computeTag() [HashLength]byte {
	b := make([]byte, 0, len(p.Header)+len(p.Payload)+IDLength)
	b = append(b, p.Header...)
	b = append(b, p.Payload...)
	b = append(b, p.Metadata.PacketID[:]...)
	return hash.Sum256(b)
}

// VerifyIntegrity returns true iff the integrity tag matches the packet
// contents.
func (p *Packet) VerifyIntegrity() bool {
	tag := p.computeTag()
	return subtle.ConstantTimeCompare(tag[:], p.Metadata.IntegrityTag[:]) == 1
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		Header:   append([]byte{}, p.Header...),
		Payload:  append([]byte{}, p.Payload...),
		Metadata: p.Metadata,
	}
	c.Metadata.KeyTags = append([]byte{}, p.Metadata.KeyTags...)
	return c
}

// Hop is the result of processing one packet layer.
type Hop struct {
	// Layer is the packet layer after processing.
	Layer int

	// Terminal is true when this was the last hop of the route.
	Terminal bool

	// Decoy is true if a terminal packet was cover traffic.
	Decoy bool

	// Payload is the message carried by a terminal packet.
	Payload []byte
}

// Outfox builds and processes packets of one Geometry.
type Outfox struct {
	geo *Geometry
}

// New returns an Outfox for the validated Geometry g.
func New(g *Geometry) (*Outfox, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Outfox{geo: g}, nil
}

// Geometry returns the packet geometry.
func (o *Outfox) Geometry() *Geometry {
	return o.geo
}

// NewPacket builds a packet carrying message along route.
func (o *Outfox) NewPacket(message []byte, route Route) (*Packet, error) {
	if len(message) > o.geo.MaxMessageLength() {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(message), o.geo.MaxMessageLength())
	}
	return o.newPacket(message, route, 0)
}

// NewDecoy builds a cover traffic packet along route.  It is the same size
// and structure as any other packet, and is only recognizable as a decoy by
// the final hop.
func (o *Outfox) NewDecoy(route Route) (*Packet, error) {
	message := make([]byte, o.geo.MaxMessageLength())
	if _, err := io.ReadFull(rand.Reader, message); err != nil {
		return nil, err
	}
	return o.newPacket(message, route, flagDecoy)
}

func (o *Outfox) newPacket(message []byte, route Route, flags byte) (*Packet, error) {
	if len(route) == 0 {
		return nil, fmt.Errorf("%w: empty route", ErrInvalidRoute)
	}
	if len(route) > o.geo.MaxHops {
		return nil, fmt.Errorf("%w: %d hops exceeds maximum of %d", ErrInvalidRoute, len(route), o.geo.MaxHops)
	}
	scheme := o.geo.Scheme()
	for i, pk := range route {
		if pk == nil || pk.Scheme().Name() != scheme.Name() {
			return nil, fmt.Errorf("%w: hop %d is not a %s key", ErrInvalidRoute, i, scheme.Name())
		}
	}

	pkt := &Packet{
		Header: make([]byte, o.geo.HeaderLength()),
		Metadata: Metadata{
			Timestamp: time.Now().UnixNano(),
			KeyTags:   make([]byte, o.geo.KeyTagsLength()),
		},
	}
	if _, err := io.ReadFull(rand.Reader, pkt.Metadata.PacketID[:]); err != nil {
		return nil, err
	}

	ctLen := o.geo.CiphertextLength()
	var lastSecret []byte
	for i, pk := range route {
		ct, ss, err := crypto.Encapsulate(pk)
		if err != nil {
			return nil, err
		}
		copy(pkt.Header[i*ctLen:], ct)
		tag := crypto.KeyConfirmationTag(ss, pkt.Metadata.PacketID[:], i, ct)
		copy(pkt.Metadata.KeyTags[i*crypto.TagLength:], tag)
		lastSecret = ss
	}

	plaintext := make([]byte, o.geo.PayloadLength)
	plaintext[0] = flags
	binary.BigEndian.PutUint16(plaintext[1:payloadPrefixLength], uint16(len(message)))
	copy(plaintext[payloadPrefixLength:], message)

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	key := crypto.DeriveKey(lastSecret, crypto.LabelPayload, crypto.KeyLength)
	ct, err := crypto.Seal(key, nonce, plaintext, pkt.Metadata.PacketID[:])
	if err != nil {
		return nil, err
	}
	pkt.Payload = append(nonce, ct...)

	pkt.Metadata.NextHopHash = hash.Sum256From(route[0])
	pkt.Metadata.IntegrityTag = pkt.computeTag()
	return pkt, nil
}

func (o *Outfox) slot(pkt *Packet, i int) []byte {
	ctLen := o.geo.CiphertextLength()
	return pkt.Header[i*ctLen : (i+1)*ctLen]
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// ProcessLayer peels the layer at the packet's current index with sk.  On
// success the layer index is advanced and the integrity tag recomputed.
// The consumed header slot is left in place.  On failure the packet is not
// modified and must be dropped.
func (o *Outfox) ProcessLayer(pkt *Packet, sk kem.PrivateKey) (*Hop, error) {
	if err := o.checkLengths(pkt); err != nil {
		return nil, err
	}
	layer := int(pkt.Metadata.Layer)
	if layer >= o.geo.MaxHops {
		return nil, fmt.Errorf("%w: layer %d", ErrLayersExhausted, layer)
	}
	slot := o.slot(pkt, layer)
	if isZero(slot) {
		return nil, fmt.Errorf("%w: layer %d is past the end of the route", ErrLayersExhausted, layer)
	}

	ss, err := crypto.Decapsulate(slot, sk)
	if err != nil {
		return nil, err
	}
	tag := crypto.KeyConfirmationTag(ss, pkt.Metadata.PacketID[:], layer, slot)
	want := pkt.Metadata.KeyTags[layer*crypto.TagLength : (layer+1)*crypto.TagLength]
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return nil, fmt.Errorf("%w: key confirmation failed at layer %d", crypto.ErrCrypto, layer)
	}

	hop := &Hop{Layer: layer + 1}
	hop.Terminal = hop.Layer == o.geo.MaxHops || isZero(o.slot(pkt, hop.Layer))
	if hop.Terminal {
		if hop.Payload, hop.Decoy, err = o.openPayload(pkt, ss); err != nil {
			return nil, err
		}
	}

	pkt.Metadata.Layer++
	pkt.Metadata.IntegrityTag = pkt.computeTag()
	return hop, nil
}

func (o *Outfox) openPayload(pkt *Packet, ss []byte) ([]byte, bool, error) {
	key := crypto.DeriveKey(ss, crypto.LabelPayload, crypto.KeyLength)
	nonce := pkt.Payload[:crypto.NonceLength]
	plaintext, err := crypto.Open(key, nonce, pkt.Payload[crypto.NonceLength:], pkt.Metadata.PacketID[:])
	if err != nil {
		return nil, false, err
	}
	n := int(binary.BigEndian.Uint16(plaintext[1:payloadPrefixLength]))
	if n > o.geo.MaxMessageLength() {
		return nil, false, fmt.Errorf("%w: message length %d", ErrSerialization, n)
	}
	msg := plaintext[payloadPrefixLength : payloadPrefixLength+n]
	return msg, plaintext[0]&flagDecoy != 0, nil
}

func (o *Outfox) checkLengths(pkt *Packet) error {
	switch {
	case pkt == nil:
		return fmt.Errorf("%w: nil packet", ErrSerialization)
	case len(pkt.Header) != o.geo.HeaderLength():
		return fmt.Errorf("%w: header length %d", ErrSerialization, len(pkt.Header))
	case len(pkt.Payload) != o.geo.PayloadCiphertextLength():
		return fmt.Errorf("%w: payload length %d", ErrSerialization, len(pkt.Payload))
	case len(pkt.Metadata.KeyTags) != o.geo.KeyTagsLength():
		return fmt.Errorf("%w: key tags length %d", ErrSerialization, len(pkt.Metadata.KeyTags))
	case int(pkt.Metadata.Layer) > o.geo.MaxHops:
		return fmt.Errorf("%w: layer %d", ErrSerialization, pkt.Metadata.Layer)
	}
	return nil
}
