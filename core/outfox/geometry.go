// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package outfox

import (
	"errors"
	"fmt"
	"math"

	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/schemes"

	"github.com/katzenpost/outfox/core/outfox/crypto"
)

const (
	// AbsoluteMaxHops is the largest number of hops any Geometry may
	// describe.
	AbsoluteMaxHops = 5

	// DefaultKEMName is the KEM used when a Geometry does not name one.
	DefaultKEMName = "Xwing"

	// DefaultPayloadLength is the padded plaintext length of a payload.
	DefaultPayloadLength = 2048

	// payloadPrefixLength covers the flags byte and the 16 bit message
	// length that precede the message in the padded plaintext.
	payloadPrefixLength = 3
)

// Geometry describes the fixed sizes of every packet in a mix network.
// All relays and clients of one network must agree on it.
type Geometry struct {
	// KEMName is the hpqc name of the KEM scheme used for header slots.
	KEMName string

	// MaxHops is the number of header slots, 1 to AbsoluteMaxHops.
	MaxHops int

	// PayloadLength is the length of the padded payload plaintext.
	PayloadLength int

	scheme kem.Scheme
}

// NewGeometry returns a validated Geometry for the scheme.
func NewGeometry(scheme kem.Scheme, maxHops, payloadLength int) (*Geometry, error) {
	g := &Geometry{
		KEMName:       scheme.Name(),
		MaxHops:       maxHops,
		PayloadLength: payloadLength,
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the Geometry and resolves its KEM scheme.
func (g *Geometry) Validate() error {
	if g == nil {
		return errors.New("outfox: nil geometry")
	}
	if g.KEMName == "" {
		return errors.New("outfox: geometry: KEMName is not set")
	}
	s := schemes.ByName(g.KEMName)
	if s == nil {
		return fmt.Errorf("outfox: geometry: unknown KEM '%v'", g.KEMName)
	}
	if g.MaxHops < 1 || g.MaxHops > AbsoluteMaxHops {
		return fmt.Errorf("outfox: geometry: MaxHops %d out of range [1, %d]", g.MaxHops, AbsoluteMaxHops)
	}
	if g.PayloadLength <= payloadPrefixLength || g.PayloadLength-payloadPrefixLength > math.MaxUint16 {
		return fmt.Errorf("outfox: geometry: PayloadLength %d is invalid", g.PayloadLength)
	}
	g.scheme = s
	return nil
}

// Scheme returns the KEM scheme of the Geometry.
func (g *Geometry) Scheme() kem.Scheme {
	if g.scheme == nil {
		g.scheme = schemes.ByName(g.KEMName)
	}
	return g.scheme
}

// CiphertextLength is the size of one header slot.
func (g *Geometry) CiphertextLength() int {
	return g.Scheme().CiphertextSize()
}

// HeaderLength is the size of the whole header.
func (g *Geometry) HeaderLength() int {
	return g.MaxHops * g.CiphertextLength()
}

// KeyTagsLength is the size of the per-hop key confirmation tags.
func (g *Geometry) KeyTagsLength() int {
	return g.MaxHops * crypto.TagLength
}

// PayloadCiphertextLength is the size of the encrypted payload, nonce
// included.
func (g *Geometry) PayloadCiphertextLength() int {
	return crypto.NonceLength + g.PayloadLength + crypto.Overhead
}

// MaxMessageLength is the largest message a packet can carry.
func (g *Geometry) MaxMessageLength() int {
	return g.PayloadLength - payloadPrefixLength
}

func (g *Geometry) String() string {
	return fmt.Sprintf("outfox(%s, hops=%d, header=%d, payload=%d)",
		g.KEMName, g.MaxHops, g.HeaderLength(), g.PayloadLength)
}
