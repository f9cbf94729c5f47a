// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package outfox

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1024,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalBinary serializes the packet.
func (p *Packet) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(p)
}

// UnmarshalBinary deserializes a packet without checking it against any
// Geometry.
func (p *Packet) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty buffer", ErrSerialization)
	}
	if err := decMode.Unmarshal(b, p); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}

// FromBytes deserializes a packet and checks that it matches the Geometry.
func (o *Outfox) FromBytes(b []byte) (*Packet, error) {
	p := new(Packet)
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if err := o.checkLengths(p); err != nil {
		return nil, err
	}
	return p, nil
}
