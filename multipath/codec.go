// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package multipath sends messages as erasure coded shards over disjoint
// paths, and reassembles them.
package multipath

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

const (
	// MessageIDLength is the length of a message identifier.
	MessageIDLength = 16

	// ShardHeaderLength is the length of the header preceding the shard
	// data.
	ShardHeaderLength = MessageIDLength + 4 + 4

	// MaxMessageLength is the largest message accepted.
	MaxMessageLength = 1 << 20

	// MaxShards is the largest number of data plus parity shards.
	MaxShards = 255

	flagCompressed = 1 << 0
)

var (
	// ErrInvalidShards is the error returned for an unusable shard count.
	ErrInvalidShards = errors.New("multipath: invalid data/parity shard configuration")

	// ErrTooFewShards is the error returned when a message can not be
	// recovered from the shards at hand.
	ErrTooFewShards = errors.New("multipath: too few shards to recover message")

	// ErrMalformedShard is the error returned for a shard that does not
	// parse, or contradicts other shards of its message.
	ErrMalformedShard = errors.New("multipath: malformed shard")
)

// Shard is one erasure coded fragment of a message.
type Shard struct {
	MessageID  [MessageIDLength]byte
	Index      uint8
	Total      uint8
	DataShards uint8
	Flags      uint8
	Length     uint32
	Data       []byte
}

// Compressed returns true if the message was compressed before encoding.
func (s *Shard) Compressed() bool {
	return s.Flags&flagCompressed != 0
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Shard) MarshalBinary() ([]byte, error) {
	b := make([]byte, ShardHeaderLength, ShardHeaderLength+len(s.Data))
	copy(b, s.MessageID[:])
	b[MessageIDLength] = s.Index
	b[MessageIDLength+1] = s.Total
	b[MessageIDLength+2] = s.DataShards
	b[MessageIDLength+3] = s.Flags
	binary.BigEndian.PutUint32(b[MessageIDLength+4:], s.Length)
	return append(b, s.Data...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Shard) UnmarshalBinary(b []byte) error {
	if len(b) <= ShardHeaderLength {
		return fmt.Errorf("%w: %d bytes", ErrMalformedShard, len(b))
	}
	copy(s.MessageID[:], b)
	s.Index = b[MessageIDLength]
	s.Total = b[MessageIDLength+1]
	s.DataShards = b[MessageIDLength+2]
	s.Flags = b[MessageIDLength+3]
	s.Length = binary.BigEndian.Uint32(b[MessageIDLength+4:])
	s.Data = append([]byte{}, b[ShardHeaderLength:]...)

	switch {
	case s.DataShards == 0 || s.DataShards >= s.Total:
		return fmt.Errorf("%w: %d of %d data shards", ErrMalformedShard, s.DataShards, s.Total)
	case s.Index >= s.Total:
		return fmt.Errorf("%w: index %d of %d", ErrMalformedShard, s.Index, s.Total)
	case s.Length > MaxMessageLength || int(s.Length) > len(s.Data)*int(s.DataShards):
		return fmt.Errorf("%w: length %d", ErrMalformedShard, s.Length)
	}
	return nil
}

// Codec splits messages into Reed-Solomon coded shards.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec returns a Codec producing dataShards data shards and
// parityShards parity shards.  Any dataShards of them recover the message.
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > MaxShards {
		return nil, ErrInvalidShards
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &Codec{
		enc:          enc,
		dataShards:   dataShards,
		parityShards: parityShards,
	}, nil
}

// DataShards returns the number of data shards.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns the number of parity shards.
func (c *Codec) ParityShards() int { return c.parityShards }

// TotalShards returns the number of data and parity shards.
func (c *Codec) TotalShards() int { return c.dataShards + c.parityShards }

// ShardSize returns the shard data size of a message body of n bytes.
func (c *Codec) ShardSize(n int) int {
	return (n + c.dataShards - 1) / c.dataShards
}

// Encode compresses msg and splits it into TotalShards shards.
func (c *Codec) Encode(id [MessageIDLength]byte, msg []byte) ([]*Shard, error) {
	if len(msg) > MaxMessageLength {
		return nil, fmt.Errorf("multipath: message of %d bytes exceeds %d", len(msg), MaxMessageLength)
	}
	body, compressed, err := compress(msg)
	if err != nil {
		return nil, err
	}
	var flags uint8
	if compressed {
		flags |= flagCompressed
	}

	// Split pads its input up to a multiple of the data shard count, and
	// rejects empty input.
	padded := body
	if len(padded) == 0 {
		padded = []byte{0}
	}
	data, err := c.enc.Split(append([]byte{}, padded...))
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(data); err != nil {
		return nil, err
	}

	shards := make([]*Shard, 0, len(data))
	for i, d := range data {
		shards = append(shards, &Shard{
			MessageID:  id,
			Index:      uint8(i),
			Total:      uint8(c.TotalShards()),
			DataShards: uint8(c.dataShards),
			Flags:      flags,
			Length:     uint32(len(body)),
			Data:       d,
		})
	}
	return shards, nil
}

// Decode recovers a message from shards, indexed by shard index with nil
// for missing ones.  flags and length come from any shard of the message.
func (c *Codec) Decode(shards [][]byte, flags uint8, length int) ([]byte, error) {
	if len(shards) != c.TotalShards() {
		return nil, fmt.Errorf("%w: %d shard slots", ErrMalformedShard, len(shards))
	}
	if err := c.enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, ErrTooFewShards
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedShard, err)
	}

	body := make([]byte, 0, length)
	for i := 0; i < c.dataShards && len(body) < length; i++ {
		remaining := length - len(body)
		if remaining >= len(shards[i]) {
			body = append(body, shards[i]...)
		} else {
			body = append(body, shards[i][:remaining]...)
		}
	}
	if len(body) != length {
		return nil, fmt.Errorf("%w: short message body", ErrMalformedShard)
	}
	if flags&flagCompressed == 0 {
		return body, nil
	}
	return decompress(body, MaxMessageLength)
}
