// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package multipath

import (
	"fmt"
	"sync"
	"time"
)

type partial struct {
	header   Shard
	shards   [][]byte
	received int
	first    time.Time
}

type codecKey struct {
	data, parity int
}

// Reassembler collects shards and returns each message once enough of its
// shards arrived.  It is safe for concurrent use.
type Reassembler struct {
	sync.Mutex

	pending  map[[MessageIDLength]byte]*partial
	complete map[[MessageIDLength]byte]time.Time
	codecs   map[codecKey]*Codec
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		pending:  make(map[[MessageIDLength]byte]*partial),
		complete: make(map[[MessageIDLength]byte]time.Time),
		codecs:   make(map[codecKey]*Codec),
	}
}

func (r *Reassembler) codec(data, parity int) (*Codec, error) {
	k := codecKey{data, parity}
	if c, ok := r.codecs[k]; ok {
		return c, nil
	}
	c, err := NewCodec(data, parity)
	if err != nil {
		return nil, err
	}
	r.codecs[k] = c
	return c, nil
}

// Add takes one serialized shard.  It returns the message and true when
// this shard completes it.  Shards of messages already returned and
// duplicate shards are ignored.
func (r *Reassembler) Add(b []byte) ([]byte, bool, error) {
	var s Shard
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, false, err
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.complete[s.MessageID]; ok {
		return nil, false, nil
	}
	p, ok := r.pending[s.MessageID]
	if !ok {
		p = &partial{
			header: s,
			shards: make([][]byte, s.Total),
			first:  time.Now(),
		}
		r.pending[s.MessageID] = p
	}
	h := &p.header
	if s.Total != h.Total || s.DataShards != h.DataShards || s.Flags != h.Flags || s.Length != h.Length {
		return nil, false, fmt.Errorf("%w: shard %d contradicts message %x", ErrMalformedShard, s.Index, s.MessageID)
	}
	if p.shards[s.Index] != nil {
		return nil, false, nil
	}
	p.shards[s.Index] = s.Data
	p.received++
	if p.received < int(h.DataShards) {
		return nil, false, nil
	}

	c, err := r.codec(int(h.DataShards), int(h.Total-h.DataShards))
	if err != nil {
		return nil, false, err
	}
	msg, err := c.Decode(p.shards, h.Flags, int(h.Length))
	delete(r.pending, s.MessageID)
	if err != nil {
		return nil, false, err
	}
	r.complete[s.MessageID] = time.Now()
	return msg, true, nil
}

// Pending returns the number of incomplete messages.
func (r *Reassembler) Pending() int {
	r.Lock()
	defer r.Unlock()
	return len(r.pending)
}

// Prune forgets incomplete messages whose first shard arrived more than
// maxAge ago, and completed messages older than maxAge.  It returns the
// number of incomplete messages dropped.
func (r *Reassembler) Prune(maxAge time.Duration) int {
	r.Lock()
	defer r.Unlock()

	deadline := time.Now().Add(-maxAge)
	var dropped int
	for id, p := range r.pending {
		if p.first.Before(deadline) {
			delete(r.pending, id)
			dropped++
		}
	}
	for id, t := range r.complete {
		if t.Before(deadline) {
			delete(r.complete, id)
		}
	}
	return dropped
}
