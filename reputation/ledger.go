// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package reputation implements the relay reputation ledger.
package reputation

import (
	"bytes"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/internal/instrument"
	"github.com/katzenpost/outfox/relay/config"
)

// Params are the ledger's scoring parameters.
type Params struct {
	// InitialScore is the score of nodes added without an explicit score.
	InitialScore float64

	// SuccessReward is added to the score on every success.
	SuccessReward float64

	// FailurePenalty is subtracted from the score on every failure.
	FailurePenalty float64

	// DecayFactor multiplies every score on ApplyDecay.  It must be in
	// (0, 1).
	DecayFactor float64
}

// DefaultParams returns the default scoring parameters.
func DefaultParams() Params {
	return Params{
		InitialScore:   0.5,
		SuccessReward:  0.01,
		FailurePenalty: 0.05,
		DecayFactor:    0.95,
	}
}

// ParamsFromConfig returns the scoring parameters of a validated relay
// configuration.
func ParamsFromConfig(cfg *config.Reputation) Params {
	return Params{
		InitialScore:   cfg.InitialScore,
		SuccessReward:  cfg.SuccessReward,
		FailurePenalty: cfg.FailurePenalty,
		DecayFactor:    cfg.DecayFactor,
	}
}

// Record is the ledger entry of one node.
type Record struct {
	ID             pki.NodeID
	Score          float64
	Processed      uint64
	Failures       uint64
	Slashes        uint64
	AverageLatency time.Duration
	Updated        time.Time
}

// Uptime is the fraction of reported outcomes that were successes, or 0
// when nothing was reported yet.
func (r *Record) Uptime() float64 {
	total := r.Processed + r.Failures
	if total == 0 {
		return 0
	}
	return float64(r.Processed) / float64(total)
}

type cell struct {
	sync.Mutex

	rec Record
}

// Ledger tracks a reputation score in [0, 1] for every known node.  All
// methods are safe for concurrent use, and every update of one node is
// atomic with respect to every other update of that node.
type Ledger struct {
	sync.RWMutex

	params Params
	cells  map[pki.NodeID]*cell
}

// New returns an empty Ledger.
func New(params Params) *Ledger {
	return &Ledger{
		params: params,
		cells:  make(map[pki.NodeID]*cell),
	}
}

// Params returns the ledger's scoring parameters.
func (l *Ledger) Params() Params {
	return l.params
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func (l *Ledger) cell(id pki.NodeID) *cell {
	l.RLock()
	defer l.RUnlock()
	return l.cells[id]
}

// update runs fn on the record of id under the node's lock, and returns
// false if the node is unknown.
func (l *Ledger) update(id pki.NodeID, fn func(*Record)) bool {
	c := l.cell(id)
	if c == nil {
		return false
	}
	c.Lock()
	defer c.Unlock()
	fn(&c.rec)
	c.rec.Score = clamp(c.rec.Score)
	c.rec.Updated = time.Now()
	return true
}

// InitNode adds id to the ledger with score, discarding any previous
// record of the node.
func (l *Ledger) InitNode(id pki.NodeID, score float64) {
	c := &cell{rec: Record{ID: id, Score: clamp(score), Updated: time.Now()}}
	l.Lock()
	defer l.Unlock()
	l.cells[id] = c
}

// AddNode adds id with the initial score unless it is already known.
func (l *Ledger) AddNode(id pki.NodeID) {
	l.Lock()
	defer l.Unlock()
	if _, ok := l.cells[id]; ok {
		return
	}
	l.cells[id] = &cell{rec: Record{ID: id, Score: clamp(l.params.InitialScore), Updated: time.Now()}}
}

// RecordSuccess credits id with a processed packet of the given latency.
func (l *Ledger) RecordSuccess(id pki.NodeID, latency time.Duration) {
	ok := l.update(id, func(r *Record) {
		r.Processed++
		r.AverageLatency += (latency - r.AverageLatency) / time.Duration(r.Processed)
		r.Score += l.params.SuccessReward
	})
	if ok {
		instrument.ReputationEvent("success")
	}
}

// RecordFailure penalizes id for a failed packet.
func (l *Ledger) RecordFailure(id pki.NodeID) {
	ok := l.update(id, func(r *Record) {
		r.Failures++
		r.Score -= l.params.FailurePenalty
	})
	if ok {
		instrument.ReputationEvent("failure")
	}
}

// Slash multiplies the score of id by 1 - fraction.  fraction is clamped
// to [0, 1].
func (l *Ledger) Slash(id pki.NodeID, fraction float64) {
	fraction = clamp(fraction)
	ok := l.update(id, func(r *Record) {
		r.Slashes++
		r.Score *= 1 - fraction
	})
	if ok {
		instrument.ReputationEvent("slash")
	}
}

func (l *Ledger) snapshot() []*cell {
	l.RLock()
	defer l.RUnlock()
	cells := make([]*cell, 0, len(l.cells))
	for _, c := range l.cells {
		cells = append(cells, c)
	}
	return cells
}

// ApplyDecay multiplies every score by the decay factor.  Nodes added
// while the sweep runs are not decayed.
func (l *Ledger) ApplyDecay() {
	for _, c := range l.snapshot() {
		c.Lock()
		c.rec.Score = clamp(c.rec.Score * l.params.DecayFactor)
		c.Unlock()
	}
	instrument.ReputationEvent("decay")
}

// Score returns the score of id, or 0 if the node is unknown.
func (l *Ledger) Score(id pki.NodeID) float64 {
	c := l.cell(id)
	if c == nil {
		return 0
	}
	c.Lock()
	defer c.Unlock()
	return c.rec.Score
}

// Get returns a copy of the record of id.
func (l *Ledger) Get(id pki.NodeID) (Record, bool) {
	c := l.cell(id)
	if c == nil {
		return Record{}, false
	}
	c.Lock()
	defer c.Unlock()
	return c.rec, true
}

// Len returns the number of known nodes.
func (l *Ledger) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.cells)
}

// Records returns a copy of every record.
func (l *Ledger) Records() []Record {
	cells := l.snapshot()
	recs := make([]Record, 0, len(cells))
	for _, c := range cells {
		c.Lock()
		recs = append(recs, c.rec)
		c.Unlock()
	}
	return recs
}

// HighReputationNodes returns the nodes scoring at least threshold,
// best first.
func (l *Ledger) HighReputationNodes(threshold float64) []pki.NodeID {
	var recs []Record
	for _, r := range l.Records() {
		if r.Score >= threshold {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return less(&recs[i], &recs[j])
	})
	ids := make([]pki.NodeID, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

// less orders records by descending score, then by ID.
func less(a, b *Record) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
