// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package reputation

import (
	"errors"
	"time"

	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/relay"
)

// PacketProcessed implements relay.Observer.
func (l *Ledger) PacketProcessed(id pki.NodeID, latency time.Duration) {
	l.RecordSuccess(id, latency)
}

// PacketDropped implements relay.Observer.  Drops that say nothing about
// the node's own behavior are not penalized.
func (l *Ledger) PacketDropped(id pki.NodeID, err error) {
	switch {
	case errors.Is(err, relay.ErrReplay),
		errors.Is(err, relay.ErrQueueFull),
		errors.Is(err, relay.ErrHalted),
		errors.Is(err, relay.ErrNotRelaying):
		return
	}
	l.RecordFailure(id)
}

var _ relay.Observer = (*Ledger)(nil)
