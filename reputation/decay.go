// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package reputation

import (
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/outfox/core/worker"
)

// Decayer periodically applies decay to a Ledger, and checkpoints it to a
// Store if one is set.
type Decayer struct {
	worker.Worker

	log    *logging.Logger
	ledger *Ledger
	store  *Store

	interval time.Duration
}

func (d *Decayer) worker() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.HaltCh():
			d.log.Debugf("Terminating gracefully.")
			return
		case <-ticker.C:
		}

		d.ledger.ApplyDecay()
		if d.store == nil {
			continue
		}
		if err := d.store.Save(d.ledger); err != nil {
			d.log.Errorf("Failed to checkpoint ledger: %v", err)
		}
	}
}

// NewDecayer starts decaying ledger every interval.  store may be nil.
func NewDecayer(ledger *Ledger, store *Store, interval time.Duration, log *logging.Logger) *Decayer {
	d := &Decayer{
		log:      log,
		ledger:   ledger,
		store:    store,
		interval: interval,
	}
	d.Go(d.worker)
	return d
}
