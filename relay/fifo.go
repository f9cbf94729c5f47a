// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import "sync"

// fifo is an unbounded byte slice queue.  Every operation takes the lock
// for its own duration only.
type fifo struct {
	sync.Mutex

	q [][]byte
}

func (f *fifo) push(b []byte) {
	f.Lock()
	defer f.Unlock()
	f.q = append(f.q, b)
}

func (f *fifo) pop() ([]byte, bool) {
	f.Lock()
	defer f.Unlock()
	if len(f.q) == 0 {
		return nil, false
	}
	b := f.q[0]
	f.q[0] = nil
	f.q = f.q[1:]
	if len(f.q) == 0 {
		f.q = nil
	}
	return b, true
}
