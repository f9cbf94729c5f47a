// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package reputation

import (
	"gitlab.com/yawning/avl.git"
)

// Top returns the records of the n best scoring nodes, best first.
func (l *Ledger) Top(n int) []Record {
	if n <= 0 {
		return nil
	}
	tree := avl.New(func(a, b interface{}) int {
		ra, rb := a.(*Record), b.(*Record)
		switch {
		case less(ra, rb):
			return -1
		case less(rb, ra):
			return 1
		default:
			return 0
		}
	})
	recs := l.Records()
	for i := range recs {
		tree.Insert(&recs[i])
	}

	top := make([]Record, 0, n)
	tree.ForEach(avl.Forward, func(node *avl.Node) bool {
		top = append(top, *node.Value.(*Record))
		return len(top) < n
	})
	return top
}
