// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/katzenpost/outfox/core/pki"
)

// compactThreshold is the number of removed vertices that triggers a
// Compact while consuming discovery updates.
const compactThreshold = 64

// Update is one discovery event: a relay descriptor and its outgoing
// edges, or the departure of a relay.
type Update struct {
	Node   *pki.NodeInfo
	Edges  []Edge
	Remove bool
}

// Apply applies one discovery update.  Every edge that can be added is
// added even when others fail.
func (g *Graph) Apply(u Update) error {
	if u.Node == nil {
		return errors.New("routing: update without a node")
	}
	if u.Remove {
		if !g.RemoveNode(u.Node.ID) {
			return fmt.Errorf("%w: %v", ErrUnknownNode, u.Node.ID)
		}
		return nil
	}
	if err := pki.IsNodeInfoWellFormed(u.Node, g.Layers()); err != nil {
		return fmt.Errorf("routing: %v", err)
	}

	g.AddNode(u.Node)
	var errs []error
	for _, e := range u.Edges {
		if err := g.AddEdge(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Consume applies updates until the channel is closed or ctx is done.
// Malformed updates are reported to onError, which may be nil.
func (g *Graph) Consume(ctx context.Context, updates <-chan Update, onError func(Update, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := g.Apply(u); err != nil && onError != nil {
				onError(u, err)
			}
			if g.Removed() >= compactThreshold {
				g.Compact()
			}
		}
	}
}
