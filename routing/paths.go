// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package routing

import (
	"fmt"
	"math"

	"github.com/katzenpost/hpqc/kem"

	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/pki"
	"github.com/katzenpost/outfox/core/queue"
)

type arcKey struct {
	from, to int
}

// FindDisjointPaths returns up to k paths from src to dst, each the
// lowest latency path that avoids every intermediate relay and directed
// edge used by the paths before it.  Every path starts with src and ends
// with dst.  Fewer than k paths are returned when no further disjoint path
// exists, and none when either endpoint is unknown, src equals dst or k is
// not positive.
func (g *Graph) FindDisjointPaths(src, dst pki.NodeID, k int) [][]pki.NodeID {
	if k <= 0 || src == dst {
		return nil
	}

	g.RLock()
	defer g.RUnlock()

	s, ok := g.lookup(src)
	if !ok {
		return nil
	}
	d, ok := g.lookup(dst)
	if !ok {
		return nil
	}

	usedVertices := make([]bool, len(g.vertices))
	usedArcs := make(map[arcKey]bool)

	var paths [][]pki.NodeID
	for len(paths) < k {
		p := g.shortestPath(s, d, usedVertices, usedArcs)
		if p == nil {
			break
		}
		ids := make([]pki.NodeID, 0, len(p))
		for i, v := range p {
			ids = append(ids, g.vertices[v].info.ID)
			if i > 0 {
				usedArcs[arcKey{p[i-1], v}] = true
			}
			if v != s && v != d {
				usedVertices[v] = true
			}
		}
		paths = append(paths, ids)
	}
	return paths
}

// shortestPath is Dijkstra's algorithm over edge latency.  It returns the
// vertex indexes of the path, or nil if d is unreachable.
func (g *Graph) shortestPath(s, d int, usedVertices []bool, usedArcs map[arcKey]bool) []int {
	dist := make([]uint64, len(g.vertices))
	prev := make([]int, len(g.vertices))
	for i := range dist {
		dist[i] = math.MaxUint64
		prev[i] = -1
	}
	dist[s] = 0

	pq := queue.New[int]()
	pq.Enqueue(0, s)
	for pq.Len() > 0 {
		e := pq.Dequeue()
		u := e.Value
		if e.Priority > dist[u] {
			continue
		}
		if u == d {
			break
		}
		for _, a := range g.vertices[u].out {
			v := a.to
			switch {
			case a.removed, g.vertices[v].removed:
				continue
			case v == s:
				continue
			case v != d && usedVertices[v]:
				continue
			case usedArcs[arcKey{u, v}]:
				continue
			}
			if nd := dist[u] + uint64(a.latency); nd < dist[v] {
				dist[v] = nd
				prev[v] = u
				pq.Enqueue(nd, v)
			}
		}
	}
	if dist[d] == math.MaxUint64 {
		return nil
	}

	var p []int
	for v := d; v != -1; v = prev[v] {
		p = append(p, v)
	}
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// PathLatency returns the summed edge latency of a path.
func (g *Graph) PathLatency(path []pki.NodeID) (uint64, error) {
	var total uint64
	for i := 1; i < len(path); i++ {
		e, ok := g.Edge(path[i-1], path[i])
		if !ok {
			return 0, fmt.Errorf("%w: no edge %v -> %v", ErrInvalidEdge, path[i-1], path[i])
		}
		total += uint64(e.Latency)
	}
	return total, nil
}

// Route returns the packet route along path.
func (g *Graph) Route(path []pki.NodeID, scheme kem.Scheme) (outfox.Route, error) {
	route := make(outfox.Route, 0, len(path))
	for _, id := range path {
		info, ok := g.Node(id)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownNode, id)
		}
		pk, err := info.UnmarshalPublicKey(scheme)
		if err != nil {
			return nil, err
		}
		route = append(route, pk)
	}
	return route, nil
}
