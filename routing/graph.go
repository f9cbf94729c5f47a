// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package routing implements the multipath routing engine.
package routing

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/katzenpost/outfox/core/pki"
)

var (
	// ErrUnknownNode is the error returned when an id is not in the graph.
	ErrUnknownNode = errors.New("routing: unknown node")

	// ErrInvalidEdge is the error returned for a malformed edge.
	ErrInvalidEdge = errors.New("routing: invalid edge")
)

// Edge is a directed link between two relays.
type Edge struct {
	From      pki.NodeID
	To        pki.NodeID
	Latency   time.Duration
	Bandwidth uint64
}

type arc struct {
	to        int
	latency   time.Duration
	bandwidth uint64
	removed   bool
}

type vertex struct {
	info    *pki.NodeInfo
	out     []arc
	removed bool
}

// Graph is a directed relay graph.  Vertices live in an arena and edges
// refer to them by index.  Removal only marks vertices and edges, Compact
// rebuilds the arena without them.
type Graph struct {
	sync.RWMutex

	vertices []vertex
	index    map[pki.NodeID]int
	removed  int
	layers   int
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		index: make(map[pki.NodeID]int),
	}
}

// SetLayers sets the number of topology layers.  Discovery rejects
// descriptors outside layers 1 to n.  Zero, the default, accepts any
// positive layer.
func (g *Graph) SetLayers(n int) {
	g.Lock()
	defer g.Unlock()
	g.layers = n
}

// Layers returns the layer bound applied by discovery.
func (g *Graph) Layers() int {
	g.RLock()
	defer g.RUnlock()
	if g.layers == 0 {
		return math.MaxInt
	}
	return g.layers
}

func (g *Graph) lookup(id pki.NodeID) (int, bool) {
	i, ok := g.index[id]
	if !ok || g.vertices[i].removed {
		return 0, false
	}
	return i, true
}

// AddNode adds a relay, or replaces the descriptor of a known one.
func (g *Graph) AddNode(info *pki.NodeInfo) {
	g.Lock()
	defer g.Unlock()

	if i, ok := g.lookup(info.ID); ok {
		g.vertices[i].info = info
		return
	}
	g.index[info.ID] = len(g.vertices)
	g.vertices = append(g.vertices, vertex{info: info})
}

// AddEdge adds a directed edge, or updates the weights of an existing one.
func (g *Graph) AddEdge(e Edge) error {
	if e.From == e.To {
		return fmt.Errorf("%w: self loop on %v", ErrInvalidEdge, e.From)
	}
	if e.Latency < 0 {
		return fmt.Errorf("%w: negative latency %v", ErrInvalidEdge, e.Latency)
	}

	g.Lock()
	defer g.Unlock()

	from, ok := g.lookup(e.From)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownNode, e.From)
	}
	to, ok := g.lookup(e.To)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownNode, e.To)
	}
	v := &g.vertices[from]
	for i := range v.out {
		if a := &v.out[i]; a.to == to && !a.removed {
			a.latency, a.bandwidth = e.Latency, e.Bandwidth
			return nil
		}
	}
	v.out = append(v.out, arc{to: to, latency: e.Latency, bandwidth: e.Bandwidth})
	return nil
}

// RemoveNode marks a relay and every edge touching it as removed.
func (g *Graph) RemoveNode(id pki.NodeID) bool {
	g.Lock()
	defer g.Unlock()

	i, ok := g.lookup(id)
	if !ok {
		return false
	}
	g.vertices[i].removed = true
	for j := range g.vertices {
		v := &g.vertices[j]
		for k := range v.out {
			if v.out[k].to == i {
				v.out[k].removed = true
			}
		}
	}
	delete(g.index, id)
	g.removed++
	return true
}

// RemoveEdge marks the edge from -> to as removed.
func (g *Graph) RemoveEdge(from, to pki.NodeID) bool {
	g.Lock()
	defer g.Unlock()

	f, ok := g.lookup(from)
	if !ok {
		return false
	}
	t, ok := g.lookup(to)
	if !ok {
		return false
	}
	for k := range g.vertices[f].out {
		if a := &g.vertices[f].out[k]; a.to == t && !a.removed {
			a.removed = true
			return true
		}
	}
	return false
}

// Compact drops removed vertices and edges and renumbers the arena.
func (g *Graph) Compact() {
	g.Lock()
	defer g.Unlock()

	remap := make([]int, len(g.vertices))
	vertices := make([]vertex, 0, len(g.vertices)-g.removed)
	for i, v := range g.vertices {
		if v.removed {
			remap[i] = -1
			continue
		}
		remap[i] = len(vertices)
		vertices = append(vertices, vertex{info: v.info})
	}
	for i, v := range g.vertices {
		if remap[i] < 0 {
			continue
		}
		nv := &vertices[remap[i]]
		for _, a := range v.out {
			if a.removed || remap[a.to] < 0 {
				continue
			}
			a.to = remap[a.to]
			nv.out = append(nv.out, a)
		}
	}

	g.vertices = vertices
	g.index = make(map[pki.NodeID]int, len(vertices))
	for i, v := range vertices {
		g.index[v.info.ID] = i
	}
	g.removed = 0
}

// Removed returns the number of removed vertices still in the arena.
func (g *Graph) Removed() int {
	g.RLock()
	defer g.RUnlock()
	return g.removed
}

// Node returns the descriptor of id.
func (g *Graph) Node(id pki.NodeID) (*pki.NodeInfo, bool) {
	g.RLock()
	defer g.RUnlock()

	i, ok := g.lookup(id)
	if !ok {
		return nil, false
	}
	return g.vertices[i].info, true
}

// Nodes returns the descriptors of every relay.
func (g *Graph) Nodes() []*pki.NodeInfo {
	g.RLock()
	defer g.RUnlock()

	nodes := make([]*pki.NodeInfo, 0, len(g.vertices)-g.removed)
	for _, v := range g.vertices {
		if !v.removed {
			nodes = append(nodes, v.info)
		}
	}
	return nodes
}

// Edge returns the edge from -> to.
func (g *Graph) Edge(from, to pki.NodeID) (Edge, bool) {
	g.RLock()
	defer g.RUnlock()

	f, ok := g.lookup(from)
	if !ok {
		return Edge{}, false
	}
	t, ok := g.lookup(to)
	if !ok {
		return Edge{}, false
	}
	for _, a := range g.vertices[f].out {
		if a.to == t && !a.removed {
			return Edge{From: from, To: to, Latency: a.latency, Bandwidth: a.bandwidth}, true
		}
	}
	return Edge{}, false
}

// Len returns the number of relays.
func (g *Graph) Len() int {
	g.RLock()
	defer g.RUnlock()
	return len(g.vertices) - g.removed
}

// Restrict returns a new Graph holding only the listed relays and the
// edges between them.  Unknown ids are ignored.
func (g *Graph) Restrict(ids []pki.NodeID) *Graph {
	g.RLock()
	defer g.RUnlock()

	sub := NewGraph()
	sub.layers = g.layers
	keep := make(map[int]bool, len(ids))
	for _, id := range ids {
		i, ok := g.lookup(id)
		if !ok || keep[i] {
			continue
		}
		keep[i] = true
		sub.index[id] = len(sub.vertices)
		sub.vertices = append(sub.vertices, vertex{info: g.vertices[i].info})
	}
	for i := range keep {
		nv := &sub.vertices[sub.index[g.vertices[i].info.ID]]
		for _, a := range g.vertices[i].out {
			if a.removed || !keep[a.to] {
				continue
			}
			a.to = sub.index[g.vertices[a.to].info.ID]
			nv.out = append(nv.out, a)
		}
	}
	return sub
}
