// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package resauth

import "sync"

// NodeId identifies a node in the directory adjacency graph.
type NodeId uint32

// rootNodeId is the fixed id of $MEDIA_ROOT itself.
const rootNodeId NodeId = 1

type indexNode struct {
	name     string
	parent   NodeId
	children []NodeId
}

// IndexGraph is an in-memory adjacency-list arena mirroring the directory
// tree under $MEDIA_ROOT, populated alongside Initialize and Include.
//
// Nothing in Query, the path-walk, or ValidAny/ValidAll consults this
// graph: every authorization decision goes through the attribute store
// directly. It is kept populated, not deleted, so a future
// directory-listing acceleration path has real data to read from without
// a backfill; consuming it is explicitly out of scope here.
type IndexGraph struct {
	mu    sync.Mutex
	nodes map[NodeId]*indexNode
	byRel map[string]NodeId
	next  NodeId
}

// NewIndexGraph creates an empty graph with the root node pre-populated.
func NewIndexGraph() *IndexGraph {
	g := &IndexGraph{
		nodes: map[NodeId]*indexNode{
			rootNodeId: {name: ""},
		},
		byRel: map[string]NodeId{"": rootNodeId},
		next:  rootNodeId + 1,
	}
	return g
}

// Ensure inserts a node for rel (and every missing ancestor along the
// way) if absent, returning its id.
func (g *IndexGraph) Ensure(rel string) NodeId {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureLocked(rel)
}

func (g *IndexGraph) ensureLocked(rel string) NodeId {
	if id, ok := g.byRel[rel]; ok {
		return id
	}

	components := PathComponents(rel)
	if len(components) == 0 {
		return rootNodeId
	}
	parentRel := ""
	if len(components) > 1 {
		parentRel = joinComponents(components[:len(components)-1])
	}
	parentID := g.ensureLocked(parentRel)

	id := g.next
	g.next++
	node := &indexNode{name: components[len(components)-1], parent: parentID}
	g.nodes[id] = node
	g.byRel[rel] = id
	if parent, ok := g.nodes[parentID]; ok {
		parent.children = append(parent.children, id)
	}
	return id
}

func joinComponents(components []string) string {
	out := ""
	for i, c := range components {
		if i > 0 {
			out += "/"
		}
		out += c
	}
	return out
}

// Children returns the child node ids of rel, or nil if rel is unknown.
func (g *IndexGraph) Children(rel string) []NodeId {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byRel[rel]
	if !ok {
		return nil
	}
	node := g.nodes[id]
	out := make([]NodeId, len(node.children))
	copy(out, node.children)
	return out
}

// Len reports the number of nodes in the graph, including the root.
func (g *IndexGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}
