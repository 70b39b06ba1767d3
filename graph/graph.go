// Package graph analyses and validates money-flow graphs before they are
// projected.
//
// The simulation engine tolerates malformed input: unknown
// references are ignored, self-allocations are skipped and cycles are cut
// by an iteration cap. Callers that want to tell the user about those
// problems build a Graph and run Validate first.
//
// Example usage:
//
//	if err := graph.Validate(nodes, rules); err != nil {
//	    var verr *graph.ValidationErrors
//	    if errors.As(err, &verr) && verr.HasErrors() {
//	        return err
//	    }
//	}
package graph

import (
	"fmt"

	"github.com/robinvdvleuten/flowcast/simulation"
)

// Graph is a directed view of nodes and the allocations between them.
//
// Only the rule that the engine would actually use for each source is turned
// into edges (the last one for that source). Allocations to unknown nodes and
// to the source itself are left out, matching what the engine does with them.
type Graph struct {
	// nodes maps node ID to node metadata
	nodes map[string]*Node

	// order keeps node ids in input order for deterministic traversal
	order []string

	// edges maps from node ID to list of outgoing edges
	edges map[string][]*Edge

	// incoming maps from node ID to list of incoming edges
	incoming map[string][]*Edge
}

// Node is a vertex of the graph.
type Node struct {
	ID    string
	Kind  simulation.Kind
	Index int // position in the input node list
}

// Edge is one allocation from a source to a target.
type Edge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Percentage float64 `json:"percentage"`
	Rule       int     `json:"rule"` // index of the rule in the input rule list
}

// New builds a graph from a snapshot.
func New(nodes []simulation.Node, rules []simulation.Rule) *Graph {
	g := &Graph{
		nodes:    make(map[string]*Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		edges:    make(map[string][]*Edge),
		incoming: make(map[string][]*Edge),
	}

	for i, n := range nodes {
		if existing, ok := g.nodes[n.ID]; ok {
			existing.Kind = n.Kind
			continue
		}
		g.nodes[n.ID] = &Node{ID: n.ID, Kind: n.Kind, Index: i}
		g.order = append(g.order, n.ID)
	}

	for _, i := range effectiveRules(rules) {
		rule := rules[i]
		if _, ok := g.nodes[rule.SourceNodeID]; !ok {
			continue
		}
		for _, a := range rule.Allocations {
			if a.TargetNodeID == rule.SourceNodeID {
				continue
			}
			if _, ok := g.nodes[a.TargetNodeID]; !ok {
				continue
			}
			g.addEdge(&Edge{
				From:       rule.SourceNodeID,
				To:         a.TargetNodeID,
				Percentage: a.Percentage,
				Rule:       i,
			})
		}
	}

	return g
}

// effectiveRules returns, in ascending order, the indexes of the rules the
// engine keeps: the last rule for every source.
func effectiveRules(rules []simulation.Rule) []int {
	last := make(map[string]int, len(rules))
	for i, r := range rules {
		last[r.SourceNodeID] = i
	}

	kept := make([]int, 0, len(last))
	for i, r := range rules {
		if last[r.SourceNodeID] == i {
			kept = append(kept, i)
		}
	}
	return kept
}

func (g *Graph) addEdge(edge *Edge) {
	g.edges[edge.From] = append(g.edges[edge.From], edge)
	g.incoming[edge.To] = append(g.incoming[edge.To], edge)
}

// GetNode retrieves a node by ID, or nil if not found.
func (g *Graph) GetNode(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all nodes in input order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, len(g.order))
	for i, id := range g.order {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// GetOutgoingEdges returns the allocations leaving a node.
func (g *Graph) GetOutgoingEdges(fromID string) []*Edge {
	edges := g.edges[fromID]
	if edges == nil {
		return []*Edge{}
	}
	return edges
}

// GetIncomingEdges returns the allocations arriving at a node.
func (g *Graph) GetIncomingEdges(toID string) []*Edge {
	edges := g.incoming[toID]
	if edges == nil {
		return []*Edge{}
	}
	return edges
}

// FindPath performs a breadth-first search for a chain of allocations that
// moves money from one node to another.
func (g *Graph) FindPath(fromID, toID string) ([]*Edge, error) {
	if g.GetNode(fromID) == nil {
		return nil, fmt.Errorf("unknown node %q", fromID)
	}
	if g.GetNode(toID) == nil {
		return nil, fmt.Errorf("unknown node %q", toID)
	}
	if fromID == toID {
		return []*Edge{}, nil
	}

	type queueItem struct {
		nodeID string
		edges  []*Edge
	}

	queue := []queueItem{{nodeID: fromID}}
	visited := map[string]bool{fromID: true}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, edge := range g.GetOutgoingEdges(item.nodeID) {
			path := make([]*Edge, len(item.edges), len(item.edges)+1)
			copy(path, item.edges)
			path = append(path, edge)

			if edge.To == toID {
				return path, nil
			}
			if visited[edge.To] {
				continue
			}
			visited[edge.To] = true
			queue = append(queue, queueItem{nodeID: edge.To, edges: path})
		}
	}

	return nil, fmt.Errorf("no allocation path from %s to %s", fromID, toID)
}

// Reachable returns the ids that receive money, directly or through a
// cascade, from any of the given sources. Sources themselves are included.
// The result follows input order.
func (g *Graph) Reachable(sources ...string) []string {
	seen := make(map[string]bool)
	var queue []string
	for _, id := range sources {
		if _, ok := g.nodes[id]; ok && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, edge := range g.GetOutgoingEdges(id) {
			if !seen[edge.To] {
				seen[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}

	reachable := make([]string, 0, len(seen))
	for _, id := range g.order {
		if seen[id] {
			reachable = append(reachable, id)
		}
	}
	return reachable
}

// Sources returns the ids of income nodes in input order.
func (g *Graph) Sources() []string {
	var ids []string
	for _, id := range g.order {
		if g.nodes[id].Kind == simulation.KindIncome {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stats summarises the graph structure.
type Stats struct {
	NodeCount   int `json:"nodeCount"`
	IncomeCount int `json:"incomeCount"`
	EdgeCount   int `json:"edgeCount"`
	CycleCount  int `json:"cycleCount"`
}

// GetStats returns graph statistics.
func (g *Graph) GetStats() Stats {
	edgeCount := 0
	for _, edges := range g.edges {
		edgeCount += len(edges)
	}

	return Stats{
		NodeCount:   len(g.nodes),
		IncomeCount: len(g.Sources()),
		EdgeCount:   edgeCount,
		CycleCount:  len(g.Cycles()),
	}
}
