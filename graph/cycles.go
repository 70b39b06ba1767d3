package graph

import "golang.org/x/exp/slices"

// Cycles returns every group of nodes that pass money around in a loop
// (strongly connected components with more than one node). Members are
// listed in input order and groups are ordered by their first member.
func (g *Graph) Cycles() [][]string {
	t := &tarjan{
		g:       g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}

	for _, id := range g.order {
		if _, visited := t.index[id]; !visited {
			t.strongConnect(id)
		}
	}

	for _, component := range t.components {
		slices.SortFunc(component, g.compareIndex)
	}
	slices.SortFunc(t.components, func(a, b []string) int {
		return g.compareIndex(a[0], b[0])
	})

	return t.components
}

// compareIndex orders node ids by their position in the input.
func (g *Graph) compareIndex(a, b string) int {
	return g.nodes[a].Index - g.nodes[b].Index
}

// tarjan holds the bookkeeping of Tarjan's strongly connected components
// algorithm.
type tarjan struct {
	g          *Graph
	next       int
	index      map[string]int
	lowlink    map[string]int
	stack      []string
	onStack    map[string]bool
	components [][]string
}

func (t *tarjan) strongConnect(id string) {
	t.index[id] = t.next
	t.lowlink[id] = t.next
	t.next++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	for _, edge := range t.g.GetOutgoingEdges(id) {
		if _, visited := t.index[edge.To]; !visited {
			t.strongConnect(edge.To)
			t.lowlink[id] = min(t.lowlink[id], t.lowlink[edge.To])
		} else if t.onStack[edge.To] {
			t.lowlink[id] = min(t.lowlink[id], t.index[edge.To])
		}
	}

	if t.lowlink[id] != t.index[id] {
		return
	}

	var component []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		component = append(component, top)
		if top == id {
			break
		}
	}

	if len(component) > 1 {
		t.components = append(t.components, component)
	}
}
