// Package dag models a pipeline run as a directed acyclic graph of tasks and
// executes it with a bounded worker pool.
package dag

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Node is a vertex of the graph.
type Node struct {
	// ID is unique within a graph (e.g. "load_staging", "dq.not_null.user_id").
	ID string
	// Data carries the task payload.
	Data any
}

// Graph is a directed graph where an edge parent->child means the child
// cannot start until the parent succeeded.
type Graph struct {
	nodes   map[string]*Node
	order   []string            // insertion order
	edges   map[string][]string // parent -> children
	parents map[string][]string // child -> parents
}

// CycleError reports a dependency cycle. Path starts and ends on the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node. IDs must be unique.
func (g *Graph) AddNode(id string, data any) error {
	if id == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("duplicate node %q", id)
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.order = append(g.order, id)
	return nil
}

// AddEdge declares that child depends on parent.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, ok := g.nodes[parentID]; !ok {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, ok := g.nodes[childID]; !ok {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return &CycleError{Path: []string{parentID, parentID}}
	}
	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the direct dependencies of a node.
func (g *Graph) Parents(id string) []string {
	return slices.Clone(g.parents[id])
}

// Children returns the direct dependents of a node.
func (g *Graph) Children(id string) []string {
	return slices.Clone(g.edges[id])
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, children := range g.edges {
		n += len(children)
	}
	return n
}

// Validate returns a *CycleError if the graph is not acyclic.
func (g *Graph) Validate() error {
	const (
		unvisited = iota
		inStack
		done
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = inStack
		stack = append(stack, id)
		for _, child := range g.edges[id] {
			switch color[child] {
			case inStack:
				i := slices.Index(stack, child)
				return append(slices.Clone(stack[i:]), child)
			case unvisited:
				if cycle := visit(child); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = done
		return nil
	}

	for _, id := range g.order {
		if color[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return &CycleError{Path: cycle}
			}
		}
	}
	return nil
}

// TopologicalSort returns node IDs with every parent before its children.
// Ties are broken by insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Levels groups nodes by depth. Nodes in one level have no dependencies on
// each other and may run concurrently once the previous level is done.
func (g *Graph) Levels() ([][]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(g.nodes))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, p := range g.parents[id] {
			d = max(d, depthOf(p)+1)
		}
		depth[id] = d
		return d
	}

	var levels [][]string
	for _, id := range g.order {
		d := depthOf(id)
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	return levels, nil
}

// Descendants returns every node reachable from id, sorted.
func (g *Graph) Descendants(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, child := range g.edges[n] {
			if !seen[child] {
				seen[child] = true
				walk(child)
			}
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Roots returns nodes without dependencies, in insertion order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns nodes without dependents, in insertion order.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}
