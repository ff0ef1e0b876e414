package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipelineGraph builds load -> {dq.a, dq.b, dq.c} -> promote.
func pipelineGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	for _, id := range []string{"create", "load", "dq.a", "dq.b", "dq.c", "promote"} {
		require.NoError(t, g.AddNode(id, nil))
	}
	require.NoError(t, g.AddEdge("create", "load"))
	for _, c := range []string{"dq.a", "dq.b", "dq.c"} {
		require.NoError(t, g.AddEdge("load", c))
		require.NoError(t, g.AddEdge(c, "promote"))
	}
	return g
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a", 1))
	assert.ErrorContains(t, g.AddNode("a", 2), "duplicate")
	assert.Error(t, g.AddNode("", nil))

	n, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, 1, n.Data)
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("a", nil))
	require.NoError(t, g.AddNode("b", nil))

	assert.ErrorContains(t, g.AddEdge("a", "x"), "child node")
	assert.ErrorContains(t, g.AddEdge("x", "a"), "parent node")

	var cycle *CycleError
	assert.ErrorAs(t, g.AddEdge("a", "a"), &cycle)

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 1, g.EdgeCount(), "duplicate edges are ignored")
	assert.Equal(t, []string{"a"}, g.Parents("b"))
	assert.Equal(t, []string{"b"}, g.Children("a"))
}

func TestGraph_Validate(t *testing.T) {
	g := pipelineGraph(t)
	require.NoError(t, g.Validate())

	require.NoError(t, g.AddEdge("promote", "load"))
	err := g.Validate()
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
	assert.Contains(t, err.Error(), "promote -> load")
}

func TestGraph_Levels(t *testing.T) {
	levels, err := pipelineGraph(t).Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"create"},
		{"load"},
		{"dq.a", "dq.b", "dq.c"},
		{"promote"},
	}, levels)
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := pipelineGraph(t)
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, g.NodeCount())

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, n := range g.Nodes() {
		for _, child := range g.Children(n.ID) {
			assert.Less(t, pos[n.ID], pos[child], "%s before %s", n.ID, child)
		}
	}
}

func TestGraph_Navigation(t *testing.T) {
	g := pipelineGraph(t)
	assert.Equal(t, []string{"create"}, g.Roots())
	assert.Equal(t, []string{"promote"}, g.Leaves())
	assert.Equal(t, []string{"dq.a", "dq.b", "dq.c", "promote"}, g.Descendants("load"))
	assert.Empty(t, g.Descendants("promote"))
	assert.Equal(t, 6, g.NodeCount())
	assert.Equal(t, 7, g.EdgeCount())
}
