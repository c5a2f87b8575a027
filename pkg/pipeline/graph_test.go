package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/errors"
)

func newNode(id string, t NodeType) *Node {
	return &Node{ID: id, Type: t, Name: id}
}

// buildLinear constructs source -> transform -> destination.
func buildLinear(t *testing.T) *Pipeline {
	t.Helper()
	p := NewPipeline("p1", "linear")
	require.NoError(t, p.AddNode(newNode("src", NodeTypeSource)))
	require.NoError(t, p.AddNode(newNode("tr", NodeTypeTransform)))
	require.NoError(t, p.AddNode(newNode("dst", NodeTypeDestination)))
	_, err := p.AddConnection("src", "tr")
	require.NoError(t, err)
	_, err = p.AddConnection("tr", "dst")
	require.NoError(t, err)
	return p
}

func TestAddNodeDuplicateID(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("a", NodeTypeSource)))

	err := p.AddNode(newNode("a", NodeTypeTransform))
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateID(err))
	assert.Len(t, p.Nodes, 1)
}

func TestAddNodeAppliesPaletteDefaults(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("src", NodeTypeSource)))

	node := p.Node("src")
	require.NotNil(t, node)
	assert.Equal(t, "GET", node.Config["method"])
	assert.NotEmpty(t, node.Config["url"])
}

func TestRemoveNodeCascadesConnections(t *testing.T) {
	p := buildLinear(t)

	require.NoError(t, p.RemoveNode("tr"))

	assert.Len(t, p.Nodes, 2)
	assert.Empty(t, p.Connections, "both edges touched the removed node")
	assert.Nil(t, p.Node("tr"))
}

func TestRemoveNodeUnknown(t *testing.T) {
	p := NewPipeline("p1", "test")
	err := p.RemoveNode("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsUnknownNode(err))
}

func TestAddConnectionUnknownEndpoint(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("src", NodeTypeSource)))

	_, err := p.AddConnection("src", "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsUnknownNode(err))

	_, err = p.AddConnection("ghost", "src")
	require.Error(t, err)
	assert.True(t, errors.IsUnknownNode(err))
	assert.Empty(t, p.Connections)
}

func TestAddConnectionDegreeViolations(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("src", NodeTypeSource)))
	require.NoError(t, p.AddNode(newNode("tr", NodeTypeTransform)))
	require.NoError(t, p.AddNode(newNode("dst", NodeTypeDestination)))

	// Destinations are terminal.
	_, err := p.AddConnection("dst", "tr")
	require.Error(t, err)
	assert.True(t, errors.IsDegreeViolation(err))

	// Sources are initial.
	_, err = p.AddConnection("tr", "src")
	require.Error(t, err)
	assert.True(t, errors.IsDegreeViolation(err))

	assert.Empty(t, p.Connections, "rejected edges must not be inserted")
}

func TestAddConnectionSelfEdge(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("tr", NodeTypeTransform)))

	_, err := p.AddConnection("tr", "tr")
	require.Error(t, err)
	assert.True(t, errors.IsCycle(err))
}

func TestAddConnectionCycleLeavesGraphUnchanged(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("a", NodeTypeTransform)))
	require.NoError(t, p.AddNode(newNode("b", NodeTypeTransform)))
	require.NoError(t, p.AddNode(newNode("c", NodeTypeTransform)))
	_, err := p.AddConnection("a", "b")
	require.NoError(t, err)
	_, err = p.AddConnection("b", "c")
	require.NoError(t, err)

	before := len(p.Connections)

	_, err = p.AddConnection("c", "a")
	require.Error(t, err)
	assert.True(t, errors.IsCycle(err))
	assert.Len(t, p.Connections, before, "no partial mutation on rejection")

	// The graph still orders cleanly.
	order, err := p.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRemoveConnection(t *testing.T) {
	p := NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(newNode("a", NodeTypeSource)))
	require.NoError(t, p.AddNode(newNode("b", NodeTypeTransform)))
	conn, err := p.AddConnection("a", "b")
	require.NoError(t, err)

	require.NoError(t, p.RemoveConnection(conn.ID))
	assert.Empty(t, p.Connections)

	err = p.RemoveConnection(conn.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	// Diamond: src -> {t1, t2} -> dst.
	p := NewPipeline("p1", "diamond")
	require.NoError(t, p.AddNode(newNode("src", NodeTypeSource)))
	require.NoError(t, p.AddNode(newNode("t1", NodeTypeTransform)))
	require.NoError(t, p.AddNode(newNode("t2", NodeTypeTransform)))
	require.NoError(t, p.AddNode(newNode("dst", NodeTypeDestination)))
	for _, edge := range [][2]string{{"src", "t1"}, {"src", "t2"}, {"t1", "dst"}, {"t2", "dst"}} {
		_, err := p.AddConnection(edge[0], edge[1])
		require.NoError(t, err)
	}

	order, err := p.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, c := range p.Connections {
		assert.Less(t, pos[c.SourceNodeID], pos[c.TargetNodeID],
			"edge %s->%s out of order", c.SourceNodeID, c.TargetNodeID)
	}
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	p := buildLinear(t)

	first, err := p.TopologicalOrder()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTopologicalOrderTieBreakByInsertion(t *testing.T) {
	p := NewPipeline("p1", "ties")
	// Three independent nodes: order must follow insertion.
	require.NoError(t, p.AddNode(newNode("b", NodeTypeSource)))
	require.NoError(t, p.AddNode(newNode("a", NodeTypeSource)))
	require.NoError(t, p.AddNode(newNode("c", NodeTypeSource)))

	order, err := p.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestTopologicalOrderDetectsDecodedCycle(t *testing.T) {
	// A cycle can only exist in a pipeline decoded from storage, bypassing
	// AddConnection.
	raw := `{
		"id": "p1", "name": "cyclic", "status": "draft",
		"nodes": [
			{"id": "a", "type": "transform", "name": "a", "config": {}},
			{"id": "b", "type": "transform", "name": "b", "config": {}}
		],
		"connections": [
			{"id": "c1", "sourceNodeId": "a", "targetNodeId": "b"},
			{"id": "c2", "sourceNodeId": "b", "targetNodeId": "a"}
		]
	}`
	var p Pipeline
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	_, err := p.TopologicalOrder()
	require.Error(t, err)
	assert.True(t, errors.IsCycle(err))
}

func TestMutationRejectedWhileExecutionHolds(t *testing.T) {
	p := buildLinear(t)

	p.BeginExecution()

	err := p.AddNode(newNode("extra", NodeTypeTransform))
	require.Error(t, err)
	assert.True(t, errors.IsConcurrentModification(err))

	err = p.RemoveNode("tr")
	require.Error(t, err)
	assert.True(t, errors.IsConcurrentModification(err))

	_, err = p.AddConnection("src", "dst")
	require.Error(t, err)
	assert.True(t, errors.IsConcurrentModification(err))

	p.EndExecution()

	// Edits work again once the hold is released.
	require.NoError(t, p.AddNode(newNode("extra", NodeTypeTransform)))
}

func TestEditDemotesActivePipeline(t *testing.T) {
	p := buildLinear(t)
	p.SetStatus(StatusActive)

	require.NoError(t, p.AddNode(newNode("extra", NodeTypeTransform)))
	assert.Equal(t, StatusError, p.Status, "editing an active pipeline forces re-validation")
}

func TestPredecessorsAndSuccessors(t *testing.T) {
	p := buildLinear(t)

	assert.Equal(t, []string{"src"}, p.Predecessors("tr"))
	assert.Equal(t, []string{"dst"}, p.Successors("tr"))
	assert.Empty(t, p.Predecessors("src"))
	assert.Empty(t, p.Successors("dst"))
}
