package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/errors"
)

// Pipeline owns a set of nodes and the directed connections between them.
// Structural invariants are enforced on every mutation: ids stay unique,
// connections only reference existing nodes, degree constraints hold, and the
// graph never contains a cycle. Mutations are rejected while an execution
// holds the pipeline.
type Pipeline struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
	Schedule    *Schedule     `json:"schedule,omitempty"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`

	mu        sync.RWMutex
	nodeIndex map[string]*Node
	holds     int
}

func (p *Pipeline) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// ensureIndex rebuilds the node index. Needed after JSON decoding, which
// bypasses AddNode.
func (p *Pipeline) ensureIndex() {
	if p.nodeIndex == nil || len(p.nodeIndex) != len(p.Nodes) {
		p.nodeIndex = make(map[string]*Node, len(p.Nodes))
		for _, n := range p.Nodes {
			p.nodeIndex[n.ID] = n
		}
	}
}

// checkMutable reports whether the graph may be mutated right now.
// Callers must hold p.mu.
func (p *Pipeline) checkMutable() error {
	if p.holds > 0 {
		return errors.NewConcurrentModificationError(p.ID)
	}
	return nil
}

// demoteIfActive drops an active pipeline out of the active state after an
// edit so that it cannot run again until it has been re-validated.
// Callers must hold p.mu.
func (p *Pipeline) demoteIfActive() {
	if p.Status == StatusActive {
		p.Status = StatusError
	}
}

// AddNode inserts a node into the graph. The node keeps its insertion order,
// which later breaks ties in TopologicalOrder. If the node has no config the
// palette default template for its type is applied.
func (p *Pipeline) AddNode(node *Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return err
	}
	p.ensureIndex()

	if _, exists := p.nodeIndex[node.ID]; exists {
		return errors.NewDuplicateIDError(node.ID)
	}
	if node.Config == nil {
		node.Config = DefaultConfig(node.Type)
	}

	p.Nodes = append(p.Nodes, node)
	p.nodeIndex[node.ID] = node
	p.demoteIfActive()
	p.touch()
	return nil
}

// RemoveNode deletes a node and cascades removal of every connection that
// references it.
func (p *Pipeline) RemoveNode(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return err
	}
	p.ensureIndex()

	if _, exists := p.nodeIndex[id]; !exists {
		return errors.NewUnknownNodeError(id)
	}

	nodes := p.Nodes[:0]
	for _, n := range p.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	p.Nodes = nodes
	delete(p.nodeIndex, id)

	conns := p.Connections[:0]
	for _, c := range p.Connections {
		if c.SourceNodeID != id && c.TargetNodeID != id {
			conns = append(conns, c)
		}
	}
	p.Connections = conns
	p.demoteIfActive()
	p.touch()
	return nil
}

// UpdateNodeConfig replaces a node's configuration map.
func (p *Pipeline) UpdateNodeConfig(id string, config map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return err
	}
	p.ensureIndex()

	node, exists := p.nodeIndex[id]
	if !exists {
		return errors.NewUnknownNodeError(id)
	}
	node.Config = config
	p.demoteIfActive()
	p.touch()
	return nil
}

// AddConnection inserts a directed edge from sourceID to targetID. The edge is
// rejected if either endpoint is missing, if it would violate the terminal and
// initial node type constraints, or if it would create a cycle. On failure the
// node and connection sets are left unchanged.
func (p *Pipeline) AddConnection(sourceID, targetID string) (*Connection, error) {
	return p.AddConnectionWithHandles(sourceID, targetID, "", "")
}

// AddConnectionWithHandles is AddConnection with named source/target handles.
func (p *Pipeline) AddConnectionWithHandles(sourceID, targetID, sourceHandle, targetHandle string) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return nil, err
	}
	p.ensureIndex()

	source, ok := p.nodeIndex[sourceID]
	if !ok {
		return nil, errors.NewUnknownNodeError(sourceID)
	}
	target, ok := p.nodeIndex[targetID]
	if !ok {
		return nil, errors.NewUnknownNodeError(targetID)
	}

	if source.Type == NodeTypeDestination {
		return nil, errors.NewDegreeViolationError(sourceID, "destination nodes cannot have outgoing connections")
	}
	if target.Type == NodeTypeSource {
		return nil, errors.NewDegreeViolationError(targetID, "source nodes cannot have incoming connections")
	}
	if sourceID == targetID {
		return nil, errors.NewCycleError("self-referential connection not allowed")
	}

	// Adding source->target creates a cycle iff source is already reachable
	// from target.
	if p.reachable(targetID, sourceID) {
		return nil, errors.NewCycleError("connection would create a cycle")
	}

	conn := &Connection{
		ID:           uuid.NewString(),
		SourceNodeID: sourceID,
		TargetNodeID: targetID,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	}
	p.Connections = append(p.Connections, conn)
	p.demoteIfActive()
	p.touch()
	return conn, nil
}

// RemoveConnection deletes a connection by id. Removing an edge can never
// break acyclicity, so no further checks are needed.
func (p *Pipeline) RemoveConnection(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return err
	}

	for i, c := range p.Connections {
		if c.ID == id {
			p.Connections = append(p.Connections[:i], p.Connections[i+1:]...)
			p.demoteIfActive()
			p.touch()
			return nil
		}
	}
	return errors.NewNotFoundError(id)
}

// reachable reports whether to is reachable from from by following directed
// connections. Callers must hold p.mu.
func (p *Pipeline) reachable(from, to string) bool {
	adj := make(map[string][]string, len(p.Nodes))
	for _, c := range p.Connections {
		adj[c.SourceNodeID] = append(adj[c.SourceNodeID], c.TargetNodeID)
	}

	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, adj[cur]...)
	}
	return false
}

// Node returns the node with the given id, or nil.
func (p *Pipeline) Node(id string) *Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureIndex()
	return p.nodeIndex[id]
}

// Predecessors returns the ids of nodes with a connection into id.
func (p *Pipeline) Predecessors(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var preds []string
	for _, c := range p.Connections {
		if c.TargetNodeID == id {
			preds = append(preds, c.SourceNodeID)
		}
	}
	return preds
}

// Successors returns the ids of nodes id connects into.
func (p *Pipeline) Successors(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var succs []string
	for _, c := range p.Connections {
		if c.SourceNodeID == id {
			succs = append(succs, c.TargetNodeID)
		}
	}
	return succs
}

// TopologicalOrder returns a deterministic total order of node ids in which
// every connection's source precedes its target. Ties are broken by node
// insertion order. Fails with a cycle error if the graph is not a DAG, which
// can only happen when a decoded pipeline bypassed AddConnection.
func (p *Pipeline) TopologicalOrder() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.topologicalOrder()
}

func (p *Pipeline) topologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(p.Nodes))
	for _, n := range p.Nodes {
		indegree[n.ID] = 0
	}
	for _, c := range p.Connections {
		indegree[c.TargetNodeID]++
	}

	order := make([]string, 0, len(p.Nodes))
	placed := make(map[string]bool, len(p.Nodes))

	for len(order) < len(p.Nodes) {
		progressed := false
		// Scanning the insertion-ordered node slice makes the tie-break
		// deterministic without extra bookkeeping.
		for _, n := range p.Nodes {
			if placed[n.ID] || indegree[n.ID] != 0 {
				continue
			}
			placed[n.ID] = true
			order = append(order, n.ID)
			for _, c := range p.Connections {
				if c.SourceNodeID == n.ID {
					indegree[c.TargetNodeID]--
				}
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, errors.NewCycleError("graph contains a cycle")
		}
	}
	return order, nil
}

// BeginExecution takes a read hold on the graph for the duration of an
// execution. While at least one hold is outstanding every mutation fails with
// a concurrent modification error.
func (p *Pipeline) BeginExecution() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holds++
}

// EndExecution releases a hold taken by BeginExecution.
func (p *Pipeline) EndExecution() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.holds > 0 {
		p.holds--
	}
}

// SetStatus transitions the pipeline's lifecycle status. Transitions into the
// active state must go through the validator; this setter only records the
// outcome.
func (p *Pipeline) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = s
	p.touch()
}
