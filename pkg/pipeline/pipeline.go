// Package pipeline defines the mutable pipeline graph model: nodes,
// connections, schedules, and the structural invariants that keep the graph a
// valid DAG at all times.
package pipeline

import (
	"time"
)

// NodeType identifies the role of a node within the pipeline graph.
type NodeType string

const (
	// NodeTypeSource produces records from an external endpoint
	NodeTypeSource NodeType = "source"

	// NodeTypeTransform reshapes records flowing through it
	NodeTypeTransform NodeType = "transform"

	// NodeTypeDestination is terminal: it writes records and produces no downstream output
	NodeTypeDestination NodeType = "destination"
)

// Valid reports whether the node type is one of the known roles.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeSource, NodeTypeTransform, NodeTypeDestination:
		return true
	}
	return false
}

// Status is the lifecycle state of a pipeline.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Position is the cosmetic canvas placement of a node. It is carried for the
// canvas collaborator and never inspected by the execution engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single unit of the pipeline graph. A node is owned exclusively by
// its pipeline; ids are unique within that pipeline.
type Node struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config"`
	Position Position               `json:"position"`
}

// Connection is a directed edge between two nodes of the same pipeline.
// Handles name the specific ports on either end; they are optional.
type Connection struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Schedule describes when an external scheduler should trigger the pipeline.
// Cron parsing and timing are owned by the scheduler collaborator.
type Schedule struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

// DefaultConfig returns the palette collaborator's default configuration
// template for the given node type. The returned map is a fresh copy.
func DefaultConfig(t NodeType) map[string]interface{} {
	switch t {
	case NodeTypeSource:
		return map[string]interface{}{
			"url":     "https://api.example.com/data",
			"method":  "GET",
			"headers": map[string]interface{}{},
		}
	case NodeTypeTransform:
		return map[string]interface{}{
			"operation": "filter",
			"condition": "",
		}
	case NodeTypeDestination:
		return map[string]interface{}{
			"type": "api",
			"url":  "https://api.example.com/sink",
		}
	default:
		return map[string]interface{}{}
	}
}

// NewPipeline creates an empty draft pipeline with timestamps set.
func NewPipeline(id, name string) *Pipeline {
	now := time.Now().UTC()
	return &Pipeline{
		ID:        id,
		Name:      name,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
		nodeIndex: make(map[string]*Node),
	}
}

// WithDescription sets the pipeline description.
func (p *Pipeline) WithDescription(description string) *Pipeline {
	p.Description = description
	p.touch()
	return p
}

// WithSchedule attaches a schedule to the pipeline.
func (p *Pipeline) WithSchedule(enabled bool, cron string) *Pipeline {
	p.Schedule = &Schedule{Enabled: enabled, Cron: cron}
	p.touch()
	return p
}
