// Package errors defines the structured error taxonomy shared by the graph
// model, validator, execution engine, and storage collaborators.
package errors

import (
	"errors"
	"fmt"
)

// Error codes used across the pipeline engine. Codes are machine-readable and
// stable; messages are free-form.
const (
	CodeDuplicateID            = "DUPLICATE_ID"
	CodeUnknownNode            = "UNKNOWN_NODE"
	CodeCycle                  = "CYCLE"
	CodeDegreeViolation        = "DEGREE_VIOLATION"
	CodeConfigValidation       = "CONFIG_VALIDATION"
	CodeNodeExecution          = "NODE_EXECUTION"
	CodeNodeTimeout            = "NODE_TIMEOUT"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeEngineFatal            = "ENGINE_FATAL"
	CodeNotFound               = "NOT_FOUND"
	CodeConflict               = "CONFLICT"
)

var (
	// ErrCancelled indicates that an execution was cancelled before completing
	ErrCancelled = errors.New("execution cancelled")

	// ErrExecutionFinalized indicates a mutation attempt on a finalized execution
	ErrExecutionFinalized = errors.New("execution already finalized")
)

// Error represents a structured pipeline error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// NodeID identifies the node the error relates to, if any
	NodeID string

	// Field identifies the configuration field at fault, for validation errors
	Field string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.NodeID != "" {
		msg = fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewDuplicateIDError reports an attempt to add a node whose id already exists.
func NewDuplicateIDError(nodeID string) *Error {
	return &Error{Code: CodeDuplicateID, NodeID: nodeID, Message: "node id already exists"}
}

// NewUnknownNodeError reports a reference to a node id absent from the graph.
func NewUnknownNodeError(nodeID string) *Error {
	return &Error{Code: CodeUnknownNode, NodeID: nodeID, Message: "node does not exist"}
}

// NewCycleError reports that an operation would create, or encountered, a cycle.
func NewCycleError(message string) *Error {
	return &Error{Code: CodeCycle, Message: message}
}

// NewDegreeViolationError reports a connection that violates terminal/initial
// node type constraints.
func NewDegreeViolationError(nodeID, message string) *Error {
	return &Error{Code: CodeDegreeViolation, NodeID: nodeID, Message: message}
}

// NewConfigValidationError reports an invalid node configuration field.
func NewConfigValidationError(nodeID, field, message string) *Error {
	return &Error{Code: CodeConfigValidation, NodeID: nodeID, Field: field, Message: message}
}

// NewNodeExecutionError reports a node runner failure.
func NewNodeExecutionError(nodeID string, cause error) *Error {
	return &Error{Code: CodeNodeExecution, NodeID: nodeID, Message: "node execution failed", Err: cause}
}

// NewNodeTimeoutError reports that a node runner exceeded its timeout.
func NewNodeTimeoutError(nodeID string) *Error {
	return &Error{Code: CodeNodeTimeout, NodeID: nodeID, Message: "node execution timed out"}
}

// NewConcurrentModificationError reports a graph mutation attempted while an
// execution holds the pipeline.
func NewConcurrentModificationError(pipelineID string) *Error {
	return &Error{Code: CodeConcurrentModification, Message: fmt.Sprintf("pipeline %s is locked by a running execution", pipelineID)}
}

// NewEngineFatalError reports an unrecoverable engine failure mid-run.
func NewEngineFatalError(message string, cause error) *Error {
	return &Error{Code: CodeEngineFatal, Message: message, Err: cause}
}

// NewNotFoundError reports a missing pipeline or execution in storage.
func NewNotFoundError(id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", id)}
}

// NewConflictError reports an optimistic concurrency conflict on save.
func NewConflictError(id string) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf("%s was modified concurrently", id)}
}

// codeOf extracts the structured code from an error chain, if present.
func codeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCycle checks if an error is a cycle error
func IsCycle(err error) bool { return codeOf(err) == CodeCycle }

// IsDuplicateID checks if an error is a duplicate id error
func IsDuplicateID(err error) bool { return codeOf(err) == CodeDuplicateID }

// IsUnknownNode checks if an error is an unknown node error
func IsUnknownNode(err error) bool { return codeOf(err) == CodeUnknownNode }

// IsDegreeViolation checks if an error is a degree violation error
func IsDegreeViolation(err error) bool { return codeOf(err) == CodeDegreeViolation }

// IsConfigValidation checks if an error is a config validation error
func IsConfigValidation(err error) bool { return codeOf(err) == CodeConfigValidation }

// IsNodeTimeout checks if an error is a node timeout error
func IsNodeTimeout(err error) bool { return codeOf(err) == CodeNodeTimeout }

// IsConcurrentModification checks if an error is a concurrent modification error
func IsConcurrentModification(err error) bool { return codeOf(err) == CodeConcurrentModification }

// IsEngineFatal checks if an error is an engine fatal error
func IsEngineFatal(err error) bool { return codeOf(err) == CodeEngineFatal }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return codeOf(err) == CodeNotFound }

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool { return codeOf(err) == CodeConflict }
