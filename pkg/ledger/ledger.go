// Package ledger accumulates the logs of a single pipeline execution and
// derives its metrics at finalization. A ledger belongs to exactly one
// execution; once the execution reaches a terminal status the ledger is
// immutable.
package ledger

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wehubfusion/Daedalus/pkg/errors"
)

// ExecutionStatus is the overall state of a pipeline run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Log is a single append-only log entry. Insertion order is causal order.
type Log struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
}

// Metrics holds the figures computed once at finalization.
type Metrics struct {
	RecordsProcessed int           `json:"recordsProcessed"`
	Duration         time.Duration `json:"duration"`
	MemoryUsage      uint64        `json:"memoryUsage"`
	Errors           int           `json:"errors"`
}

// Execution is the record of one pipeline run. It is created at trigger time
// and immutable once finalized.
type Execution struct {
	ID         string          `json:"id"`
	PipelineID string          `json:"pipelineId"`
	Status     ExecutionStatus `json:"status"`
	StartTime  time.Time       `json:"startTime"`
	EndTime    *time.Time      `json:"endTime,omitempty"`
	Logs       []Log           `json:"logs"`
	Metrics    Metrics         `json:"metrics"`
}

// Ledger collects logs and per-node outcomes during a run. It is safe for
// concurrent use by the engine's workers.
type Ledger struct {
	mu        sync.Mutex
	execution Execution
	written   int
	failures  int
	finalized bool
}

// NewLedger opens a ledger for a fresh execution of the given pipeline.
func NewLedger(pipelineID string) *Ledger {
	return &Ledger{
		execution: Execution{
			ID:         uuid.NewString(),
			PipelineID: pipelineID,
			Status:     StatusRunning,
			StartTime:  time.Now().UTC(),
		},
	}
}

// ExecutionID returns the id of the execution this ledger belongs to.
func (l *Ledger) ExecutionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.execution.ID
}

// Append adds a log entry. Appends after finalization are rejected.
func (l *Ledger) Append(level Level, nodeID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return errors.ErrExecutionFinalized
	}
	l.execution.Logs = append(l.execution.Logs, Log{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		NodeID:    nodeID,
	})
	return nil
}

// RecordWritten accumulates the record count reported by a succeeded
// destination node.
func (l *Ledger) RecordWritten(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finalized {
		l.written += count
	}
}

// RecordFailure counts a node that ended in the failed sub-status.
func (l *Ledger) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finalized {
		l.failures++
	}
}

// Finalize seals the ledger with the terminal status, computes the metrics,
// and returns an immutable snapshot of the execution. Further mutation
// attempts fail. Finalize is idempotent: repeated calls return the same
// snapshot.
func (l *Ledger) Finalize(status ExecutionStatus) Execution {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return l.snapshot()
	}
	l.finalized = true

	end := time.Now().UTC()
	l.execution.EndTime = &end
	l.execution.Status = status

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	l.execution.Metrics = Metrics{
		RecordsProcessed: l.written,
		Duration:         end.Sub(l.execution.StartTime),
		MemoryUsage:      mem.Alloc,
		Errors:           l.failures,
	}
	return l.snapshot()
}

// Snapshot returns a copy of the execution as recorded so far.
func (l *Ledger) Snapshot() Execution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// snapshot copies the execution record. Callers must hold l.mu.
func (l *Ledger) snapshot() Execution {
	exec := l.execution
	exec.Logs = make([]Log, len(l.execution.Logs))
	copy(exec.Logs, l.execution.Logs)
	if l.execution.EndTime != nil {
		end := *l.execution.EndTime
		exec.EndTime = &end
	}
	return exec
}
