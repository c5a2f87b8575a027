// Package engine orders and drives node runners over a validated pipeline
// graph. One engine serializes runs per pipeline id while distinct pipelines
// execute independently and concurrently. All run state lives in a
// per-execution context object; the engine itself holds no per-run globals.
package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/eventbus"
	"github.com/wehubfusion/Daedalus/pkg/ledger"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
	"github.com/wehubfusion/Daedalus/pkg/runner"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/validator"
)

// NodeStatus is the per-node sub-status within an execution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Config holds engine tuning knobs.
type Config struct {
	// Workers bounds how many nodes of one execution run concurrently.
	Workers int

	// NodeTimeout bounds a single runner invocation.
	NodeTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		NodeTimeout: 30 * time.Second,
	}
}

// RunnerFactory builds the execution unit for a node. The runner package's
// Factory is the production implementation.
type RunnerFactory interface {
	ForNode(node *pipeline.Node) (runner.Runner, error)
}

// FatalReporter receives unrecoverable engine failures. The reporting
// package's Reporter is the production implementation.
type FatalReporter interface {
	CaptureFatal(err error, pipelineID, executionID string)
}

// Engine triggers and drives pipeline executions.
type Engine struct {
	store    storage.Store
	factory  RunnerFactory
	bus      *eventbus.Bus
	reporter FatalReporter
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	inflight map[string]*execution // keyed by pipeline id
	byExecID map[string]*execution
}

// NewEngine creates an engine. The store, factory, bus, and logger are
// required; reporter may be nil to disable error reporting.
func NewEngine(store storage.Store, factory RunnerFactory, bus *eventbus.Bus, reporter FatalReporter, config Config, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.NewEngineFatalError("store cannot be nil", nil)
	}
	if factory == nil {
		return nil, errors.NewEngineFatalError("runner factory cannot be nil", nil)
	}
	if bus == nil {
		return nil, errors.NewEngineFatalError("event bus cannot be nil", nil)
	}
	if logger == nil {
		return nil, errors.NewEngineFatalError("logger cannot be nil", nil)
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.NodeTimeout <= 0 {
		config.NodeTimeout = DefaultConfig().NodeTimeout
	}

	return &Engine{
		store:    store,
		factory:  factory,
		bus:      bus,
		reporter: reporter,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer("daedalus/engine"),
		inflight: make(map[string]*execution),
		byExecID: make(map[string]*execution),
	}, nil
}

// Trigger starts a new execution of the pipeline and returns its id. The
// pipeline is loaded from the store and validated before any node runs.
// Triggering a pipeline that already has an execution in flight fails: runs
// are serialized per pipeline id.
func (e *Engine) Trigger(ctx context.Context, pipelineID string) (string, error) {
	p, err := e.store.Load(ctx, pipelineID)
	if err != nil {
		return "", err
	}

	result := validator.Validate(p)
	if !result.Valid {
		return "", result.Err()
	}
	// Reachability findings are not fatal but must be visible.
	for _, warning := range result.Warnings {
		e.logger.Warn("Pipeline validation warning",
			zap.String("pipelineID", pipelineID),
			zap.String("nodeID", warning.NodeID),
			zap.String("warning", warning.Message))
	}

	exec, err := newExecution(p, e.config.Workers)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if _, busy := e.inflight[pipelineID]; busy {
		e.mu.Unlock()
		return "", errors.NewConflictError(pipelineID)
	}
	e.inflight[pipelineID] = exec
	e.byExecID[exec.ledger.ExecutionID()] = exec
	e.mu.Unlock()

	// The graph is read-only for the duration of the run.
	p.BeginExecution()

	execID := exec.ledger.ExecutionID()
	e.logger.Info("Execution triggered",
		zap.String("pipelineID", pipelineID),
		zap.String("executionID", execID))

	// The run outlives the trigger call; it gets its own cancellable
	// context rather than inheriting the caller's.
	runCtx, cancel := context.WithCancel(context.Background())
	exec.cancel = cancel
	go e.run(runCtx, exec)
	return execID, nil
}

// Cancel stops an in-flight execution: remaining nodes transition to skipped,
// dispatch halts, and the execution finalizes as failed with a cancellation
// log entry.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	exec, ok := e.byExecID[executionID]
	e.mu.Unlock()

	if !ok {
		return errors.NewNotFoundError(executionID)
	}
	exec.requestCancel()
	return nil
}

// Execution returns a snapshot of an execution, in-flight or persisted.
func (e *Engine) Execution(ctx context.Context, executionID string) (*ledger.Execution, error) {
	e.mu.Lock()
	exec, ok := e.byExecID[executionID]
	e.mu.Unlock()

	if ok {
		snap := exec.ledger.Snapshot()
		return &snap, nil
	}
	return e.store.LoadExecution(ctx, executionID)
}

// NodeStatuses returns the current per-node sub-statuses of an in-flight
// execution.
func (e *Engine) NodeStatuses(executionID string) (map[string]NodeStatus, error) {
	e.mu.Lock()
	exec, ok := e.byExecID[executionID]
	e.mu.Unlock()

	if !ok {
		return nil, errors.NewNotFoundError(executionID)
	}
	return exec.nodeStatuses(), nil
}

// finish releases the execution's engine-level registrations.
func (e *Engine) finish(exec *execution) {
	exec.pipeline.EndExecution()

	e.mu.Lock()
	delete(e.inflight, exec.pipeline.ID)
	delete(e.byExecID, exec.ledger.ExecutionID())
	e.mu.Unlock()
}
