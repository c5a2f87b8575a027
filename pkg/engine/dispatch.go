package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/eventbus"
	"github.com/wehubfusion/Daedalus/pkg/ledger"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
	"github.com/wehubfusion/Daedalus/pkg/runner"
)

// nodeState tracks one node's progress through an execution.
type nodeState struct {
	node       *pipeline.Node
	preds      []*nodeState
	dependents []*nodeState
	depCount   atomic.Int32

	mu     sync.Mutex
	status NodeStatus
	output []runner.Record

	// terminal guards the single transition into a terminal sub-status and
	// the matching WaitGroup release.
	terminal sync.Once
}

func (ns *nodeState) setStatus(s NodeStatus) {
	ns.mu.Lock()
	ns.status = s
	ns.mu.Unlock()
}

func (ns *nodeState) getStatus() NodeStatus {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.status
}

// execution is the per-run context object: it owns the ledger, the node
// states, and the cancellation signal. Nothing in here is shared between
// executions.
type execution struct {
	pipeline  *pipeline.Pipeline
	ledger    *ledger.Ledger
	nodes     map[string]*nodeState
	order     []string
	workers   int
	cancelled atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// newExecution builds the dispatch structures from a validated pipeline.
func newExecution(p *pipeline.Pipeline, workers int) (*execution, error) {
	order, err := p.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	exec := &execution{
		pipeline: p,
		ledger:   ledger.NewLedger(p.ID),
		nodes:    make(map[string]*nodeState, len(p.Nodes)),
		order:    order,
		workers:  workers,
	}

	for _, n := range p.Nodes {
		exec.nodes[n.ID] = &nodeState{node: n, status: NodePending}
	}
	for _, c := range p.Connections {
		src := exec.nodes[c.SourceNodeID]
		tgt := exec.nodes[c.TargetNodeID]
		src.dependents = append(src.dependents, tgt)
		tgt.preds = append(tgt.preds, src)
		tgt.depCount.Add(1)
	}
	return exec, nil
}

func (x *execution) requestCancel() {
	if x.cancelled.CompareAndSwap(false, true) {
		if x.cancel != nil {
			x.cancel()
		}
	}
}

func (x *execution) nodeStatuses() map[string]NodeStatus {
	out := make(map[string]NodeStatus, len(x.nodes))
	for id, ns := range x.nodes {
		out[id] = ns.getStatus()
	}
	return out
}

// run drives one execution to a terminal status. It is the only goroutine
// that touches engine-level bookkeeping for this execution.
func (e *Engine) run(ctx context.Context, exec *execution) {
	execID := exec.ledger.ExecutionID()
	defer exec.cancel()
	defer e.finish(exec)

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("pipeline.id", exec.pipeline.ID),
			attribute.String("execution.id", execID),
			attribute.Int("node.count", len(exec.nodes)),
		))
	defer span.End()

	exec.ledger.Append(ledger.LevelInfo, "", "execution started")
	e.bus.Publish(eventbus.Event{
		Type:        eventbus.EventExecutionStarted,
		ExecutionID: execID,
	})

	readyChan := make(chan *nodeState, len(exec.nodes))
	for _, id := range exec.order {
		ns := exec.nodes[id]
		if ns.depCount.Load() == 0 {
			readyChan <- ns
		}
	}

	exec.wg.Add(len(exec.nodes))
	for i := 0; i < exec.workers; i++ {
		go e.worker(ctx, exec, readyChan, i)
	}

	exec.wg.Wait()
	close(readyChan)

	if exec.cancelled.Load() {
		exec.ledger.Append(ledger.LevelWarn, "", "execution cancelled")
	}

	status := exec.overallStatus()
	snapshot := exec.ledger.Finalize(status)
	if status == ledger.StatusFailed {
		span.SetStatus(codes.Error, "execution failed")
	} else {
		span.SetStatus(codes.Ok, "execution completed")
	}

	e.bus.Publish(eventbus.Event{
		Type:        eventbus.EventExecutionFinished,
		ExecutionID: execID,
		Status:      string(status),
	})

	e.logger.Info("Execution finished",
		zap.String("pipelineID", exec.pipeline.ID),
		zap.String("executionID", execID),
		zap.String("status", string(status)),
		zap.Int("recordsProcessed", snapshot.Metrics.RecordsProcessed),
		zap.Int("errors", snapshot.Metrics.Errors))

	// Persisting the finalized record is the engine's last obligation. A
	// store failure here is unrecoverable for this run.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := e.store.SaveExecution(saveCtx, snapshot); err != nil {
		fatal := errors.NewEngineFatalError("failed to persist execution", err)
		e.logger.Error("Fatal engine error",
			zap.String("executionID", execID),
			zap.Error(fatal))
		if e.reporter != nil {
			e.reporter.CaptureFatal(fatal, exec.pipeline.ID, execID)
		}
	}
}

// worker is the core processing loop for a single concurrent worker.
func (e *Engine) worker(ctx context.Context, exec *execution, readyChan chan *nodeState, workerID int) {
	for ns := range readyChan {
		if ns.getStatus() != NodePending {
			// Already resolved by skip propagation.
			continue
		}
		if ctx.Err() != nil || exec.cancelled.Load() {
			e.skipNode(exec, ns, "execution cancelled")
			continue
		}
		e.runNode(ctx, exec, readyChan, ns, workerID)
	}
}

// runNode executes a single node and resolves its dependents.
func (e *Engine) runNode(ctx context.Context, exec *execution, readyChan chan *nodeState, ns *nodeState, workerID int) {
	execID := exec.ledger.ExecutionID()
	nodeID := ns.node.ID

	ns.setStatus(NodeRunning)
	exec.ledger.Append(ledger.LevelInfo, nodeID, fmt.Sprintf("node %q started", ns.node.Name))
	e.publishNodeStatus(execID, nodeID, NodeRunning)

	ctx, span := e.tracer.Start(ctx, "engine.runNode",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("node.id", nodeID),
			attribute.String("node.type", string(ns.node.Type)),
		))
	defer span.End()

	input := exec.gatherInput(ns)

	runCtx, cancel := context.WithTimeout(ctx, e.config.NodeTimeout)
	defer cancel()

	var output []runner.Record
	r, err := e.factory.ForNode(ns.node)
	if err == nil {
		output, err = r.Run(runCtx, input)
	}

	if err != nil {
		// Cancellation mid-run skips the node instead of failing it.
		if exec.cancelled.Load() && ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			e.skipNode(exec, ns, "execution cancelled")
			return
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			err = errors.NewNodeTimeoutError(nodeID)
		} else if !errors.IsNodeTimeout(err) && !errors.IsConfigValidation(err) {
			err = errors.NewNodeExecutionError(nodeID, err)
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		exec.ledger.Append(ledger.LevelError, nodeID, err.Error())
		exec.ledger.RecordFailure()

		e.logger.Warn("Node failed",
			zap.String("executionID", execID),
			zap.String("nodeID", nodeID),
			zap.Error(err))

		ns.terminal.Do(func() {
			ns.setStatus(NodeFailed)
			exec.wg.Done()
			e.publishNodeStatus(execID, nodeID, NodeFailed)
		})

		for _, dependent := range ns.dependents {
			e.skipSubtree(exec, dependent, nodeID)
		}
		return
	}

	span.SetStatus(codes.Ok, "node succeeded")
	ns.mu.Lock()
	ns.output = output
	ns.mu.Unlock()

	if ns.node.Type == pipeline.NodeTypeDestination {
		written := runner.WrittenCount(output)
		exec.ledger.RecordWritten(written)
		exec.ledger.Append(ledger.LevelInfo, nodeID,
			fmt.Sprintf("node %q wrote %d records", ns.node.Name, written))
	} else {
		exec.ledger.Append(ledger.LevelInfo, nodeID,
			fmt.Sprintf("node %q produced %d records", ns.node.Name, len(output)))
	}

	ns.terminal.Do(func() {
		ns.setStatus(NodeSucceeded)
		exec.wg.Done()
		e.publishNodeStatus(execID, nodeID, NodeSucceeded)
	})

	for _, dependent := range ns.dependents {
		if dependent.depCount.Add(-1) == 0 {
			readyChan <- dependent
		}
	}
}

// skipNode marks a single node skipped due to cancellation.
func (e *Engine) skipNode(exec *execution, ns *nodeState, reason string) {
	execID := exec.ledger.ExecutionID()
	ns.terminal.Do(func() {
		ns.setStatus(NodeSkipped)
		exec.ledger.Append(ledger.LevelWarn, ns.node.ID,
			fmt.Sprintf("node %q skipped: %s", ns.node.Name, reason))
		exec.wg.Done()
		e.publishNodeStatus(execID, ns.node.ID, NodeSkipped)
	})

	for _, dependent := range ns.dependents {
		e.skipSubtree(exec, dependent, ns.node.ID)
	}
}

// skipSubtree transitively marks a failed node's descendants skipped without
// invoking their runners. Sibling branches with no shared ancestor are not
// touched.
func (e *Engine) skipSubtree(exec *execution, ns *nodeState, upstreamID string) {
	execID := exec.ledger.ExecutionID()
	ns.terminal.Do(func() {
		ns.setStatus(NodeSkipped)
		exec.ledger.Append(ledger.LevelWarn, ns.node.ID,
			fmt.Sprintf("node %q skipped due to upstream failure of %q", ns.node.Name, upstreamID))
		exec.wg.Done()

		e.publishNodeStatus(execID, ns.node.ID, NodeSkipped)
		for _, dependent := range ns.dependents {
			e.skipSubtree(exec, dependent, ns.node.ID)
		}
	})
}

func (e *Engine) publishNodeStatus(execID, nodeID string, status NodeStatus) {
	e.bus.Publish(eventbus.Event{
		Type:        eventbus.EventNodeStatusChanged,
		ExecutionID: execID,
		NodeID:      nodeID,
		Status:      string(status),
	})
}

// gatherInput concatenates the outputs of a node's predecessors in connection
// order. Sources receive no input.
func (x *execution) gatherInput(ns *nodeState) []runner.Record {
	if len(ns.preds) == 0 {
		return nil
	}
	var input []runner.Record
	for _, pred := range ns.preds {
		pred.mu.Lock()
		input = append(input, pred.output...)
		pred.mu.Unlock()
	}
	return input
}

// overallStatus derives the execution's terminal status: completed when at
// least one destination succeeded, failed otherwise.
func (x *execution) overallStatus() ledger.ExecutionStatus {
	if x.cancelled.Load() {
		return ledger.StatusFailed
	}
	for _, ns := range x.nodes {
		if ns.node.Type == pipeline.NodeTypeDestination && ns.getStatus() == NodeSucceeded {
			return ledger.StatusCompleted
		}
	}
	return ledger.StatusFailed
}
