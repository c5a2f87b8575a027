// Package scheduler triggers pipeline executions on a fixed interval. Cron
// expression parsing and calendar timing belong to an external collaborator;
// this scheduler only accepts pre-computed intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Trigger is the single entry point the scheduler drives. The execution
// engine satisfies it.
type Trigger interface {
	Trigger(ctx context.Context, pipelineID string) (string, error)
}

// Scheduler runs one ticker goroutine per registered pipeline.
type Scheduler struct {
	trigger Trigger
	logger  *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewScheduler creates a scheduler over the given trigger surface.
func NewScheduler(trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Scheduler{
		trigger: trigger,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Schedule starts triggering the pipeline every interval until Unschedule or
// Close. Scheduling an already-scheduled pipeline replaces its interval.
func (s *Scheduler) Schedule(pipelineID string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be greater than 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("scheduler is closed")
	}
	if cancel, ok := s.cancels[pipelineID]; ok {
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[pipelineID] = cancel

	s.wg.Add(1)
	go s.loop(ctx, pipelineID, interval)

	s.logger.Info("Pipeline scheduled",
		zap.String("pipelineID", pipelineID),
		zap.Duration("interval", interval))
	return nil
}

// Unschedule stops triggering the pipeline.
func (s *Scheduler) Unschedule(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[pipelineID]; ok {
		cancel()
		delete(s.cancels, pipelineID)
	}
}

// loop fires the trigger on every tick. Trigger failures (including a run
// already in flight) are logged and the loop keeps going.
func (s *Scheduler) loop(ctx context.Context, pipelineID string, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			execID, err := s.trigger.Trigger(ctx, pipelineID)
			if err != nil {
				s.logger.Warn("Scheduled trigger failed",
					zap.String("pipelineID", pipelineID),
					zap.Error(err))
				continue
			}
			s.logger.Info("Scheduled trigger fired",
				zap.String("pipelineID", pipelineID),
				zap.String("executionID", execID))
		}
	}
}

// Close stops all schedules and waits for loops to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
