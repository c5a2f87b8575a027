// Package storage provides persistence for pipelines and execution records:
// an in-memory store for tests and a sqlite-backed store for real use, plus a
// blob-storage archive for finalized execution results.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/ledger"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// Store is the persistence collaborator. Save is optimistic: it fails with a
// conflict error when the stored pipeline's UpdatedAt differs from the one
// being saved.
type Store interface {
	Load(ctx context.Context, pipelineID string) (*pipeline.Pipeline, error)
	Save(ctx context.Context, p *pipeline.Pipeline) error
	Delete(ctx context.Context, pipelineID string) error
	List(ctx context.Context) ([]*pipeline.Pipeline, error)

	SaveExecution(ctx context.Context, exec ledger.Execution) error
	LoadExecution(ctx context.Context, executionID string) (*ledger.Execution, error)
	ListExecutions(ctx context.Context, pipelineID string) ([]ledger.Execution, error)
}

// MemoryStore is an in-process Store used by tests and examples.
type MemoryStore struct {
	mu         sync.RWMutex
	pipelines  map[string]*pipeline.Pipeline
	saved      map[string]time.Time
	executions map[string]ledger.Execution
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:  make(map[string]*pipeline.Pipeline),
		saved:      make(map[string]time.Time),
		executions: make(map[string]ledger.Execution),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, pipelineID string) (*pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, errors.NewNotFoundError(pipelineID)
	}
	return p, nil
}

// Save implements Store with optimistic concurrency keyed on UpdatedAt.
func (s *MemoryStore) Save(ctx context.Context, p *pipeline.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if savedAt, exists := s.saved[p.ID]; exists {
		if _, present := s.pipelines[p.ID]; present && !savedAt.Equal(p.UpdatedAt) && savedAt.After(p.UpdatedAt) {
			return errors.NewConflictError(p.ID)
		}
	}
	s.pipelines[p.ID] = p
	s.saved[p.ID] = p.UpdatedAt
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, pipelineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelines[pipelineID]; !ok {
		return errors.NewNotFoundError(pipelineID)
	}
	delete(s.pipelines, pipelineID)
	delete(s.saved, pipelineID)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]*pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pipeline.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p)
	}
	return out, nil
}

// SaveExecution implements Store.
func (s *MemoryStore) SaveExecution(ctx context.Context, exec ledger.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = exec
	return nil
}

// LoadExecution implements Store.
func (s *MemoryStore) LoadExecution(ctx context.Context, executionID string) (*ledger.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return nil, errors.NewNotFoundError(executionID)
	}
	return &exec, nil
}

// ListExecutions implements Store.
func (s *MemoryStore) ListExecutions(ctx context.Context, pipelineID string) ([]ledger.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Execution
	for _, exec := range s.executions {
		if exec.PipelineID == pipelineID {
			out = append(out, exec)
		}
	}
	return out, nil
}
