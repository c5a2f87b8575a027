package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/ledger"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// SQLiteStore persists pipelines and executions in a sqlite database.
// Pipeline and execution bodies are stored as JSON; UpdatedAt is tracked in
// its own column to back the optimistic save check.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and bootstraps the
// schema.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		status TEXT NOT NULL,
		body TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	logger.Info("Opened sqlite store", zap.String("path", dbPath))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, pipelineID string) (*pipeline.Pipeline, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM pipelines WHERE id = ?`, pipelineID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}

	var p pipeline.Pipeline
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}
	return &p, nil
}

// Save implements Store with optimistic concurrency keyed on UpdatedAt: the
// row is only replaced when the stored timestamp is not newer than the one
// being saved.
func (s *SQLiteStore) Save(ctx context.Context, p *pipeline.Pipeline) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline: %w", err)
	}

	var storedAt time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM pipelines WHERE id = ?`, p.ID).Scan(&storedAt)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO pipelines (id, body, updated_at) VALUES (?, ?, ?)`,
			p.ID, string(body), p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert pipeline: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to check pipeline version: %w", err)
	}

	if storedAt.After(p.UpdatedAt) {
		return errors.NewConflictError(p.ID)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE pipelines SET body = ?, updated_at = ? WHERE id = ?`,
		string(body), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update pipeline: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, pipelineID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, pipelineID)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NewNotFoundError(pipelineID)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*pipeline.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Pipeline
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p pipeline.Pipeline
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("failed to decode pipeline: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SaveExecution implements Store.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec ledger.Execution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions (id, pipeline_id, status, body, started_at) VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.PipelineID, string(exec.Status), string(body), exec.StartTime)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// LoadExecution implements Store.
func (s *SQLiteStore) LoadExecution(ctx context.Context, executionID string) (*ledger.Execution, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM executions WHERE id = ?`, executionID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	var exec ledger.Execution
	if err := json.Unmarshal([]byte(body), &exec); err != nil {
		return nil, fmt.Errorf("failed to decode execution: %w", err)
	}
	return &exec, nil
}

// ListExecutions implements Store.
func (s *SQLiteStore) ListExecutions(ctx context.Context, pipelineID string) ([]ledger.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM executions WHERE pipeline_id = ? ORDER BY started_at DESC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Execution
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var exec ledger.Execution
		if err := json.Unmarshal([]byte(body), &exec); err != nil {
			return nil, fmt.Errorf("failed to decode execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}
