package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/ledger"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "daedalus.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	p := pipeline.NewPipeline("p1", "etl")
	require.NoError(t, p.AddNode(&pipeline.Node{
		ID:   "src",
		Type: pipeline.NodeTypeSource,
		Name: "fetch",
	}))
	require.NoError(t, store.Save(ctx, p))

	loaded, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "etl", loaded.Name)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "src", loaded.Nodes[0].ID)

	// Decoded pipelines still answer graph queries.
	assert.NotNil(t, loaded.Node("src"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, "p1"))
	_, err = store.Load(ctx, "p1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStoreOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	p := pipeline.NewPipeline("p1", "current")
	require.NoError(t, store.Save(ctx, p))

	stale := pipeline.NewPipeline("p1", "stale")
	stale.UpdatedAt = p.UpdatedAt.Add(-time.Hour)

	err := store.Save(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	loaded, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "current", loaded.Name)
}

func TestSQLiteStoreSaveSameVersionOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	p := pipeline.NewPipeline("p1", "first")
	require.NoError(t, store.Save(ctx, p))

	p.Name = "renamed"
	require.NoError(t, store.Save(ctx, p), "equal or newer UpdatedAt saves cleanly")

	loaded, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Name)
}

func TestSQLiteStoreExecutions(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	first := ledger.NewLedger("p1")
	require.NoError(t, first.Append(ledger.LevelInfo, "src", "node started"))
	require.NoError(t, store.SaveExecution(ctx, first.Finalize(ledger.StatusCompleted)))

	second := ledger.NewLedger("p1")
	require.NoError(t, store.SaveExecution(ctx, second.Finalize(ledger.StatusFailed)))

	unrelated := ledger.NewLedger("p2")
	require.NoError(t, store.SaveExecution(ctx, unrelated.Finalize(ledger.StatusCompleted)))

	loaded, err := store.LoadExecution(ctx, first.ExecutionID())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, loaded.Status)
	require.Len(t, loaded.Logs, 1)
	assert.Equal(t, "node started", loaded.Logs[0].Message)

	history, err := store.ListExecutions(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = store.LoadExecution(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestNewSQLiteStoreValidation(t *testing.T) {
	_, err := NewSQLiteStore("", zap.NewNop())
	require.Error(t, err)

	_, err = NewSQLiteStore("x.db", nil)
	require.Error(t, err)
}
