package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/ledger"
)

// Archive uploads finalized execution records to blob storage as JSON result
// files so dashboards and audits can fetch them without touching the primary
// store. Archiving is best-effort by convention: callers log and continue on
// failure.
type Archive struct {
	blobClient BlobStorageClient
	logger     *zap.Logger
}

// NewArchive creates an execution archive over the given blob client.
func NewArchive(blobClient BlobStorageClient, logger *zap.Logger) (*Archive, error) {
	if blobClient == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Archive{blobClient: blobClient, logger: logger}, nil
}

// ArchiveExecution uploads the execution as a JSON blob keyed by pipeline and
// execution id, returning the blob URL.
func (a *Archive) ArchiveExecution(ctx context.Context, exec ledger.Execution) (string, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return "", fmt.Errorf("failed to encode execution: %w", err)
	}

	blobPath := fmt.Sprintf("executions/%s/%s.json", exec.PipelineID, exec.ID)
	metadata := map[string]string{
		"pipeline_id": exec.PipelineID,
		"status":      string(exec.Status),
	}

	url, err := a.blobClient.Upload(ctx, blobPath, data, metadata)
	if err != nil {
		return "", err
	}

	a.logger.Info("Archived execution",
		zap.String("executionID", exec.ID),
		zap.String("pipelineID", exec.PipelineID),
		zap.String("url", url))
	return url, nil
}

// FetchExecution downloads an archived execution record.
func (a *Archive) FetchExecution(ctx context.Context, pipelineID, executionID string) (*ledger.Execution, error) {
	blobPath := fmt.Sprintf("executions/%s/%s.json", pipelineID, executionID)
	data, err := a.blobClient.Download(ctx, blobPath)
	if err != nil {
		return nil, err
	}

	var exec ledger.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to decode archived execution: %w", err)
	}
	return &exec, nil
}
