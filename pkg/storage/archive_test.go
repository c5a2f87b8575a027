package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/ledger"
)

// fakeBlobClient keeps uploads in memory.
type fakeBlobClient struct {
	blobs    map[string][]byte
	metadata map[string]map[string]string
}

func newFakeBlobClient() *fakeBlobClient {
	return &fakeBlobClient{
		blobs:    make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (f *fakeBlobClient) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	f.blobs[blobPath] = data
	f.metadata[blobPath] = metadata
	return "https://blobs.example.com/" + blobPath, nil
}

func (f *fakeBlobClient) Download(ctx context.Context, blobPath string) ([]byte, error) {
	data, ok := f.blobs[blobPath]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", blobPath)
	}
	return data, nil
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeBlobClient()

	archive, err := NewArchive(client, zap.NewNop())
	require.NoError(t, err)

	l := ledger.NewLedger("p1")
	require.NoError(t, l.Append(ledger.LevelInfo, "src", "node started"))
	l.RecordWritten(7)
	exec := l.Finalize(ledger.StatusCompleted)

	url, err := archive.ArchiveExecution(ctx, exec)
	require.NoError(t, err)

	expectedPath := fmt.Sprintf("executions/p1/%s.json", exec.ID)
	assert.Equal(t, "https://blobs.example.com/"+expectedPath, url)
	assert.Equal(t, "p1", client.metadata[expectedPath]["pipeline_id"])
	assert.Equal(t, string(ledger.StatusCompleted), client.metadata[expectedPath]["status"])

	fetched, err := archive.FetchExecution(ctx, "p1", exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, fetched.ID)
	assert.Equal(t, ledger.StatusCompleted, fetched.Status)
	assert.Equal(t, 7, fetched.Metrics.RecordsProcessed)
	require.Len(t, fetched.Logs, 1)
	assert.Equal(t, "node started", fetched.Logs[0].Message)
}

func TestArchiveFetchMissing(t *testing.T) {
	archive, err := NewArchive(newFakeBlobClient(), zap.NewNop())
	require.NoError(t, err)

	_, err = archive.FetchExecution(context.Background(), "p1", "ghost")
	require.Error(t, err)
}

func TestNewArchiveValidation(t *testing.T) {
	_, err := NewArchive(nil, zap.NewNop())
	require.Error(t, err)

	_, err = NewArchive(newFakeBlobClient(), nil)
	require.Error(t, err)
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString(
		"DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=key==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;")

	assert.Equal(t, "devstoreaccount1", params["AccountName"])
	assert.Equal(t, "key==", params["AccountKey"])
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", params["BlobEndpoint"])
}
