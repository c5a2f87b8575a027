package runner

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// destinationRunner writes records to a configured sink and reports the
// written count. Destinations are terminal: they produce no downstream
// records, only a summary.
type destinationRunner struct {
	nodeID   string
	destType string
	url      string
	database string
	client   *http.Client
	sender   EmailSender
	logger   *zap.Logger
}

func newDestinationRunner(node *pipeline.Node, client *http.Client, sender EmailSender, logger *zap.Logger) (*destinationRunner, error) {
	destType, err := stringField(node, "type")
	if err != nil {
		return nil, err
	}

	r := &destinationRunner{
		nodeID:   node.ID,
		destType: destType,
		client:   client,
		sender:   sender,
		logger:   logger,
	}

	switch destType {
	case "database":
		if r.database, err = stringField(node, "database"); err != nil {
			return nil, err
		}
	case "api", "file", "email":
		if r.url, err = stringField(node, "url"); err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewConfigValidationError(node.ID, "type", fmt.Sprintf("unknown destination type %q", destType))
	}

	return r, nil
}

// Run writes the input records and returns a single summary record carrying
// the written count.
func (r *destinationRunner) Run(ctx context.Context, input []Record) ([]Record, error) {
	var (
		written int
		err     error
	)

	switch r.destType {
	case "api":
		written, err = r.writeAPI(ctx, input)
	case "database":
		written, err = r.writeDatabase(ctx, input)
	case "file":
		written, err = r.writeFile(ctx, input)
	case "email":
		written, err = r.writeEmail(ctx, input)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Destination write complete",
		zap.String("nodeID", r.nodeID),
		zap.String("type", r.destType),
		zap.Int("written", written))
	return []Record{{RecordsWrittenKey: written}}, nil
}

// writeAPI posts the record batch as a JSON array to the configured url.
func (r *destinationRunner) writeAPI(ctx context.Context, input []Record) (int, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, errors.NewNodeExecutionError(r.nodeID,
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, r.url))
	}
	return len(input), nil
}

// writeDatabase inserts each record as a JSON row into the records table of
// the configured sqlite database, creating the table on first use.
func (r *destinationRunner) writeDatabase(ctx context.Context, input []Record) (int, error) {
	db, err := sql.Open("sqlite3", r.database)
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	defer db.Close()

	createTable := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT,
		data TEXT,
		created_at DATETIME
	);
	`
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, rec := range input {
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, errors.NewNodeExecutionError(r.nodeID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (node_id, data, created_at) VALUES (?, ?, ?)`,
			r.nodeID, string(data), now); err != nil {
			return 0, errors.NewNodeExecutionError(r.nodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	return len(input), nil
}

// writeFile appends the records as JSON lines to the configured path.
func (r *destinationRunner) writeFile(ctx context.Context, input []Record) (int, error) {
	f, err := os.OpenFile(r.url, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range input {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := enc.Encode(rec); err != nil {
			return 0, errors.NewNodeExecutionError(r.nodeID, err)
		}
	}
	return len(input), nil
}

// writeEmail sends a summary of the batch to the configured recipient.
func (r *destinationRunner) writeEmail(ctx context.Context, input []Record) (int, error) {
	body, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}

	subject := fmt.Sprintf("Pipeline delivery: %d records", len(input))
	if err := r.sender.Send(ctx, r.url, subject, string(body)); err != nil {
		return 0, errors.NewNodeExecutionError(r.nodeID, err)
	}
	return len(input), nil
}
