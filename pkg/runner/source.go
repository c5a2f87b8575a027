package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// sourceRunner fetches records from a configured HTTP endpoint. Input records
// are ignored; sources are the origin of data in the graph.
type sourceRunner struct {
	nodeID  string
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	logger  *zap.Logger
}

func newSourceRunner(node *pipeline.Node, client *http.Client, logger *zap.Logger) (*sourceRunner, error) {
	url, err := stringField(node, "url")
	if err != nil {
		return nil, err
	}
	method, err := stringField(node, "method")
	if err != nil {
		return nil, err
	}
	headers, err := stringMapField(node, "headers")
	if err != nil {
		return nil, err
	}

	return &sourceRunner{
		nodeID:  node.ID,
		url:     url,
		method:  method,
		headers: headers,
		client:  client,
		logger:  logger,
	}, nil
}

// Run fetches the endpoint and decodes the response body into records. A JSON
// array becomes one record per element; a single JSON object becomes one
// record.
func (r *sourceRunner) Run(ctx context.Context, _ []Record) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, nil)
	if err != nil {
		return nil, errors.NewNodeExecutionError(r.nodeID, err)
	}
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	r.logger.Debug("Fetching source endpoint",
		zap.String("nodeID", r.nodeID),
		zap.String("method", r.method),
		zap.String("url", r.url))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.NewNodeExecutionError(r.nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewNodeExecutionError(r.nodeID,
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, r.url))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNodeExecutionError(r.nodeID, err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, errors.NewNodeExecutionError(r.nodeID, err)
	}

	r.logger.Debug("Source produced records",
		zap.String("nodeID", r.nodeID),
		zap.Int("count", len(records)))
	return records, nil
}

// decodeRecords parses a JSON body into records. Arrays of objects map to one
// record per element; a bare object maps to a single record.
func decodeRecords(body []byte) ([]Record, error) {
	var asArray []Record
	if err := json.Unmarshal(body, &asArray); err == nil {
		return asArray, nil
	}

	var asObject Record
	if err := json.Unmarshal(body, &asObject); err == nil {
		return []Record{asObject}, nil
	}

	return nil, fmt.Errorf("response body is not a JSON object or array of objects")
}
