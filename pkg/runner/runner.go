// Package runner provides the polymorphic execution units for pipeline nodes.
// Each node type (source, transform, destination) has a runner implementing a
// uniform contract: consume input records, produce output records. Runners are
// built by a Factory from a node's validated configuration.
package runner

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// Record is a single data row flowing between nodes.
type Record map[string]interface{}

// Runner executes a single node. Source runners ignore their input and produce
// records from their configured endpoint. Transform runners reshape input
// records. Destination runners are terminal: they perform a write and return a
// single summary record carrying the written count.
type Runner interface {
	Run(ctx context.Context, input []Record) ([]Record, error)
}

// RecordsWrittenKey is the summary field destination runners report their
// written count under.
const RecordsWrittenKey = "recordsWritten"

// WrittenCount extracts the destination summary count from a runner's output.
// Returns 0 when the output carries no summary.
func WrittenCount(output []Record) int {
	for _, rec := range output {
		switch v := rec[RecordsWrittenKey].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// EmailSender delivers destination email summaries. The transport is owned by
// the caller; tests and examples use the no-op sender.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NoopSender discards email sends. Used when no real transport is configured.
type NoopSender struct{}

// Send implements EmailSender.
func (NoopSender) Send(ctx context.Context, to, subject, body string) error { return nil }

// Factory builds runners for pipeline nodes.
type Factory struct {
	httpClient *http.Client
	sender     EmailSender
	logger     *zap.Logger
}

// NewFactory creates a runner factory. httpClient and sender may be nil, in
// which case a default client and the no-op sender are used.
func NewFactory(httpClient *http.Client, sender EmailSender, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		return nil, errors.NewEngineFatalError("logger cannot be nil", nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if sender == nil {
		sender = NoopSender{}
	}
	return &Factory{httpClient: httpClient, sender: sender, logger: logger}, nil
}

// ForNode builds the runner matching the node's type and configuration. The
// configuration is expected to have passed the validator; malformed configs
// surface as config validation errors.
func (f *Factory) ForNode(node *pipeline.Node) (Runner, error) {
	switch node.Type {
	case pipeline.NodeTypeSource:
		return newSourceRunner(node, f.httpClient, f.logger)
	case pipeline.NodeTypeTransform:
		return newTransformRunner(node, f.logger)
	case pipeline.NodeTypeDestination:
		return newDestinationRunner(node, f.httpClient, f.sender, f.logger)
	default:
		return nil, errors.NewConfigValidationError(node.ID, "type", "unknown node type")
	}
}

// stringField reads a string field from a node config map.
func stringField(node *pipeline.Node, field string) (string, error) {
	raw, ok := node.Config[field]
	if !ok {
		return "", errors.NewConfigValidationError(node.ID, field, "field is required")
	}
	value, ok := raw.(string)
	if !ok {
		return "", errors.NewConfigValidationError(node.ID, field, "expected string")
	}
	return value, nil
}

// stringMapField reads a map-of-strings field from a node config map. A
// missing field yields an empty map.
func stringMapField(node *pipeline.Node, field string) (map[string]string, error) {
	raw, ok := node.Config[field]
	if !ok || raw == nil {
		return map[string]string{}, nil
	}
	switch m := raw.(type) {
	case map[string]string:
		return m, nil
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, errors.NewConfigValidationError(node.ID, field+"."+k, "expected string value")
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, errors.NewConfigValidationError(node.ID, field, "expected object of strings")
	}
}
