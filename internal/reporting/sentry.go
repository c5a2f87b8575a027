// Package reporting wraps Sentry error capture for unrecoverable engine
// failures. When no DSN is configured every call is a no-op.
package reporting

import (
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Config holds error reporting configuration.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Reporter captures engine-fatal errors. The zero value is disabled.
type Reporter struct {
	enabled bool
	logger  *zap.Logger
}

// NewReporter initializes Sentry when a DSN is configured. A missing DSN
// disables reporting without error.
func NewReporter(config Config, logger *zap.Logger) (*Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DSN == "" {
		return &Reporter{logger: logger}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         config.DSN,
		Environment: config.Environment,
		Release:     config.Release,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Error reporting enabled", zap.String("environment", config.Environment))
	return &Reporter{enabled: true, logger: logger}, nil
}

// CaptureFatal reports an unrecoverable failure with execution context tags.
func (r *Reporter) CaptureFatal(err error, pipelineID, executionID string) {
	if r == nil || !r.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("pipeline_id", pipelineID)
		scope.SetTag("execution_id", executionID)
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to reach Sentry, bounded by timeout.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(timeout)
}
