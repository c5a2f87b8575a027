package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/Daedalus/internal/nats"
)

// NATSBridge forwards bus events to a NATS subject so external real-time
// transports (websocket gateways, dashboards) can fan them out. The bridge is
// itself a best-effort subscriber: publish failures are logged and dropped,
// never retried.
type NATSBridge struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
	stop    func()
	done    chan struct{}
}

// NewNATSBridge connects to NATS and starts forwarding events from the bus.
// subject is the NATS subject events are published to, e.g. "pipeline.events".
func NewNATSBridge(ctx context.Context, bus *Bus, config *natsconn.ConnectionConfig, subject string, logger *zap.Logger) (*NATSBridge, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	conn, err := natsconn.Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	events, unsubscribe := bus.Subscribe()
	bridge := &NATSBridge{
		conn:    conn,
		subject: subject,
		logger:  logger,
		stop:    unsubscribe,
		done:    make(chan struct{}),
	}

	go bridge.forward(events)
	return bridge, nil
}

// forward drains the bus subscription and publishes each event as JSON.
func (b *NATSBridge) forward(events <-chan Event) {
	defer close(b.done)

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			b.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}
		if err := b.conn.Publish(b.subject, payload); err != nil {
			b.logger.Warn("Failed to publish event to NATS",
				zap.String("subject", b.subject),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// Close unsubscribes from the bus, waits for in-flight forwards, and drains
// the NATS connection.
func (b *NATSBridge) Close() error {
	b.stop()
	<-b.done
	return natsconn.Close(b.conn)
}
