// Package stream publishes station events to NATS so external consumers
// (recorders, alerting, other dashboards) can subscribe without touching the
// station's HTTP surface.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect opens a NATS connection with the station's client settings.
// Reconnects are unbounded; the station keeps running through broker
// restarts.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("pulse.report"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// Publisher publishes JSON events under a subject prefix: <prefix>.beat,
// <prefix>.sample, <prefix>.env.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher wraps an existing connection with the given subject prefix.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "pulse"
	}
	return &Publisher{nc: nc, prefix: prefix}
}

// Publish marshals v and publishes it on <prefix>.<kind>.
func (p *Publisher) Publish(kind string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}
	if err := p.nc.Publish(p.prefix+"."+kind, b); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}
	return nil
}

// Drain flushes buffered messages and closes the connection.
func (p *Publisher) Drain() error {
	return p.nc.Drain()
}
