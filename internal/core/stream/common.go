// Package stream is the bus adapter: it owns the NATS JetStream
// connection and pull consumer the projection loop polls, translating
// spec.md §6's bus.* configuration into JetStream's vocabulary.
package stream

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Conn owns the underlying NATS connection and JetStream context.
// Closing it commits any pending consumer state, matching spec.md
// §4.7's "close the bus client (committing any pending offsets)".
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials bus.endpoints (comma-separated host:port, per spec.md
// §6) and opens a JetStream context over the connection.
func Connect(endpoints string) (*Conn, error) {
	urls := strings.Join(strings.Split(endpoints, ","), ",")
	nc, err := nats.Connect(urls)
	if err != nil {
		return nil, fmt.Errorf("connect to message bus: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	return &Conn{nc: nc, js: js}, nil
}

// JetStream exposes the underlying JetStream context for consumer setup.
func (c *Conn) JetStream() jetstream.JetStream { return c.js }

// Close closes the connection without draining it first.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}
