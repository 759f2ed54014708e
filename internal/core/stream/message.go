package stream

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrTimeout is returned by Poll when no message arrived within the
// poll timeout — the loop's "msg is timeout: continue" branch.
var ErrTimeout = errors.New("poll timeout")

// Message is the bus adapter's view of one fetched CDC message: a
// topic, a payload, and the three outcomes spec.md §4.6/§4.7 need.
type Message struct {
	msg jetstream.Msg
}

// Topic returns the subject the message was published to.
func (m *Message) Topic() string { return m.msg.Subject() }

// Data returns the raw message payload (zero-length for tombstones).
func (m *Message) Data() []byte { return m.msg.Data() }

// Ack commits progress for this message, advancing the offset.
func (m *Message) Ack() error {
	if err := m.msg.Ack(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// Nak requests redelivery — used for retriable write errors, so the
// message is retried rather than progress advancing past it.
func (m *Message) Nak() error {
	if err := m.msg.Nak(); err != nil {
		return fmt.Errorf("nak message: %w", err)
	}
	return nil
}
