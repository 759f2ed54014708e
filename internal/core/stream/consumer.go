package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Config mirrors spec.md §6's bus.* options plus the topic list.
type Config struct {
	Endpoints      string        `envconfig:"BUS_ENDPOINTS" default:"nats://127.0.0.1:4222"`
	Group          string        `envconfig:"BUS_GROUP" default:"graphsync"`
	OffsetInitial  string        `envconfig:"BUS_OFFSET_INITIAL" default:"earliest"`
	Topics         []string      `envconfig:"TOPICS"`
	AckWaitSeconds int64         `envconfig:"BUS_ACK_WAIT_SECONDS" default:"60"`
	PollTimeout    time.Duration `envconfig:"BUS_POLL_TIMEOUT" default:"1s"`
}

// Consumer wraps a durable JetStream pull consumer. Poll fetches at
// most one message with a 1-second max-wait, matching spec.md §4.6's
// loop pseudocode exactly: `msg = bus.poll(timeout=1s)`.
type Consumer struct {
	consumer    jetstream.Consumer
	pollTimeout time.Duration
}

// NewConsumer creates or attaches to a durable, explicit-ack pull
// consumer filtered to cfg.Topics, with its delivery policy set from
// cfg.OffsetInitial ("earliest" -> DeliverAll, "latest" -> DeliverNew).
func NewConsumer(ctx context.Context, conn *Conn, cfg Config) (*Consumer, error) {
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("no topics configured")
	}

	streamName, err := conn.JetStream().StreamNameBySubject(ctx, cfg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("resolve stream for topic %q: %w", cfg.Topics[0], err)
	}

	stream, err := conn.JetStream().Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %q: %w", streamName, err)
	}

	deliverPolicy := jetstream.DeliverAllPolicy
	if cfg.OffsetInitial == "latest" {
		deliverPolicy = jetstream.DeliverNewPolicy
	}

	//nolint:exhaustruct // optional config
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:           cfg.Group,
		Durable:        cfg.Group,
		AckWait:        time.Duration(cfg.AckWaitSeconds) * time.Second,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  deliverPolicy,
		MaxAckPending:  -1,
		FilterSubjects: cfg.Topics,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create consumer %q: %w", cfg.Group, err)
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}

	return &Consumer{consumer: consumer, pollTimeout: pollTimeout}, nil
}

// Poll fetches the next message, or returns ErrTimeout if none arrived
// within the configured poll timeout — the loop's `continue` branch.
func (c *Consumer) Poll(ctx context.Context) (*Message, error) {
	batch, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(c.pollTimeout))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	for msg := range batch.Messages() {
		return &Message{msg: msg}, nil
	}

	if err := batch.Error(); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return nil, ErrTimeout
}
