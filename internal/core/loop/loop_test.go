package loop_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/graphsync/internal/core/graph"
	"github.com/glassflow/graphsync/internal/core/loop"
	"github.com/glassflow/graphsync/internal/core/planner"
	"github.com/glassflow/graphsync/internal/core/quarantine"
	"github.com/glassflow/graphsync/internal/core/schema"
	"github.com/glassflow/graphsync/internal/core/stream"
)

// fakeMessage is a bus message the test controls directly, without
// going through a real or fake jetstream.Msg.
type fakeMessage struct {
	data  []byte
	topic string
	acked *bool
	naked *bool
}

func (m fakeMessage) Topic() string { return m.topic }
func (m fakeMessage) Data() []byte  { return m.data }
func (m fakeMessage) Ack() error    { *m.acked = true; return nil }
func (m fakeMessage) Nak() error    { *m.naked = true; return nil }

// fakeBus feeds a fixed sequence of payloads to the loop and then
// blocks (via stream.ErrTimeout) until the test cancels the context.
type fakeBus struct {
	payloads [][]byte
	next     int
	acked    []bool
	naked    []bool
}

func (b *fakeBus) Poll(ctx context.Context) (loop.Message, error) {
	if b.next >= len(b.payloads) {
		select {
		case <-ctx.Done():
			return nil, stream.ErrTimeout
		case <-time.After(5 * time.Millisecond):
			return nil, stream.ErrTimeout
		}
	}
	idx := b.next
	b.next++
	b.acked = append(b.acked, false)
	b.naked = append(b.naked, false)
	return fakeMessage{data: b.payloads[idx], topic: "cdc.public.users", acked: &b.acked[idx], naked: &b.naked[idx]}, nil
}

type fakeGateway struct {
	failTimes int
	execs     []string
	err       error
}

func (g *fakeGateway) Execute(ctx context.Context, template string, params map[string]any) error {
	g.execs = append(g.execs, template)
	if g.failTimes > 0 {
		g.failTimes--
		return g.err
	}
	return nil
}

type noopMetrics struct{}

func (noopMetrics) EventDecoded(string, string)       {}
func (noopMetrics) EventSkipped(string)                {}
func (noopMetrics) MutationApplied(string)             {}
func (noopMetrics) WriteDuration(time.Duration)        {}
func (noopMetrics) LoopError(string)                   {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

const createUserPayload = `{"payload":{"op":"c","after":{"id":1,"name":"Ada"},"source":{"table":"users"}}}`

func TestLoop_HappyPath_AcksAfterWrite(t *testing.T) {
	bus := &fakeBus{payloads: [][]byte{[]byte(createUserPayload)}}
	gw := &fakeGateway{}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 2, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
	require.Len(t, bus.acked, 1)
	assert.True(t, bus.acked[0])
	assert.Len(t, gw.execs, 1)
}

func TestLoop_DecodeError_AcksAndContinues(t *testing.T) {
	bus := &fakeBus{payloads: [][]byte{[]byte(`not json`)}}
	gw := &fakeGateway{}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 1, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
	assert.True(t, bus.acked[0])
	assert.Empty(t, gw.execs, "malformed message never reaches the gateway")
}

func TestLoop_UnknownTable_AcksAndContinues(t *testing.T) {
	payload := `{"payload":{"op":"c","after":{"id":1},"source":{"table":"totally_unmapped"}}}`
	bus := &fakeBus{payloads: [][]byte{[]byte(payload)}}
	gw := &fakeGateway{}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 1, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
	assert.True(t, bus.acked[0])
	assert.Empty(t, gw.execs)
}

func TestLoop_RetriableWriteError_RetriesThenSucceeds(t *testing.T) {
	bus := &fakeBus{payloads: [][]byte{[]byte(createUserPayload)}}
	gw := &fakeGateway{failTimes: 2, err: &graph.ExecError{Class: graph.ClassTimeout, Err: errors.New("slow")}}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 3, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
	assert.True(t, bus.acked[0])
	assert.Len(t, gw.execs, 3, "two failures then one success")
}

func TestLoop_RetriesExhausted_Naks(t *testing.T) {
	bus := &fakeBus{payloads: [][]byte{[]byte(createUserPayload)}}
	gw := &fakeGateway{failTimes: 100, err: &graph.ExecError{Class: graph.ClassTimeout, Err: errors.New("slow")}}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 2, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
	assert.False(t, bus.acked[0])
	assert.True(t, bus.naked[0])
}

func TestLoop_QueryRejected_AcksAndQuarantines(t *testing.T) {
	bus := &fakeBus{payloads: [][]byte{[]byte(createUserPayload)}}
	gw := &fakeGateway{failTimes: 1, err: &graph.ExecError{Class: graph.ClassQueryRejected, Err: errors.New("bad cypher")}}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 2, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
	assert.True(t, bus.acked[0], "query-rejected errors cannot succeed on retry, so the message is quarantined rather than redelivered")
	assert.False(t, bus.naked[0])
	assert.Len(t, gw.execs, 1, "no retries spent on a non-retriable rejection")
}

func TestLoop_FatalWriteError_AbortsLoop(t *testing.T) {
	bus := &fakeBus{payloads: [][]byte{[]byte(createUserPayload)}}
	gw := &fakeGateway{failTimes: 1, err: &graph.ExecError{Class: graph.ClassFatal, Err: errors.New("unrecoverable")}}
	l := loop.New(bus, schema.NewRegistry(), planner.New(), gw, quarantine.New(testLogger()), noopMetrics{}, testLogger(), loop.Config{MaxWriteRetries: 2, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	require.Error(t, err)
}
