// Package loop implements the single-threaded consumption loop of
// spec.md §4.6/§4.7: poll one message, decode it, look up its
// projection rule, plan mutations, execute them in order, and
// acknowledge — one message fully settled before the next is fetched.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glassflow/graphsync/internal/core/event"
	"github.com/glassflow/graphsync/internal/core/graph"
	"github.com/glassflow/graphsync/internal/core/planner"
	"github.com/glassflow/graphsync/internal/core/quarantine"
	"github.com/glassflow/graphsync/internal/core/schema"
	"github.com/glassflow/graphsync/internal/core/stream"
)

// Message is the narrow view of a fetched bus message the loop needs;
// *stream.Message satisfies it. Defined here rather than consumed
// directly as *stream.Message so fakes can stand in for tests.
type Message interface {
	Topic() string
	Data() []byte
	Ack() error
	Nak() error
}

// Bus is the subset of the bus adapter the loop drives. Poll returning
// stream.ErrTimeout is the 1-second "nothing arrived" branch.
type Bus interface {
	Poll(ctx context.Context) (Message, error)
}

// Gateway is the subset of the graph writer gateway the loop drives.
type Gateway interface {
	Execute(ctx context.Context, template string, params map[string]any) error
}

// Metrics is the subset of the metrics recorder the loop touches,
// kept narrow so tests can pass a no-op implementation.
type Metrics interface {
	EventDecoded(table, op string)
	EventSkipped(reason string)
	MutationApplied(kind string)
	WriteDuration(d time.Duration)
	LoopError(class string)
}

// Config bounds how many times a retriable write error is retried
// in-process before the loop naks the message for bus redelivery and
// moves on to the next poll, per spec.md §7's retriable class.
type Config struct {
	MaxWriteRetries int           `envconfig:"LOOP_MAX_WRITE_RETRIES" default:"5"`
	RetryBackoff    time.Duration `envconfig:"LOOP_RETRY_BACKOFF" default:"500ms"`
}

// Loop owns no goroutines of its own; Run blocks the calling goroutine
// until ctx is cancelled or a fatal error is hit, matching spec.md
// §4.6's explicitly single-threaded, cooperative design (spec.md §5).
type Loop struct {
	bus        Bus
	registry   *schema.Registry
	planner    *planner.Planner
	gateway    Gateway
	quarantine *quarantine.Sink
	metrics    Metrics
	log        *slog.Logger
	cfg        Config
}

// New assembles a Loop from its already-constructed collaborators.
func New(bus Bus, registry *schema.Registry, pl *planner.Planner, gw Gateway, q *quarantine.Sink, m Metrics, log *slog.Logger, cfg Config) *Loop {
	return &Loop{bus: bus, registry: registry, planner: pl, gateway: gw, quarantine: q, metrics: m, log: log, cfg: cfg}
}

// natsBus adapts *stream.Consumer, whose Poll returns the concrete
// *stream.Message, onto the Bus interface above.
type natsBus struct{ consumer *stream.Consumer }

// NewNATSBus wraps a JetStream consumer for use as the loop's Bus.
func NewNATSBus(c *stream.Consumer) Bus { return natsBus{consumer: c} }

func (b natsBus) Poll(ctx context.Context) (Message, error) {
	msg, err := b.consumer.Poll(ctx)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Run is the loop of spec.md §4.6's pseudocode:
//
//	while running:
//	    msg = bus.poll(timeout=1s)
//	    if msg is timeout: continue
//	    ... decode, lookup, plan, execute, ack ...
//
// It returns nil on clean shutdown (ctx cancelled between messages) and
// a non-nil error only for a fatal condition spec.md §7 says must abort
// the process (for example, an exhausted graph reconnect budget).
// Exhausted write retries are not fatal: the message is nak'd and the
// loop keeps running.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			l.log.Info("shutdown requested, loop exiting cleanly")
			return nil
		}

		msg, err := l.bus.Poll(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			l.metrics.LoopError("poll")
			return fmt.Errorf("poll message bus: %w", err)
		}

		// Once a message is in hand, finish settling it even if ctx was
		// cancelled mid-fetch — spec.md §4.7's in-flight-message guarantee.
		if err := l.handle(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
	}
}

// handle fully settles one message: decode, route, plan, execute, ack.
// Only a fatal error escapes; every other outcome acks or naks msg and
// returns nil so the loop proceeds to the next poll.
func (l *Loop) handle(ctx context.Context, msg Message) error {
	ev, skip, err := event.Decode(msg.Data(), msg.Topic())
	if err != nil {
		l.metrics.LoopError("decode")
		l.quarantine.Drop("", "", msg.Topic(), err.Error())
		return l.ack(msg)
	}
	if skip != "" {
		l.metrics.EventSkipped(string(skip))
		return l.ack(msg)
	}

	l.metrics.EventDecoded(ev.Table, ev.Op.String())

	rule, ok := l.registry.Lookup(ev.Table)
	if !ok {
		if !l.registry.MarkDropped(ev.Table) {
			l.log.Info("unrecognised table, dropping", slog.String("table", ev.Table))
			l.quarantine.Drop(ev.Op.String(), ev.Table, ev.Topic, "table not in projection schema")
		}
		return l.ack(msg)
	}

	mutations, err := l.planner.Plan(ev, rule)
	if err != nil {
		var mapErr *planner.MappingError
		if errors.As(err, &mapErr) {
			l.metrics.LoopError("mapping")
			l.quarantine.Drop(ev.Op.String(), ev.Table, ev.Topic, mapErr.Error())
			return l.ack(msg)
		}
		l.metrics.LoopError("planning")
		return fmt.Errorf("plan mutations for table %q: %w", ev.Table, err)
	}
	if len(mutations) == 0 {
		l.quarantine.Success(ev.Op.String(), ev.Table)
		return l.ack(msg)
	}

	if err := l.executeAll(ctx, mutations); err != nil {
		var execErr *graph.ExecError
		if errors.As(err, &execErr) {
			switch execErr.Class {
			case graph.ClassFatal:
				l.metrics.LoopError("fatal_write")
				return fmt.Errorf("execute mutations for table %q: %w", ev.Table, err)
			case graph.ClassQueryRejected:
				// Will not succeed on retry without a code change: ack and
				// quarantine it like a mapping error instead of nak'ing it
				// forever and stalling this subject's offset.
				l.metrics.LoopError("query_rejected")
				l.quarantine.Drop(ev.Op.String(), ev.Table, ev.Topic, execErr.Error())
				return l.ack(msg)
			}
		}
		// Retries exhausted on an otherwise-retriable error: nak so the
		// bus redelivers and the loop keeps running.
		l.metrics.LoopError("write")
		if nakErr := msg.Nak(); nakErr != nil {
			return fmt.Errorf("nak message after write failure: %w", nakErr)
		}
		return nil
	}

	l.quarantine.Success(ev.Op.String(), ev.Table)
	return l.ack(msg)
}

// executeAll runs every mutation in order, retrying a retriable
// execution error up to cfg.MaxWriteRetries times with a fixed backoff
// before surfacing it to the caller. A non-retriable (query rejected)
// error is returned immediately without spending retries on it — the
// template itself is wrong, and redelivery cannot change that.
func (l *Loop) executeAll(ctx context.Context, mutations []planner.Mutation) error {
	for _, m := range mutations {
		var lastErr error
		for attempt := 0; attempt <= l.cfg.MaxWriteRetries; attempt++ {
			start := time.Now()
			err := l.gateway.Execute(ctx, m.Template, m.Params)
			l.metrics.WriteDuration(time.Since(start))
			if err == nil {
				l.metrics.MutationApplied(string(m.Kind))
				lastErr = nil
				break
			}

			lastErr = err
			var execErr *graph.ExecError
			if !errors.As(err, &execErr) || execErr.Class == graph.ClassFatal || execErr.Class == graph.ClassQueryRejected {
				break
			}

			if attempt < l.cfg.MaxWriteRetries {
				l.log.Warn("retriable write error, retrying",
					slog.String("kind", string(m.Kind)),
					slog.Int("attempt", attempt+1),
					slog.Any("error", err),
				)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(l.cfg.RetryBackoff):
				}
			}
		}
		if lastErr != nil {
			return lastErr
		}
	}
	return nil
}

func (l *Loop) ack(msg Message) error {
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}
