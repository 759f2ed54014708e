// Package quarantine logs dropped and poison messages in the "one line
// per outcome" shape spec.md §7 requires, decorating each with a
// correlation id so repeated occurrences of the same malformed message
// can be grouped in aggregated logs.
package quarantine

import (
	"log/slog"

	"github.com/google/uuid"
)

// Sink is the quarantine logger. It holds no state beyond the logger
// it writes to — correlation ids are generated per call, not retained.
type Sink struct {
	log *slog.Logger
}

// New returns a Sink writing through log.
func New(log *slog.Logger) *Sink {
	return &Sink{log: log}
}

// Drop logs a non-retriable outcome (decode error, mapping error,
// rejected query, first occurrence of an unknown table) that the loop
// acknowledges without applying its mutations.
func (s *Sink) Drop(op, table, topic, reason string) {
	s.log.Warn("dropped event",
		slog.String("op", op),
		slog.String("table", table),
		slog.String("topic", topic),
		slog.String("reason", reason),
		slog.String("correlation_id", uuid.NewString()),
	)
}

// Success logs a successfully-projected event, satisfying spec.md §7's
// "each outcome prints a single line containing op, table, and either
// SUCCESS or a diagnostic".
func (s *Sink) Success(op, table string) {
	s.log.Info("processed event",
		slog.String("op", op),
		slog.String("table", table),
		slog.String("outcome", "SUCCESS"),
	)
}
