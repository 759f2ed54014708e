package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SkipReason classifies an event the loop must acknowledge without
// planning any mutation for it.
type SkipReason string

const (
	SkipTombstone  SkipReason = "tombstone"   // zero-length message
	SkipNoPayload  SkipReason = "no_payload"  // payload missing or null
	SkipUnknownOp  SkipReason = "unknown_op"  // op outside c|u|d|r|t
	SkipTruncate   SkipReason = "truncate"    // op=t, always ignored
	SkipNoRow      SkipReason = "no_row"      // selected before/after side is null
)

// DecodeError classifies a malformed message: bad JSON, or a missing
// field the schema registry's invariant requires (op, source.table).
// It is non-fatal per message — the loop acks and quarantines it.
type DecodeError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error on topic %q: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode error on topic %q: %s", e.Topic, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Payload *payload `json:"payload"`
}

type payload struct {
	Op     string          `json:"op"`
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source source          `json:"source"`
}

type source struct {
	Table string `json:"table"`
}

// Decode parses a raw bus message into an Event. A non-empty
// SkipReason means the message carries no mutation to plan but should
// still be acknowledged. A non-nil error is always a *DecodeError.
func Decode(raw []byte, topic string) (Event, SkipReason, error) {
	if len(raw) == 0 {
		return Event{Topic: topic}, SkipTombstone, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Event{}, "", &DecodeError{Topic: topic, Reason: "malformed JSON envelope", Err: err}
	}

	if env.Payload == nil {
		return Event{Topic: topic}, SkipNoPayload, nil
	}
	p := env.Payload

	if p.Op == "" {
		return Event{}, "", &DecodeError{Topic: topic, Reason: "missing payload.op"}
	}
	table := p.Source.Table
	if table == "" {
		return Event{}, "", &DecodeError{Topic: topic, Reason: "missing payload.source.table"}
	}

	op := Op(p.Op[0])
	if !op.Valid() {
		return Event{Table: table, Topic: topic}, SkipUnknownOp, nil
	}
	if op == OpTruncate {
		return Event{Table: table, Op: op, Topic: topic}, SkipTruncate, nil
	}

	selected := p.After
	if op == OpDelete {
		selected = p.Before
	}
	if isJSONNull(selected) {
		return Event{Table: table, Op: op, Topic: topic}, SkipNoRow, nil
	}

	row, err := decodeRow(selected)
	if err != nil {
		return Event{}, "", &DecodeError{Topic: topic, Reason: "malformed row payload", Err: err}
	}

	return Event{Op: op, Table: table, Row: row, Topic: topic}, "", nil
}

func isJSONNull(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	trimmed := bytes.TrimSpace(raw)
	return string(trimmed) == "null"
}

func decodeRow(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}
