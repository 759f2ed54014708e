package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrClass is the four-way write-error taxonomy of spec.md §7, as seen
// from the graph writer gateway's side of the boundary.
type ErrClass string

const (
	ClassConnectionLost ErrClass = "connection_lost"
	ClassQueryRejected  ErrClass = "query_rejected"
	ClassTimeout        ErrClass = "timeout"
	ClassFatal          ErrClass = "fatal"
)

// ExecError wraps a driver error with its classification so the
// consumption loop can apply spec.md §7's propagation policy without
// knowing anything about the Bolt protocol.
type ExecError struct {
	Class ErrClass
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// classify maps a raw driver/context error onto the four-way taxonomy.
// Anything it doesn't recognise is fatal, per spec.md §7's "unknown
// exception kinds are treated as fatal to avoid silent data loss".
func classify(err error) *ExecError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ExecError{Class: ClassTimeout, Err: err}
	}

	var neoErr *neo4j.Neo4jError
	switch {
	case neo4j.IsConnectivityError(err):
		return &ExecError{Class: ClassConnectionLost, Err: err}
	case neo4j.IsRetryable(err):
		return &ExecError{Class: ClassTimeout, Err: err}
	case errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.ClientError."):
		return &ExecError{Class: ClassQueryRejected, Err: err}
	default:
		return &ExecError{Class: ClassFatal, Err: err}
	}
}
