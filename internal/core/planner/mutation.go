package planner

import "fmt"

// Kind classifies a Mutation for logging and metrics only; it never
// affects how the gateway executes the mutation.
type Kind string

const (
	KindUpsertNode    Kind = "upsertNode"
	KindDeleteNode    Kind = "deleteNode"
	KindUpsertEdge    Kind = "upsertEdge"
	KindDeleteEdge    Kind = "deleteEdge"
	KindMergeProperty Kind = "mergeProperty"
)

// Mutation is a single parameterised graph write. Mutations are built
// fresh per event and discarded after execution; only compiled
// templates are cached (see templateCache).
type Mutation struct {
	Kind     Kind
	Template string
	Params   map[string]any
}

// MappingError is raised when a recognised table's rule preconditions
// are unmet for this event — e.g. a declared edge missing one of its
// FK columns, or an id column holding an unsupported type. It is
// non-retriable: re-delivery of the same payload cannot change its
// shape, so the loop drops and acks it.
type MappingError struct {
	Table  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping error for table %q: %s", e.Table, e.Reason)
}
