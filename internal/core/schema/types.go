// Package schema holds the static, declarative mapping from upstream
// table name to projection rule (node, property merge, edge, or a
// composite of these), and the registry that looks rules up by table.
package schema

// RuleKind enumerates the shapes a projection rule can take.
type RuleKind string

const (
	KindNode          RuleKind = "node"
	KindNodeWithEdges RuleKind = "node_with_edges"
	KindPropertyMerge RuleKind = "property_merge"
	KindEdge          RuleKind = "edge"
	KindEdgeWithProps RuleKind = "edge_with_props"
	KindComposite     RuleKind = "composite"
)

// PropertyType is an optional coercion hint for a mapped column. Columns
// without a hint fall back to the default JSON-kind inference spec.md
// mandates (string/int/float/bool, null and unsupported kinds omitted).
type PropertyType string

const (
	PropertyAuto     PropertyType = ""
	PropertyString   PropertyType = "string"
	PropertyInt      PropertyType = "int"
	PropertyFloat    PropertyType = "float"
	PropertyBool     PropertyType = "bool"
	PropertyDateTime PropertyType = "datetime"
	PropertyUUID     PropertyType = "uuid"
)

// SelfColumn is a sentinel FromColumn/ToColumn value used inside a
// Composite rule's edge steps to mean "the id of the node this same
// event just upserted", as opposed to a foreign-key column on the row.
const SelfColumn = "$self"

// PropertyMapping renames (and optionally retypes) a source row column
// onto a target graph property name.
type PropertyMapping struct {
	SourceColumn   string
	TargetProperty string
	Type           PropertyType
}

// EdgeSpec is one outbound/inbound relationship declared by a
// NodeWithEdges rule. Direction is relative to the node the owning
// rule creates: "out" means (self)-[Rel]->(other); "in" means
// (other)-[Rel]->(self).
type EdgeSpec struct {
	FKColumn    string
	OtherLabel  string
	OtherColumn string // not read by the planner: the other node is always matched on its id property
	RelType     string
	Direction   string // "out" or "in"
	Optional    bool   // true: a missing or null FKColumn suppresses the edge; false: it is a MappingError
}

// Rule is the static per-table projection rule. Only the fields
// relevant to Kind are populated; the rest are zero.
type Rule struct {
	Kind RuleKind

	// Node, NodeWithEdges, PropertyMerge
	Label      string
	IDColumn   string
	Edges      []EdgeSpec        // NodeWithEdges
	Properties []PropertyMapping // PropertyMerge: source -> target property

	// Edge, EdgeWithProps
	FromLabel      string
	FromColumn     string
	ToLabel        string
	ToColumn       string
	RelType        string
	PayloadColumns []PropertyMapping // EdgeWithProps
	Optional       bool              // true: a missing or null endpoint column suppresses the edge; false: it is a MappingError

	// Composite
	Steps []Rule
}
