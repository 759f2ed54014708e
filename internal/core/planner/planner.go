// Package planner translates a decoded Event plus its Projection Rule
// into the ordered list of graph Mutations spec.md §4.4 describes.
package planner

import (
	"fmt"
	"strings"

	"github.com/glassflow/graphsync/internal/core/event"
	"github.com/glassflow/graphsync/internal/core/schema"
)

// Planner is stateless except for its template cache; it is owned by
// the consumption loop and never shared across goroutines.
type Planner struct {
	templates *templateCache
}

// New returns a Planner with an empty template cache.
func New() *Planner {
	return &Planner{templates: newTemplateCache()}
}

// Plan produces the ordered mutation list for ev under rule. The
// returned slice must be executed in order; mutations within one event
// are never reordered or interleaved (spec.md §4.4, §5).
func (p *Planner) Plan(ev event.Event, rule schema.Rule) ([]Mutation, error) {
	switch rule.Kind {
	case schema.KindNode:
		return p.planNode(ev, rule.Label, rule.IDColumn)
	case schema.KindNodeWithEdges:
		return p.planNodeWithEdges(ev, rule)
	case schema.KindPropertyMerge:
		return p.planPropertyMerge(ev, rule)
	case schema.KindEdge:
		return p.planEdge(ev, rule, "")
	case schema.KindEdgeWithProps:
		return p.planEdge(ev, rule, "")
	case schema.KindComposite:
		return p.planComposite(ev, rule)
	default:
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("unknown rule kind %q", rule.Kind)}
	}
}

// planNode handles the bare Node rule kind, and is reused as the
// primary-node step of NodeWithEdges and Composite rules.
func (p *Planner) planNode(ev event.Event, lbl, idColumn string) ([]Mutation, error) {
	idVal, ok := ev.Row[idColumn]
	if !ok {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("row missing id column %q", idColumn)}
	}
	id, err := coerceID(idVal)
	if err != nil {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("id column %q: %v", idColumn, err)}
	}

	if ev.Op == event.OpDelete {
		tpl := p.templates.getOrBuild(templateKey{shape: "node_delete", toLabel: lbl}, func() string {
			return fmt.Sprintf("MATCH (n:%s {id: $id}) DETACH DELETE n", lbl)
		})
		return []Mutation{{Kind: KindDeleteNode, Template: tpl, Params: map[string]any{"id": id}}}, nil
	}

	props := make(map[string]any, len(ev.Row))
	for col, raw := range ev.Row {
		if v, ok := coerceScalar(raw); ok {
			props[col] = v
		}
	}

	tpl := p.templates.getOrBuild(templateKey{shape: "node_upsert", toLabel: lbl}, func() string {
		return fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", lbl)
	})
	return []Mutation{{Kind: KindUpsertNode, Template: tpl, Params: map[string]any{"id": id, "props": props}}}, nil
}

// planNodeWithEdges emits the primary node mutation, then one upsert
// edge mutation per declared EdgeSpec whose FK column resolves to a
// non-null value. On delete, only the node mutation is emitted — the
// graph database's DETACH semantics remove incident edges.
func (p *Planner) planNodeWithEdges(ev event.Event, rule schema.Rule) ([]Mutation, error) {
	muts, err := p.planNode(ev, rule.Label, rule.IDColumn)
	if err != nil {
		return nil, err
	}
	if ev.Op == event.OpDelete {
		return muts, nil
	}

	selfID, err := coerceID(ev.Row[rule.IDColumn])
	if err != nil {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("id column %q: %v", rule.IDColumn, err)}
	}

	for _, es := range rule.Edges {
		fkVal, ok := ev.Row[es.FKColumn]
		if !ok || fkVal == nil {
			if !es.Optional {
				return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("required edge FK column %q is missing or null", es.FKColumn)}
			}
			continue // suppressed: optional FK absent or null
		}
		otherID, err := coerceID(fkVal)
		if err != nil {
			return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("edge FK column %q: %v", es.FKColumn, err)}
		}

		otherCol := es.OtherColumn
		if otherCol == "" {
			otherCol = "id"
		}

		var fromLabel, toLabel string
		params := map[string]any{}
		if es.Direction == "out" {
			fromLabel, toLabel = rule.Label, es.OtherLabel
			params["from_id"], params["to_id"] = selfID, otherID
		} else {
			fromLabel, toLabel = es.OtherLabel, rule.Label
			params["from_id"], params["to_id"] = otherID, selfID
		}

		tpl := p.templates.getOrBuild(templateKey{shape: "edge_upsert", fromLabel: fromLabel, toLabel: toLabel, relType: es.RelType}, func() string {
			return fmt.Sprintf("MATCH (a:%s {id: $from_id}) MATCH (b:%s {id: $to_id}) MERGE (a)-[:%s]->(b)", fromLabel, toLabel, es.RelType)
		})
		muts = append(muts, Mutation{Kind: KindUpsertEdge, Template: tpl, Params: params})
	}

	return muts, nil
}

// planPropertyMerge never deletes the target node: a retracted
// one-to-one row (e.g. a user_logins delete) leaves the owning node
// untouched (spec.md §4.4, §8 invariant 4).
func (p *Planner) planPropertyMerge(ev event.Event, rule schema.Rule) ([]Mutation, error) {
	if ev.Op == event.OpDelete {
		return nil, nil
	}

	idVal, ok := ev.Row[rule.IDColumn]
	if !ok {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("row missing id column %q", rule.IDColumn)}
	}
	id, err := coerceID(idVal)
	if err != nil {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("id column %q: %v", rule.IDColumn, err)}
	}

	params := map[string]any{rule.IDColumn: id}
	var setClauses []string
	for _, prop := range rule.Properties {
		raw, ok := ev.Row[prop.SourceColumn]
		if !ok {
			continue
		}
		val, present, err := coerceTyped(raw, prop.Type)
		if err != nil {
			return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("property column %q: %v", prop.SourceColumn, err)}
		}
		if !present {
			continue // null/unsupported source value: never unsets an existing property
		}
		params[prop.SourceColumn] = val
		setClauses = append(setClauses, fmt.Sprintf("u.%s = $%s", prop.TargetProperty, prop.SourceColumn))
	}

	if len(setClauses) == 0 {
		return nil, nil
	}

	tpl := p.templates.getOrBuild(templateKey{shape: "property_merge", toLabel: rule.Label, idColumn: rule.IDColumn, properties: propertyCacheKey(rule.Properties)}, func() string {
		return fmt.Sprintf("MERGE (u:%s {id: $%s}) SET %s", rule.Label, rule.IDColumn, strings.Join(setClauses, ", "))
	})
	return []Mutation{{Kind: KindMergeProperty, Template: tpl, Params: params}}, nil
}

// planEdge handles the Edge and EdgeWithProps kinds directly, and is
// reused by planComposite for edges embedded in a Composite rule — in
// which case selfIDColumn names the composite's own id column so that
// schema.SelfColumn can be resolved against the same event's row.
func (p *Planner) planEdge(ev event.Event, rule schema.Rule, selfIDColumn string) ([]Mutation, error) {
	fromRaw, fromOK := resolveColumn(ev, rule.FromColumn, selfIDColumn)
	toRaw, toOK := resolveColumn(ev, rule.ToColumn, selfIDColumn)

	if !fromOK || !toOK || fromRaw == nil || toRaw == nil {
		if rule.Optional {
			return nil, nil // suppressed: optional FK absent or null
		}
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("edge requires columns %q and %q", rule.FromColumn, rule.ToColumn)}
	}

	fromID, err := coerceID(fromRaw)
	if err != nil {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("edge from-column %q: %v", rule.FromColumn, err)}
	}
	toID, err := coerceID(toRaw)
	if err != nil {
		return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("edge to-column %q: %v", rule.ToColumn, err)}
	}

	if ev.Op == event.OpDelete {
		tpl := p.templates.getOrBuild(templateKey{shape: "edge_delete", fromLabel: rule.FromLabel, toLabel: rule.ToLabel, relType: rule.RelType}, func() string {
			return fmt.Sprintf("MATCH (a:%s {id: $from_id})-[r:%s]->(b:%s {id: $to_id}) DELETE r", rule.FromLabel, rule.RelType, rule.ToLabel)
		})
		return []Mutation{{Kind: KindDeleteEdge, Template: tpl, Params: map[string]any{"from_id": fromID, "to_id": toID}}}, nil
	}

	params := map[string]any{"from_id": fromID, "to_id": toID}

	if len(rule.PayloadColumns) == 0 {
		tpl := p.templates.getOrBuild(templateKey{shape: "edge_upsert", fromLabel: rule.FromLabel, toLabel: rule.ToLabel, relType: rule.RelType}, func() string {
			return fmt.Sprintf("MATCH (a:%s {id: $from_id}) MATCH (b:%s {id: $to_id}) MERGE (a)-[:%s]->(b)", rule.FromLabel, rule.ToLabel, rule.RelType)
		})
		return []Mutation{{Kind: KindUpsertEdge, Template: tpl, Params: params}}, nil
	}

	props := make(map[string]any, len(rule.PayloadColumns))
	for _, pc := range rule.PayloadColumns {
		raw, ok := ev.Row[pc.SourceColumn]
		if !ok {
			continue
		}
		val, present, err := coerceTyped(raw, pc.Type)
		if err != nil {
			return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("edge property column %q: %v", pc.SourceColumn, err)}
		}
		if present {
			props[pc.TargetProperty] = val
		}
	}
	params["props"] = props

	tpl := p.templates.getOrBuild(templateKey{shape: "edge_upsert_props", fromLabel: rule.FromLabel, toLabel: rule.ToLabel, relType: rule.RelType}, func() string {
		return fmt.Sprintf("MATCH (a:%s {id: $from_id}) MATCH (b:%s {id: $to_id}) MERGE (a)-[r:%s]->(b) SET r += $props", rule.FromLabel, rule.ToLabel, rule.RelType)
	})
	return []Mutation{{Kind: KindUpsertEdge, Template: tpl, Params: params}}, nil
}

// planComposite executes each declared step in order, never reordering
// the primary node ahead of its own edges (spec.md §9 re-architecture
// note): the registry always lists the node step first.
func (p *Planner) planComposite(ev event.Event, rule schema.Rule) ([]Mutation, error) {
	var muts []Mutation
	for _, step := range rule.Steps {
		switch step.Kind {
		case schema.KindNode:
			stepMuts, err := p.planNode(ev, step.Label, step.IDColumn)
			if err != nil {
				return nil, err
			}
			muts = append(muts, stepMuts...)
			if ev.Op == event.OpDelete {
				// DETACH DELETE on the primary node already removes its
				// composite-owned edges; skip the remaining edge steps.
				return muts, nil
			}
		case schema.KindEdge, schema.KindEdgeWithProps:
			stepMuts, err := p.planEdge(ev, step, rule.IDColumn)
			if err != nil {
				return nil, err
			}
			muts = append(muts, stepMuts...)
		default:
			return nil, &MappingError{Table: ev.Table, Reason: fmt.Sprintf("composite step has unsupported kind %q", step.Kind)}
		}
	}
	return muts, nil
}

func resolveColumn(ev event.Event, column, selfIDColumn string) (any, bool) {
	if column == schema.SelfColumn {
		v, ok := ev.Row[selfIDColumn]
		return v, ok
	}
	v, ok := ev.Row[column]
	return v, ok
}

func propertyCacheKey(props []schema.PropertyMapping) string {
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = p.SourceColumn + ":" + p.TargetProperty
	}
	return strings.Join(parts, ",")
}
