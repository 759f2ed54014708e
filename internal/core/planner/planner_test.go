package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/graphsync/internal/core/event"
	"github.com/glassflow/graphsync/internal/core/schema"
)

func num(n int64) json.Number { return json.Number(stringify(n)) }

func stringify(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestPlan_Node_Upsert(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "users",
		Row:   map[string]any{"id": num(1), "name": "Ada"},
	}
	rule := schema.Rule{Kind: schema.KindNode, Label: "User", IDColumn: "id"}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, KindUpsertNode, muts[0].Kind)
	assert.Contains(t, muts[0].Template, "MERGE (n:User")
	assert.Equal(t, int64(1), muts[0].Params["id"])
}

func TestPlan_Node_Delete(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpDelete, Table: "users", Row: map[string]any{"id": num(1)}}
	rule := schema.Rule{Kind: schema.KindNode, Label: "User", IDColumn: "id"}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, KindDeleteNode, muts[0].Kind)
	assert.Contains(t, muts[0].Template, "DETACH DELETE")
}

func TestPlan_Node_MissingIDColumn(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpCreate, Table: "users", Row: map[string]any{"name": "Ada"}}
	rule := schema.Rule{Kind: schema.KindNode, Label: "User", IDColumn: "id"}

	_, err := p.Plan(ev, rule)
	require.Error(t, err)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestPlan_NodeWithEdges_OptionalFKAbsent(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "projects",
		Row:   map[string]any{"id": num(10), "name": "Atlas"},
	}
	rule := schema.Rule{
		Kind: schema.KindNodeWithEdges, Label: "Project", IDColumn: "id",
		Edges: []schema.EdgeSpec{
			{FKColumn: "managed_by_user_id", OtherLabel: "User", RelType: "MANAGES", Direction: "in", Optional: true},
		},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1, "no edge mutation when FK column is absent")
	assert.Equal(t, KindUpsertNode, muts[0].Kind)
}

func TestPlan_NodeWithEdges_FKPresent(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "projects",
		Row:   map[string]any{"id": num(10), "managed_by_user_id": num(5)},
	}
	rule := schema.Rule{
		Kind: schema.KindNodeWithEdges, Label: "Project", IDColumn: "id",
		Edges: []schema.EdgeSpec{
			{FKColumn: "managed_by_user_id", OtherLabel: "User", RelType: "MANAGES", Direction: "in", Optional: true},
		},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 2)
	assert.Equal(t, KindUpsertEdge, muts[1].Kind)
	assert.Equal(t, int64(5), muts[1].Params["from_id"])
	assert.Equal(t, int64(10), muts[1].Params["to_id"])
	assert.Contains(t, muts[1].Template, "MANAGES")
}

func TestPlan_NodeWithEdges_RequiredFKMissingIsMappingError(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "ideas",
		Row:   map[string]any{"id": num(10), "title": "Better onboarding"},
	}
	rule := schema.Rule{
		Kind: schema.KindNodeWithEdges, Label: "Idea", IDColumn: "id",
		Edges: []schema.EdgeSpec{
			{FKColumn: "submitted_by_user_id", OtherLabel: "User", RelType: "SUBMITTED", Direction: "in"},
		},
	}

	_, err := p.Plan(ev, rule)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "ideas", mapErr.Table)
}

func TestPlan_NodeWithEdges_RequiredFKNullIsMappingError(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "notifications",
		Row:   map[string]any{"id": num(1), "sender_user_id": nil, "receiver_user_id": num(2)},
	}
	rule := schema.Rule{
		Kind: schema.KindNodeWithEdges, Label: "Notification", IDColumn: "id",
		Edges: []schema.EdgeSpec{
			{FKColumn: "sender_user_id", OtherLabel: "User", RelType: "SENT", Direction: "in"},
			{FKColumn: "receiver_user_id", OtherLabel: "User", RelType: "RECEIVED_BY", Direction: "out"},
		},
	}

	_, err := p.Plan(ev, rule)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestPlan_NodeWithEdges_DeleteOmitsEdges(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpDelete, Table: "projects", Row: map[string]any{"id": num(10)}}
	rule := schema.Rule{
		Kind: schema.KindNodeWithEdges, Label: "Project", IDColumn: "id",
		Edges: []schema.EdgeSpec{
			{FKColumn: "managed_by_user_id", OtherLabel: "User", RelType: "MANAGES", Direction: "in", Optional: true},
		},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, KindDeleteNode, muts[0].Kind)
}

func TestPlan_PropertyMerge_UsesSourceColumnAsParam(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "user_logins",
		Row:   map[string]any{"user_id": num(3), "login_email": "ada@example.com"},
	}
	rule := schema.Rule{
		Kind: schema.KindPropertyMerge, Label: "User", IDColumn: "user_id",
		Properties: []schema.PropertyMapping{{SourceColumn: "login_email", TargetProperty: "loginEmail"}},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, "MERGE (u:User {id: $user_id}) SET u.loginEmail = $login_email", muts[0].Template)
	assert.Equal(t, int64(3), muts[0].Params["user_id"])
	assert.Equal(t, "ada@example.com", muts[0].Params["login_email"])
}

func TestPlan_PropertyMerge_DeleteIsNoop(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpDelete, Table: "user_logins", Row: map[string]any{"user_id": num(3)}}
	rule := schema.Rule{
		Kind: schema.KindPropertyMerge, Label: "User", IDColumn: "user_id",
		Properties: []schema.PropertyMapping{{SourceColumn: "login_email", TargetProperty: "loginEmail"}},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	assert.Nil(t, muts)
}

func TestPlan_Edge_Upsert(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "user_skills",
		Row:   map[string]any{"user_id": num(1), "skill_id": num(2)},
	}
	rule := schema.Rule{Kind: schema.KindEdge, FromLabel: "User", FromColumn: "user_id", ToLabel: "Skill", ToColumn: "skill_id", RelType: "HAS_SKILL"}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, KindUpsertEdge, muts[0].Kind)
	assert.Contains(t, muts[0].Template, "HAS_SKILL")
}

func TestPlan_Edge_DeleteRemovesRelationship(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpDelete, Table: "user_skills", Row: map[string]any{"user_id": num(1), "skill_id": num(2)}}
	rule := schema.Rule{Kind: schema.KindEdge, FromLabel: "User", FromColumn: "user_id", ToLabel: "Skill", ToColumn: "skill_id", RelType: "HAS_SKILL"}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, KindDeleteEdge, muts[0].Kind)
	assert.Contains(t, muts[0].Template, "DELETE r")
}

func TestPlan_Edge_MissingRequiredEndpointIsMappingError(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpCreate, Table: "user_skills", Row: map[string]any{"user_id": num(1)}}
	rule := schema.Rule{Kind: schema.KindEdge, FromLabel: "User", FromColumn: "user_id", ToLabel: "Skill", ToColumn: "skill_id", RelType: "HAS_SKILL"}

	_, err := p.Plan(ev, rule)
	require.Error(t, err)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
}

func TestPlan_Edge_OptionalMissingEndpointSuppressed(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpCreate, Table: "business_connections", Row: map[string]any{"id": num(1)}}
	rule := schema.Rule{Kind: schema.KindEdge, FromLabel: "X", FromColumn: "x_id", ToLabel: "Y", ToColumn: "y_id", RelType: "R", Optional: true}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	assert.Nil(t, muts)
}

func TestPlan_EdgeWithProps(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "idea_votes",
		Row:   map[string]any{"voter_user_id": num(1), "idea_id": num(2), "type": "up"},
	}
	rule := schema.Rule{
		Kind: schema.KindEdgeWithProps, FromLabel: "User", FromColumn: "voter_user_id",
		ToLabel: "Idea", ToColumn: "idea_id", RelType: "VOTED_ON",
		PayloadColumns: []schema.PropertyMapping{{SourceColumn: "type", TargetProperty: "type"}},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	props, ok := muts[0].Params["props"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "up", props["type"])
}

func TestPlan_Composite(t *testing.T) {
	p := New()
	ev := event.Event{
		Op:    event.OpCreate,
		Table: "business_connections",
		Row: map[string]any{
			"id":                     num(1),
			"initiating_business_id": num(10),
			"receiving_business_id":  num(20),
			"connection_type_id":     nil,
		},
	}
	rule := schema.Rule{
		Kind: schema.KindComposite, Label: "BusinessConnection", IDColumn: "id",
		Steps: []schema.Rule{
			{Kind: schema.KindNode, Label: "BusinessConnection", IDColumn: "id"},
			{Kind: schema.KindEdge, FromLabel: "Business", FromColumn: "initiating_business_id", ToLabel: "BusinessConnection", ToColumn: schema.SelfColumn, RelType: "INITIATED_CONNECTION"},
			{Kind: schema.KindEdge, FromLabel: "BusinessConnection", FromColumn: schema.SelfColumn, ToLabel: "Business", ToColumn: "receiving_business_id", RelType: "RECEIVED_BY"},
			{Kind: schema.KindEdge, FromLabel: "BusinessConnection", FromColumn: schema.SelfColumn, ToLabel: "ConnectionType", ToColumn: "connection_type_id", RelType: "HAS_TYPE", Optional: true},
		},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	// node + 2 required edges; optional HAS_TYPE suppressed (null FK)
	require.Len(t, muts, 3)
	assert.Equal(t, KindUpsertNode, muts[0].Kind)
	assert.Equal(t, KindUpsertEdge, muts[1].Kind)
	assert.Equal(t, KindUpsertEdge, muts[2].Kind)
}

func TestPlan_Composite_DeleteSkipsEdgeSteps(t *testing.T) {
	p := New()
	ev := event.Event{Op: event.OpDelete, Table: "business_connections", Row: map[string]any{"id": num(1)}}
	rule := schema.Rule{
		Kind: schema.KindComposite, Label: "BusinessConnection", IDColumn: "id",
		Steps: []schema.Rule{
			{Kind: schema.KindNode, Label: "BusinessConnection", IDColumn: "id"},
			{Kind: schema.KindEdge, FromLabel: "Business", FromColumn: "initiating_business_id", ToLabel: "BusinessConnection", ToColumn: schema.SelfColumn, RelType: "INITIATED_CONNECTION"},
		},
	}

	muts, err := p.Plan(ev, rule)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, KindDeleteNode, muts[0].Kind)
}

func TestPlan_TemplateCacheReusesCompiledQuery(t *testing.T) {
	p := New()
	rule := schema.Rule{Kind: schema.KindNode, Label: "User", IDColumn: "id"}

	ev1 := event.Event{Op: event.OpCreate, Table: "users", Row: map[string]any{"id": num(1)}}
	ev2 := event.Event{Op: event.OpCreate, Table: "users", Row: map[string]any{"id": num(2)}}

	muts1, err := p.Plan(ev1, rule)
	require.NoError(t, err)
	muts2, err := p.Plan(ev2, rule)
	require.NoError(t, err)

	assert.Equal(t, muts1[0].Template, muts2[0].Template)
	assert.Len(t, p.templates.m, 1, "both events share one compiled template")
}
