package schema

import (
	"strings"

	"github.com/glassflow/graphsync/internal/core/label"
)

// genericNodeTables lists upstream tables whose rows become a plain
// node carrying every scalar column as a property, with no outbound
// edges of their own (spec.md §4.3's first registry row). Any table
// ending in "_categories" is matched by suffix rather than listed here,
// since every lookup node's own category table (skill_categories,
// strength_categories, business_categories, industry_categories, ...)
// follows the same rule.
var genericNodeTables = map[string]struct{}{
	"users":             {},
	"regions":           {},
	"subscriptions":     {},
	"business_types":    {},
	"business_phases":   {},
	"business_roles":    {},
	"business_skills":   {},
	"business_strengths": {},
	"connection_types":  {},
	"mastermind_roles":  {},
	"daily_activities":  {},
}

// ruleFactory builds a Rule once the table's normalised label is known.
type ruleFactory func(label string) Rule

// Registry is the static, total-over-the-declared-schema mapping from
// table name to projection rule. It is created once at startup and
// owned by the consumption loop; lookups never mutate declared rules,
// only the label cache, and the loop is single-threaded, so no locking
// is required.
type Registry struct {
	normalizer *label.Normalizer
	explicit   map[string]ruleFactory
	dropped    map[string]struct{} // tables logged once as unknown
}

// NewRegistry builds the registry described in spec.md §4.3.
func NewRegistry() *Registry {
	r := &Registry{
		normalizer: label.NewNormalizer(),
		explicit:   make(map[string]ruleFactory),
		dropped:    make(map[string]struct{}),
	}
	r.registerAll()
	return r
}

// Lookup returns the projection rule for table, or ok=false if the
// table is outside the declared upstream schema.
func (r *Registry) Lookup(table string) (Rule, bool) {
	lbl := r.normalizer.Normalize(table)

	if factory, ok := r.explicit[table]; ok {
		return factory(lbl), true
	}
	if isGenericNodeTable(table) {
		return Rule{Kind: KindNode, Label: lbl, IDColumn: "id"}, true
	}
	return Rule{}, false
}

// MarkDropped reports whether table has already been logged as unknown;
// if not, it records it and returns false so the caller logs it once.
func (r *Registry) MarkDropped(table string) (alreadyLogged bool) {
	if _, ok := r.dropped[table]; ok {
		return true
	}
	r.dropped[table] = struct{}{}
	return false
}

func isGenericNodeTable(table string) bool {
	if _, ok := genericNodeTables[table]; ok {
		return true
	}
	return strings.HasSuffix(table, "_categories")
}

func (r *Registry) register(table string, f ruleFactory) {
	r.explicit[table] = f
}

func (r *Registry) registerAll() {
	r.register("projects", func(lbl string) Rule {
		return Rule{
			Kind:     KindNodeWithEdges,
			Label:    lbl,
			IDColumn: "id",
			Edges: []EdgeSpec{
				{FKColumn: "managed_by_user_id", OtherLabel: "User", RelType: "MANAGES", Direction: "in", Optional: true},
			},
		}
	})

	r.register("businesses", func(lbl string) Rule {
		return Rule{
			Kind:     KindNodeWithEdges,
			Label:    lbl,
			IDColumn: "id",
			Edges: []EdgeSpec{
				{FKColumn: "operator_user_id", OtherLabel: "User", RelType: "OPERATES", Direction: "in", Optional: true},
				{FKColumn: "business_type_id", OtherLabel: "BusinessType", RelType: "IS_TYPE", Direction: "out", Optional: true},
				{FKColumn: "business_category_id", OtherLabel: "BusinessCategory", RelType: "IN_CATEGORY", Direction: "out", Optional: true},
				{FKColumn: "business_phase_id", OtherLabel: "BusinessPhase", RelType: "IN_PHASE", Direction: "out", Optional: true},
			},
		}
	})

	for _, table := range []string{"skills", "strengths", "industries"} {
		table := table
		r.register(table, func(lbl string) Rule {
			return Rule{
				Kind:     KindNodeWithEdges,
				Label:    lbl,
				IDColumn: "id",
				Edges: []EdgeSpec{
					{FKColumn: "category_id", OtherLabel: lbl + "Category", RelType: "IN_CATEGORY", Direction: "out", Optional: true},
				},
			}
		})
	}

	r.register("ideas", func(lbl string) Rule {
		return Rule{
			Kind:     KindNodeWithEdges,
			Label:    lbl,
			IDColumn: "id",
			Edges: []EdgeSpec{
				{FKColumn: "submitted_by_user_id", OtherLabel: "User", RelType: "SUBMITTED", Direction: "in"},
			},
		}
	})

	r.register("user_posts", func(lbl string) Rule {
		return Rule{
			Kind:     KindNodeWithEdges,
			Label:    lbl,
			IDColumn: "id",
			Edges: []EdgeSpec{
				{FKColumn: "poster_user_id", OtherLabel: "User", RelType: "CREATED", Direction: "in"},
			},
		}
	})

	r.register("case_studies", func(lbl string) Rule {
		return Rule{
			Kind:     KindNodeWithEdges,
			Label:    lbl,
			IDColumn: "id",
			Edges: []EdgeSpec{
				{FKColumn: "owner_user_id", OtherLabel: "User", RelType: "OWNS", Direction: "in"},
			},
		}
	})

	r.register("notifications", func(lbl string) Rule {
		return Rule{
			Kind:     KindNodeWithEdges,
			Label:    lbl,
			IDColumn: "id",
			Edges: []EdgeSpec{
				{FKColumn: "sender_user_id", OtherLabel: "User", RelType: "SENT", Direction: "in"},
				{FKColumn: "receiver_user_id", OtherLabel: "User", RelType: "RECEIVED_BY", Direction: "out"},
			},
		}
	})

	r.register("user_logins", func(lbl string) Rule {
		return Rule{
			Kind:     KindPropertyMerge,
			Label:    "User",
			IDColumn: "user_id",
			Properties: []PropertyMapping{
				{SourceColumn: "login_email", TargetProperty: "loginEmail"},
			},
		}
	})

	r.register("business_connections", func(lbl string) Rule {
		return Rule{
			Kind:     KindComposite,
			Label:    lbl,
			IDColumn: "id",
			Steps: []Rule{
				{Kind: KindNode, Label: lbl, IDColumn: "id"},
				{Kind: KindEdge, FromLabel: "Business", FromColumn: "initiating_business_id", ToLabel: lbl, ToColumn: SelfColumn, RelType: "INITIATED_CONNECTION"},
				{Kind: KindEdge, FromLabel: lbl, FromColumn: SelfColumn, ToLabel: "Business", ToColumn: "receiving_business_id", RelType: "RECEIVED_BY"},
				{Kind: KindEdge, FromLabel: lbl, FromColumn: SelfColumn, ToLabel: "ConnectionType", ToColumn: "connection_type_id", RelType: "HAS_TYPE", Optional: true},
			},
		}
	})

	type plainEdge struct {
		from, fromCol, to, toCol, rel string
	}
	plainEdges := map[string]plainEdge{
		"project_regions":              {"Project", "project_id", "Region", "region_id", "IN_REGION"},
		"user_skills":                  {"User", "user_id", "Skill", "skill_id", "HAS_SKILL"},
		"user_strengths":               {"User", "user_id", "Strength", "strength_id", "HAS_STRENGTH"},
		"project_business_skills":      {"Project", "project_id", "BusinessSkill", "business_skill_id", "REQUIRES_SKILL"},
		"project_business_categories":  {"Project", "project_id", "BusinessCategory", "business_category_id", "IN_CATEGORY"},
		"daily_activity_enrolments":    {"User", "user_id", "DailyActivity", "daily_activity_id", "ENROLLED_IN"},
		"user_business_strengths":      {"User", "user_id", "BusinessStrength", "business_strength_id", "HAS_BUSINESS_STRENGTH"},
		"connection_mastermind_roles":  {"BusinessConnection", "connection_id", "MastermindRole", "mastermind_role_id", "HAS_MASTERMIND_ROLE"},
	}
	for table, e := range plainEdges {
		e := e
		r.register(table, func(string) Rule {
			return Rule{
				Kind:       KindEdge,
				FromLabel:  e.from,
				FromColumn: e.fromCol,
				ToLabel:    e.to,
				ToColumn:   e.toCol,
				RelType:    e.rel,
			}
		})
	}

	r.register("idea_votes", func(string) Rule {
		return Rule{
			Kind:       KindEdgeWithProps,
			FromLabel:  "User",
			FromColumn: "voter_user_id",
			ToLabel:    "Idea",
			ToColumn:   "idea_id",
			RelType:    "VOTED_ON",
			PayloadColumns: []PropertyMapping{
				{SourceColumn: "type", TargetProperty: "type"},
			},
		}
	})

	r.register("user_subscriptions", func(string) Rule {
		return Rule{
			Kind:       KindEdgeWithProps,
			FromLabel:  "User",
			FromColumn: "user_id",
			ToLabel:    "Subscription",
			ToColumn:   "subscription_id",
			RelType:    "HAS_SUBSCRIPTION",
			PayloadColumns: []PropertyMapping{
				{SourceColumn: "date_from", TargetProperty: "date_from", Type: PropertyDateTime},
				{SourceColumn: "date_to", TargetProperty: "date_to", Type: PropertyDateTime},
				{SourceColumn: "price", TargetProperty: "price", Type: PropertyFloat},
				{SourceColumn: "total", TargetProperty: "total", Type: PropertyFloat},
				{SourceColumn: "tax_amount", TargetProperty: "tax_amount", Type: PropertyFloat},
				{SourceColumn: "tax_rate", TargetProperty: "tax_rate", Type: PropertyFloat},
				{SourceColumn: "trial_from", TargetProperty: "trial_from", Type: PropertyDateTime},
				{SourceColumn: "trial_to", TargetProperty: "trial_to", Type: PropertyDateTime},
			},
		}
	})

	r.register("user_daily_activity_progress", func(string) Rule {
		return Rule{
			Kind:       KindEdgeWithProps,
			FromLabel:  "User",
			FromColumn: "user_id",
			ToLabel:    "DailyActivity",
			ToColumn:   "daily_activity_id",
			RelType:    "HAS_PROGRESS_IN",
			PayloadColumns: []PropertyMapping{
				{SourceColumn: "progress", TargetProperty: "progress", Type: PropertyFloat},
				{SourceColumn: "date", TargetProperty: "date", Type: PropertyDateTime},
			},
		}
	})
}
