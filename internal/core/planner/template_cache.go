package planner

// templateKey identifies a compiled query template by the dimensions
// spec.md §3 names: (op shape, rule shape, labels, relType). It
// deliberately excludes anything event-specific (ids, property
// values) — the cache is bounded by the finite number of declared
// rules, never by event volume.
type templateKey struct {
	shape      string
	fromLabel  string
	toLabel    string
	relType    string
	idColumn   string
	properties string // stable join of property names, for PropertyMerge
}

// templateCache compiles each (op, rule-shape, labels, relType) query
// once and reuses it for every subsequent event that shares the shape.
// It is owned by the Planner, itself owned by the consumption loop, so
// it needs no locking (single-threaded per spec.md §5).
type templateCache struct {
	m map[templateKey]string
}

func newTemplateCache() *templateCache {
	return &templateCache{m: make(map[templateKey]string)}
}

func (c *templateCache) getOrBuild(key templateKey, build func() string) string {
	if tpl, ok := c.m[key]; ok {
		return tpl
	}
	tpl := build()
	c.m[key] = tpl
	return tpl
}
