// Package label converts snake_case upstream table names into PascalCase
// graph node labels, with naive English singularisation.
package label

import "strings"

// cache holds the process-lifetime, monotonically growing table-to-label
// mapping. It is owned by whichever component calls Normalize — the
// consumption loop never shares it across goroutines, so no locking is
// needed (see the concurrency model: caches are loop-owned, single-writer).
type cache struct {
	m map[string]string
}

func newCache() *cache {
	return &cache{m: make(map[string]string)}
}

// Normalizer memoises Normalize per distinct input table name.
type Normalizer struct {
	cache *cache
}

// NewNormalizer returns a Normalizer with an empty, process-lifetime cache.
func NewNormalizer() *Normalizer {
	return &Normalizer{cache: newCache()}
}

// Normalize converts a table name to its graph label, memoising the result.
func (n *Normalizer) Normalize(table string) string {
	if v, ok := n.cache.m[table]; ok {
		return v
	}
	v := Normalize(table)
	n.cache.m[table] = v
	return v
}

// Normalize is the pure table-name-to-label transformation. It is not
// idempotent: Normalize("businesses") == "Business", but
// Normalize("Business") == "Busines" — callers should only ever
// normalise the raw table name.
func Normalize(table string) string {
	if table == "" {
		return ""
	}

	singular := singularize(table)

	segments := strings.Split(singular, "_")
	var b strings.Builder
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]))
		b.WriteString(seg[1:])
	}
	return b.String()
}

func singularize(s string) string {
	switch {
	case strings.HasSuffix(s, "ies") && len(s) >= 4:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "sses"):
		// -s/-x/-z/-ch/-sh nouns pluralise with "+es"; "sses" is the
		// common case in this schema (businesses, addresses).
		return s[:len(s)-2]
	case strings.HasSuffix(s, "s"):
		return s[:len(s)-1]
	default:
		return s
	}
}
