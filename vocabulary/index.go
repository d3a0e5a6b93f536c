package vocabulary

import (
	"sort"
	"strings"
	"sync"
)

// Index maps normalized labels to concept IDs for exact and variation
// lookups. It only ever indexes source-attested labels and synonyms;
// fallback-resolved display labels are excluded so a lookup never matches
// across languages.
type Index struct {
	mu      sync.RWMutex
	byLabel map[string][]string
}

// NewIndex builds an index over the given concept set.
func NewIndex(concepts map[string]*Concept) *Index {
	idx := &Index{byLabel: make(map[string][]string)}
	for id, c := range concepts {
		idx.add(NormalizeLabel(c.PrefLabel), id)
		for _, label := range c.Labels {
			idx.add(NormalizeLabel(label), id)
		}
		for _, synonyms := range c.AltLabels {
			for _, synonym := range synonyms {
				idx.add(NormalizeLabel(synonym), id)
			}
		}
	}
	for label := range idx.byLabel {
		sort.Strings(idx.byLabel[label])
	}
	return idx
}

func (idx *Index) add(label, id string) {
	if label == "" {
		return
	}
	for _, existing := range idx.byLabel[label] {
		if existing == id {
			return
		}
	}
	idx.byLabel[label] = append(idx.byLabel[label], id)
}

// Lookup returns the concept IDs whose labels match the term exactly
// after normalization, trying singular/plural variations when the exact
// form misses.
func (idx *Index) Lookup(term string) []string {
	normalized := NormalizeLabel(term)
	if normalized == "" {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if ids, ok := idx.byLabel[normalized]; ok {
		return append([]string(nil), ids...)
	}
	for _, variation := range Variations(normalized) {
		if ids, ok := idx.byLabel[variation]; ok {
			return append([]string(nil), ids...)
		}
	}
	return nil
}

// Search returns up to limit concept IDs whose indexed labels contain the
// query as a substring, exact matches first, then alphabetically by label.
func (idx *Index) Search(query string, limit int) []string {
	normalized := NormalizeLabel(query)
	if normalized == "" || limit <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type hit struct {
		label string
		exact bool
	}
	hits := make(map[string]hit)
	for label, ids := range idx.byLabel {
		if !strings.Contains(label, normalized) {
			continue
		}
		exact := label == normalized
		for _, id := range ids {
			existing, ok := hits[id]
			if !ok || (exact && !existing.exact) {
				hits[id] = hit{label: label, exact: exact}
			}
		}
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		hi, hj := hits[ids[i]], hits[ids[j]]
		if hi.exact != hj.exact {
			return hi.exact
		}
		if hi.label != hj.label {
			return hi.label < hj.label
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// Size returns the number of distinct indexed labels.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byLabel)
}
