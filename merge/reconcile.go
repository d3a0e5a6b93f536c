package merge

import (
	"github.com/taxomat/taxomat/vocabulary"
)

// effectiveOrder returns the consultation order for one query. The
// configured priority is the baseline; when both middle sources are
// present, the food-term preference puts the agricultural one first for
// food queries and the encyclopedic one first for everything else.
func (e *Engine) effectiveOrder(normalized string) []string {
	order := make([]string, len(e.order))
	copy(order, e.order)

	ai := indexOf(order, sourceAgrovoc)
	di := indexOf(order, sourceDBpedia)
	if ai < 0 || di < 0 {
		return order
	}

	food := e.isFoodTerm(normalized)
	if (food && ai > di) || (!food && di > ai) {
		order[ai], order[di] = order[di], order[ai]
	}
	return order
}

// isFoodTerm reports whether a normalized query names a food or
// agriculture term, matching the exact form or its singularized form.
func (e *Engine) isFoodTerm(normalized string) bool {
	if _, ok := e.foodTerms[normalized]; ok {
		return true
	}
	_, ok := e.foodTerms[vocabulary.MatchKey(normalized)]
	return ok
}

// ancestorIDs aligns a winning candidate's raw route with its canonical
// path, pairing each canonical ancestor with the source identifier of
// the raw segment it came from. The leaf is excluded; the winner itself
// carries that identifier. Mapped roots and collapsed segments simply
// find no match.
func ancestorIDs(canonical []string, rawPath, rawIDs []string) map[string]string {
	if len(canonical) < 2 || len(rawPath) == 0 || len(rawIDs) == 0 {
		return nil
	}

	out := make(map[string]string)
	for i := 0; i < len(canonical)-1; i++ {
		for j := len(rawPath) - 1; j >= 0; j-- {
			if vocabulary.NormalizeLabel(rawPath[j]) != canonical[i] {
				continue
			}
			if j < len(rawIDs) && rawIDs[j] != "" {
				out[vocabulary.JoinPath(canonical[:i+1])] = rawIDs[j]
			}
			break
		}
	}
	return out
}

func indexOf(values []string, want string) int {
	for i, v := range values {
		if v == want {
			return i
		}
	}
	return -1
}
