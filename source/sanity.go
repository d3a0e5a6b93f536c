package source

import (
	"log/slog"
	"strings"

	"github.com/taxomat/taxomat/vocabulary"
)

// Plausible reports whether a candidate's own label plausibly matches
// the query. Both sides are normalized (case, hyphens, diacritics,
// per-word singular) and one form must contain the other. This catches
// sources answering a different sense of a word, like an agricultural
// vocabulary matching "bedding" to "litter for animals".
func Plausible(query, label string) bool {
	q := vocabulary.MatchKey(query)
	l := vocabulary.MatchKey(label)
	if q == "" || l == "" {
		return false
	}
	return strings.Contains(l, q) || strings.Contains(q, l)
}

// filterPlausible drops candidates whose label fails the sanity check,
// logging each rejection for later curation. When everything is
// rejected the returned error records the first mismatch.
func filterPlausible(logger *slog.Logger, sourceName, query string, cands []Candidate) ([]Candidate, error) {
	if len(cands) == 0 {
		return nil, ErrNotFound
	}

	kept := cands[:0]
	var firstReject *SanityError
	for _, c := range cands {
		if Plausible(query, c.PrefLabel) {
			kept = append(kept, c)
			continue
		}
		logger.Warn("Sanity check rejected candidate",
			"source", sourceName,
			"query", query,
			"got", c.PrefLabel,
			"external_id", c.ExternalID)
		if firstReject == nil {
			firstReject = &SanityError{Source: sourceName, Query: query, Got: c.PrefLabel}
		}
	}

	if len(kept) == 0 {
		return nil, firstReject
	}
	return kept, nil
}

// searchForms returns the lowercase query forms tried against a source:
// the trimmed label itself plus singular/plural variations.
func searchForms(label string) []string {
	base := strings.ToLower(strings.TrimSpace(label))
	forms := []string{base}
	for _, v := range vocabulary.Variations(base) {
		if v != base {
			forms = append(forms, v)
		}
	}
	return forms
}
