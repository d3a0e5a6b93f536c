package vocabulary

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// singularExceptions are words whose trailing "s" is not a plural marker.
var singularExceptions = map[string]struct{}{
	"series": {}, "species": {}, "shoes": {}, "canoes": {}, "tiptoes": {},
	"glasses": {}, "clothes": {}, "scissors": {}, "trousers": {}, "pants": {},
	"shorts": {}, "news": {}, "mathematics": {}, "physics": {},
	"economics": {}, "politics": {}, "athletics": {},
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeLabel lowercases a label and replaces hyphens and underscores
// with spaces, producing the canonical form used for index keys and
// cross-source comparison.
func NormalizeLabel(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// FoldDiacritics removes combining marks so that "créme" and "creme"
// compare equal. Input that fails to transform is returned unchanged.
func FoldDiacritics(s string) string {
	folded, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return folded
}

// Singular converts a plural word to its singular form using common
// English plural rules in reverse: "ies" to "y", "es" after a sibilant
// or "o" stripped, otherwise a trailing "s" stripped. Very short words
// and known exceptions pass through unchanged.
func Singular(word string) string {
	w := strings.ToLower(word)
	if len(w) <= 2 {
		return word
	}
	if _, ok := singularExceptions[w]; ok {
		return word
	}
	if strings.HasSuffix(w, "ies") && len(w) > 4 {
		return word[:len(word)-3] + "y"
	}
	if strings.HasSuffix(w, "es") && len(w) > 3 {
		stem := w[:len(w)-2]
		if hasSibilantSuffix(stem) {
			return word[:len(word)-2]
		}
		if strings.HasSuffix(w, "oes") && len(w) > 4 {
			return word[:len(word)-2]
		}
	}
	if strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") &&
		!strings.HasSuffix(w, "is") && !strings.HasSuffix(w, "ous") &&
		!strings.HasSuffix(w, "ness") && !strings.HasSuffix(w, "ics") {
		return word[:len(word)-1]
	}
	return word
}

// Variations generates singular/plural variants of a lowercase label,
// excluding the label itself. Used to retry index lookups when the exact
// form misses.
func Variations(label string) []string {
	var out []string

	switch {
	case strings.HasSuffix(label, "ies") && len(label) > 4:
		out = append(out, label[:len(label)-3]+"y")
	case strings.HasSuffix(label, "oes") && len(label) > 4:
		out = append(out, label[:len(label)-2])
	case strings.HasSuffix(label, "es") && len(label) > 3:
		stem := label[:len(label)-2]
		if hasSibilantSuffix(stem) {
			out = append(out, stem)
		} else {
			out = append(out, label[:len(label)-1])
		}
	case strings.HasSuffix(label, "s") &&
		!strings.HasSuffix(label, "ss") && !strings.HasSuffix(label, "us") &&
		!strings.HasSuffix(label, "is"):
		out = append(out, label[:len(label)-1])
	}

	if !strings.HasSuffix(label, "s") {
		switch {
		case strings.HasSuffix(label, "y") && len(label) > 2 && !isVowel(label[len(label)-2]):
			out = append(out, label[:len(label)-1]+"ies")
		case hasSibilantSuffix(label) || strings.HasSuffix(label, "o"):
			out = append(out, label+"es")
		default:
			out = append(out, label+"s")
		}
	}

	return out
}

// MatchKey produces the form used for cross-source label comparison:
// normalized, diacritics folded, singularized per word.
func MatchKey(label string) string {
	normalized := FoldDiacritics(NormalizeLabel(label))
	words := strings.Fields(normalized)
	for i, w := range words {
		words[i] = Singular(w)
	}
	return strings.Join(words, " ")
}

// Slug converts a label into a path segment: normalized with spaces
// collapsed to single spaces. Path segments keep spaces; only the
// separator character is forbidden.
func Slug(label string) string {
	s := NormalizeLabel(label)
	return strings.ReplaceAll(s, PathSeparator, " ")
}

func hasSibilantSuffix(s string) bool {
	return strings.HasSuffix(s, "s") || strings.HasSuffix(s, "x") ||
		strings.HasSuffix(s, "z") || strings.HasSuffix(s, "ch") ||
		strings.HasSuffix(s, "sh")
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
