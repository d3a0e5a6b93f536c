// Package fallback resolves display labels through language fallback
// chains. Related languages stand in for each other (a Norwegian
// Bokmål reader prefers Danish over English) before the final default
// applies. Resolution is display-only; search matching never crosses
// languages.
package fallback

// DefaultFinal is the terminal fallback language.
const DefaultFinal = "en"

// DefaultChains groups related languages: Scandinavian, Germanic,
// Romance, and Slavic clusters, each ordered by mutual closeness.
func DefaultChains() map[string][]string {
	return map[string][]string{
		"nb": {"no", "da", "nn", "sv"},
		"nn": {"no", "nb", "sv", "da"},
		"da": {"no", "nb", "sv", "nn"},
		"sv": {"no", "nb", "da", "nn"},
		"no": {"nb", "da", "nn", "sv"},
		"de": {"de-AT", "de-CH", "nl"},
		"nl": {"de"},
		"es": {"pt", "it", "fr"},
		"pt": {"es", "it", "fr"},
		"fr": {"es", "it", "pt"},
		"it": {"es", "fr", "pt"},
		"ru": {"uk", "be", "bg"},
		"uk": {"ru", "be", "pl"},
		"pl": {"cs", "sk"},
		"cs": {"sk", "pl"},
	}
}

// Resolver walks fallback chains over per-language label maps.
type Resolver struct {
	chains map[string][]string
	final  string
}

// New builds a resolver. Nil chains or an empty final language fall
// back to the defaults.
func New(chains map[string][]string, final string) *Resolver {
	if len(chains) == 0 {
		chains = DefaultChains()
	}
	if final == "" {
		final = DefaultFinal
	}
	copied := make(map[string][]string, len(chains))
	for lang, chain := range chains {
		copied[lang] = append([]string(nil), chain...)
	}
	return &Resolver{chains: copied, final: final}
}

// Default returns a resolver over the built-in chains.
func Default() *Resolver {
	return New(nil, "")
}

// Chain returns the full lookup order for a language: the language
// itself, its configured chain, then the final fallback, without
// duplicates.
func (r *Resolver) Chain(language string) []string {
	if language == "" {
		return []string{r.final}
	}

	out := make([]string, 0, len(r.chains[language])+2)
	seen := make(map[string]struct{}, cap(out))
	add := func(lang string) {
		if lang == "" {
			return
		}
		if _, dup := seen[lang]; dup {
			return
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}

	add(language)
	for _, lang := range r.chains[language] {
		add(lang)
	}
	add(r.final)
	return out
}

// Resolve picks the first label present along the language's chain.
// ok is false when no chain language has a label.
func (r *Resolver) Resolve(labels map[string]string, language string) (string, bool) {
	if len(labels) == 0 {
		return "", false
	}
	for _, lang := range r.Chain(language) {
		if label, ok := labels[lang]; ok && label != "" {
			return label, true
		}
	}
	return "", false
}
