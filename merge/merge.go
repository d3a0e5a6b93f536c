// Package merge reconciles classification candidates into canonical
// concepts. The engine consults the curated local vocabulary first, then
// the external sources in priority order, fixes one canonical path per
// query, and runs the translation gap-filling cascade over whatever
// sources matched. A failing source never aborts a resolution; with no
// usable source at all the query degrades to an unresolved concept under
// the uncategorized root.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/taxomat/taxomat/metrics"
	"github.com/taxomat/taxomat/rootmap"
	"github.com/taxomat/taxomat/source"
	"github.com/taxomat/taxomat/vocabulary"
)

// The two middle-priority sources the food-term preference rule swaps:
// an agricultural vocabulary answers food queries well and everything
// else badly, an encyclopedic one the other way around.
const (
	sourceAgrovoc = "agrovoc"
	sourceDBpedia = "dbpedia"
)

// Lookuper is the slice of the source manager the engine consumes.
type Lookuper interface {
	Lookup(ctx context.Context, sourceName, label, language string, wait bool) ([]source.Candidate, error)
	Labels(ctx context.Context, sourceName, externalID string, languages []string, wait bool) (map[string]string, error)
}

// Resolution is the outcome of resolving one query label.
type Resolution struct {
	// Concept is the entry the query resolved to.
	Concept *vocabulary.Concept

	// Concepts holds the resolved concept plus every ancestor the
	// resolution materialized, keyed by canonical path.
	Concepts map[string]*vocabulary.Concept

	// RawPaths records each consulted source's native hierarchy routes,
	// untouched, for the audit side-trees.
	RawPaths map[string][][]string
}

// DefaultPriority returns the source consultation order, highest first.
// The food-term preference swaps the middle two per query.
func DefaultPriority() []string {
	return []string{"off", sourceAgrovoc, sourceDBpedia, "wikidata"}
}

// Engine resolves query labels against the local vocabulary and the
// external sources. An engine is immutable once built; swap in a new one
// when the local vocabulary changes.
type Engine struct {
	sources   Lookuper
	local     map[string]*vocabulary.Concept
	index     *vocabulary.Index
	mapper    *rootmap.Mapper
	order     []string
	foodTerms map[string]struct{}
	language  string
	languages []string
	wait      bool
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMapper sets the root mapper.
func WithMapper(m *rootmap.Mapper) Option {
	return func(e *Engine) {
		e.mapper = m
	}
}

// WithPriority sets the source consultation order, highest first.
func WithPriority(order []string) Option {
	return func(e *Engine) {
		if len(order) > 0 {
			e.order = order
		}
	}
}

// WithFoodTerms replaces the curated food-term set.
func WithFoodTerms(terms []string) Option {
	return func(e *Engine) {
		if len(terms) == 0 {
			return
		}
		e.foodTerms = make(map[string]struct{}, len(terms))
		for _, t := range terms {
			e.foodTerms[vocabulary.NormalizeLabel(t)] = struct{}{}
		}
	}
}

// WithLanguages sets the primary language and the full set of languages
// the translation cascade fills.
func WithLanguages(primary string, all []string) Option {
	return func(e *Engine) {
		if primary != "" {
			e.language = primary
		}
		if len(all) > 0 {
			e.languages = all
		}
	}
}

// WithWait selects the gating mode for upstream fetches: queue behind
// in-flight work (batch rebuilds) or fail fast (interactive lookups).
func WithWait(wait bool) Option {
	return func(e *Engine) {
		e.wait = wait
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over a source manager and the local vocabulary.
func New(sources Lookuper, local map[string]*vocabulary.Concept, opts ...Option) *Engine {
	e := &Engine{
		sources:   sources,
		local:     local,
		index:     vocabulary.NewIndex(local),
		order:     DefaultPriority(),
		language:  "en",
		languages: []string{"en"},
		wait:      true,
		logger:    slog.Default(),
	}
	WithFoodTerms(DefaultFoodTerms())(e)
	for _, opt := range opts {
		opt(e)
	}
	if e.mapper == nil {
		e.mapper = rootmap.New(rootmap.Config{})
	}
	return e
}

// Resolve fixes a canonical concept for a query label. Local definitions
// win outright; otherwise sources are consulted in the effective priority
// order and the first candidate surviving the sanity filter decides the
// path. The error is non-nil only for an unusable query; source failures
// degrade the result instead of propagating.
func (e *Engine) Resolve(ctx context.Context, label, language string) (*Resolution, error) {
	normalized := vocabulary.NormalizeLabel(label)
	if normalized == "" {
		return nil, fmt.Errorf("empty label")
	}
	if language == "" {
		language = e.language
	}

	res := &Resolution{
		Concepts: make(map[string]*vocabulary.Concept),
		RawPaths: make(map[string][][]string),
	}

	if local := e.localConcept(normalized); local != nil {
		e.resolveLocal(ctx, res, local, normalized, language)
		metrics.Lookups.WithLabelValues("local").Inc()
		return res, nil
	}

	if e.resolveExternal(ctx, res, normalized, language) {
		metrics.Lookups.WithLabelValues("resolved").Inc()
	} else {
		metrics.Lookups.WithLabelValues("unresolved").Inc()
	}
	return res, nil
}

// localConcept returns the curated concept a normalized label maps to,
// or nil. Multiple matches resolve to the lowest concept ID.
func (e *Engine) localConcept(normalized string) *vocabulary.Concept {
	ids := e.index.Lookup(normalized)
	if len(ids) == 0 {
		return nil
	}
	return e.local[ids[0]]
}

// resolveLocal materializes a locally defined concept and its ancestors.
// The curated path is final; sources are only consulted to harvest an
// external identifier when the curation pinned none, and to fill
// missing-language labels.
func (e *Engine) resolveLocal(ctx context.Context, res *Resolution, local *vocabulary.Concept, normalized, language string) {
	segments := vocabulary.SplitPath(local.Path)
	for i := 1; i <= len(segments); i++ {
		prefix := vocabulary.JoinPath(segments[:i])
		if c, ok := e.local[prefix]; ok {
			res.Concepts[prefix] = c.Clone()
		}
	}
	vocabulary.EnsureAncestors(res.Concepts, local.Path, vocabulary.SourceLocal)
	res.Concept = res.Concepts[local.Path]

	if len(res.Concept.SourceURIs) == 0 {
		e.harvestURI(ctx, res, normalized, language)
	}
	e.fillLabels(ctx, res.Concept, language)
}

// harvestURI asks sources for an identifier for a locally placed
// concept. The first source with a surviving candidate contributes; its
// reported path is recorded for the audit but never moves the concept.
func (e *Engine) harvestURI(ctx context.Context, res *Resolution, normalized, language string) {
	for _, src := range e.effectiveOrder(normalized) {
		cands, err := e.sources.Lookup(ctx, src, normalized, language, e.wait)
		if err != nil {
			e.skipped(src, normalized, err)
			continue
		}
		if len(cands) == 0 {
			continue
		}
		recordRawPaths(res, src, cands)
		winner := cands[0]
		res.Concept.AddSourceURI(src, winner.ExternalID)
		if res.Concept.Description == "" {
			res.Concept.Description = winner.Description
		}
		if res.Concept.Link == "" {
			res.Concept.Link = winner.Link
		}
		return
	}
}

// resolveExternal consults sources in the effective priority order and
// builds the concept from the first surviving candidate. Returns false
// when no source produced one and the query degraded to unresolved.
func (e *Engine) resolveExternal(ctx context.Context, res *Resolution, normalized, language string) bool {
	var winner *source.Candidate
	var winnerSource string

	for _, src := range e.effectiveOrder(normalized) {
		cands, err := e.sources.Lookup(ctx, src, normalized, language, e.wait)
		if err != nil {
			e.skipped(src, normalized, err)
			continue
		}
		if len(cands) == 0 {
			continue
		}
		recordRawPaths(res, src, cands)
		winner = &cands[0]
		winnerSource = src

		// Prefer the first candidate whose route the mapper can place.
		for i := range cands {
			if _, ok := e.mapper.Normalize(src, cands[i].RawPath); ok {
				winner = &cands[i]
				break
			}
		}
		break
	}

	if winner == nil {
		e.degrade(res, normalized, language)
		return false
	}

	canonical, mapped := e.mapper.Normalize(winnerSource, winner.RawPath)
	var path string
	if mapped {
		path = vocabulary.JoinPath(canonical)
	} else {
		if len(winner.RawPath) > 0 {
			e.logger.Debug("Source route unmapped, placing under uncategorized",
				"source", winnerSource,
				"label", winner.PrefLabel,
				"raw_path", winner.RawPath)
		}
		path = "uncategorized" + vocabulary.PathSeparator + vocabulary.Slug(winner.PrefLabel)
	}

	concept := vocabulary.NewConcept(path, winner.PrefLabel)
	concept.Source = winnerSource
	concept.Description = winner.Description
	concept.Link = winner.Link
	concept.AddSourceURI(winnerSource, winner.ExternalID)
	concept.SetLabel(language, winner.PrefLabel)
	for lang, lbl := range winner.Labels {
		concept.SetLabel(lang, lbl)
	}
	for lang, syns := range winner.AltLabels {
		for _, syn := range syns {
			concept.AddAltLabel(lang, syn)
		}
	}
	// The query itself stays findable even when the source prefers
	// another spelling.
	concept.AddAltLabel(language, normalized)

	res.Concepts[path] = concept
	vocabulary.EnsureAncestors(res.Concepts, path, winnerSource)
	res.Concept = res.Concepts[path]

	if mapped {
		for prefix, id := range ancestorIDs(canonical, winner.RawPath, winner.RawPathIDs) {
			if ancestor, ok := res.Concepts[prefix]; ok {
				ancestor.AddSourceURI(winnerSource, id)
			}
		}
	}

	e.fillLabels(ctx, res.Concept, language)
	for _, c := range res.Concepts {
		if c != res.Concept && len(c.SourceURIs) > 0 {
			e.fillLabels(ctx, c, language)
		}
	}
	return true
}

// degrade records a query no source could place as an unresolved concept
// under the uncategorized root. Classification is best-effort enrichment;
// an unclassifiable term is kept, not rejected.
func (e *Engine) degrade(res *Resolution, normalized, language string) {
	path := "uncategorized" + vocabulary.PathSeparator + vocabulary.Slug(normalized)
	concept := vocabulary.NewConcept(path, normalized)
	concept.Source = vocabulary.SourceUnresolved
	concept.SetLabel(language, normalized)
	res.Concepts[path] = concept
	vocabulary.EnsureAncestors(res.Concepts, path, vocabulary.SourceUnresolved)
	res.Concept = res.Concepts[path]
}

// fillLabels runs the translation cascade for one concept: each source
// holding an identifier for it runs a phase in priority order, filling
// only languages still missing. SetLabel never overwrites, so an earlier
// phase always wins.
func (e *Engine) fillLabels(ctx context.Context, c *vocabulary.Concept, language string) {
	missing := e.missingLanguages(c)
	if len(missing) == 0 {
		return
	}
	for _, src := range e.order {
		uris := c.SourceURIs[src]
		if len(uris) == 0 {
			continue
		}
		labels, err := e.sources.Labels(ctx, src, uris[0], missing, e.wait)
		if err != nil {
			e.skipped(src, c.PrefLabel, err)
			continue
		}
		for lang, lbl := range labels {
			c.SetLabel(lang, lbl)
		}
		missing = e.missingLanguages(c)
		if len(missing) == 0 {
			return
		}
	}
}

// missingLanguages returns the configured languages a concept has no
// attested label for, sorted.
func (e *Engine) missingLanguages(c *vocabulary.Concept) []string {
	var missing []string
	for _, lang := range e.languages {
		if _, ok := c.Labels[lang]; !ok {
			missing = append(missing, lang)
		}
	}
	sort.Strings(missing)
	return missing
}

// skipped logs why a source contributed nothing to a resolution.
func (e *Engine) skipped(src, label string, err error) {
	e.logger.Debug("Source skipped during resolution",
		"source", src,
		"label", label,
		"error", err)
}

// recordRawPaths copies candidate routes into the resolution's audit
// record.
func recordRawPaths(res *Resolution, src string, cands []source.Candidate) {
	for _, c := range cands {
		if len(c.RawPath) == 0 {
			continue
		}
		res.RawPaths[src] = append(res.RawPaths[src], append([]string(nil), c.RawPath...))
	}
}
