package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taxomat/taxomat/cache"
	"github.com/taxomat/taxomat/merge"
	"github.com/taxomat/taxomat/metrics"
	"github.com/taxomat/taxomat/tree"
	"github.com/taxomat/taxomat/vocabulary"
)

// Rebuild recomputes the tree from the curated vocabulary and every
// accumulated term, then publishes the result. Terms come from the
// cache and from lookups this run; resolution is cache-first, so only
// expired entries reach upstreams.
func (s *Service) Rebuild(ctx context.Context) (*tree.Tree, error) {
	return s.rebuild(ctx, "manual")
}

func (s *Service) rebuild(ctx context.Context, trigger string) (*tree.Tree, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	start := time.Now()

	if err := s.reloadVocabulary(); err != nil {
		s.logger.Warn("Vocabulary reload failed, keeping previous set", "error", err)
	}

	terms := s.collectTerms(ctx)

	s.mu.RLock()
	engine := s.batch
	local := s.local
	prev := s.snapshot
	s.mu.RUnlock()

	results := make([]*merge.Resolution, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism())
	for i, term := range terms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := engine.Resolve(gctx, term.label, term.language)
			if err != nil {
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	concepts, raw := s.fold(local, results)
	tr, err := tree.Build(concepts, raw, prev, s.treeConfig())
	if err != nil {
		return nil, err
	}
	s.publish(tr)

	metrics.TreeBuilds.WithLabelValues(trigger).Inc()
	metrics.TreeConcepts.Set(float64(len(tr.Nodes)))
	s.logger.Info("Tree rebuilt",
		"trigger", trigger,
		"terms", len(terms),
		"concepts", len(tr.Nodes),
		"promoted", tr.Meta.Promoted,
		"dropped", tr.Meta.Dropped,
		"duration", time.Since(start).Round(time.Millisecond))
	return tr, nil
}

// collectTerms merges the in-run term registry with the terms recorded
// in the cache, sorted so resolutions fold deterministically.
func (s *Service) collectTerms(ctx context.Context) []termKey {
	set := make(map[termKey]struct{})

	s.termsMu.Lock()
	for term := range s.terms {
		set[term] = struct{}{}
	}
	s.termsMu.Unlock()

	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.logger.Warn("Cache enumeration failed, using in-run terms only", "error", err)
	}
	for _, key := range keys {
		if key.Kind != cache.KindConcept {
			continue
		}
		label := vocabulary.NormalizeLabel(key.Label)
		if label == "" {
			continue
		}
		set[termKey{label: label, language: key.Language}] = struct{}{}
	}

	terms := make([]termKey, 0, len(set))
	for term := range set {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].label != terms[j].label {
			return terms[i].label < terms[j].label
		}
		return terms[i].language < terms[j].language
	})
	return terms
}

// fold layers resolution results over a fresh copy of the curated
// concepts. Results apply in term order, so a re-run over the same
// inputs folds identically.
func (s *Service) fold(local map[string]*vocabulary.Concept, results []*merge.Resolution) (map[string]*vocabulary.Concept, map[string][][]string) {
	concepts := make(map[string]*vocabulary.Concept, len(local))
	for id, c := range local {
		concepts[id] = c.Clone()
	}

	raw := make(map[string][][]string)
	seenRoutes := make(map[string]struct{})
	for _, res := range results {
		if res == nil {
			continue
		}
		for id, c := range res.Concepts {
			foldConcept(concepts, id, c)
		}
		for src, routes := range res.RawPaths {
			for _, route := range routes {
				key := src + "\x1f" + strings.Join(route, "\x1f")
				if _, dup := seenRoutes[key]; dup {
					continue
				}
				seenRoutes[key] = struct{}{}
				raw[src] = append(raw[src], route)
			}
		}
	}
	return concepts, raw
}

// foldConcept merges one resolved concept into the accumulated set.
// The first occurrence fixes preferred label and placement; later ones
// only contribute identifiers, labels and enrichment.
func foldConcept(concepts map[string]*vocabulary.Concept, id string, c *vocabulary.Concept) {
	existing, ok := concepts[id]
	if !ok {
		concepts[id] = c
		return
	}
	existing.MergeSourceURIs(c)
	for lang, label := range c.Labels {
		existing.SetLabel(lang, label)
	}
	for lang, alts := range c.AltLabels {
		for _, alt := range alts {
			existing.AddAltLabel(lang, alt)
		}
	}
	if existing.Description == "" {
		existing.Description = c.Description
	}
	if existing.Link == "" {
		existing.Link = c.Link
	}
}

// parallelism bounds concurrent term resolutions during a rebuild. One
// worker per source keeps every gate busy without queue pileups.
func (s *Service) parallelism() int {
	if n := len(s.priority); n > 1 {
		return n
	}
	return 1
}
