package service

import (
	"context"
	"fmt"

	"github.com/taxomat/taxomat/metrics"
	"github.com/taxomat/taxomat/vocabulary"
)

// Lookup resolves a term to its canonical concept. The current snapshot
// is consulted first; a miss runs the merge engine, waiting on gated
// upstreams when wait is true and failing fast to degraded placement
// when false.
func (s *Service) Lookup(ctx context.Context, term, language string, wait bool) (*vocabulary.Concept, error) {
	concepts, err := s.resolve(ctx, term, language, wait)
	if err != nil {
		return nil, err
	}
	return concepts[0], nil
}

// Expand returns the canonical path for every concept the term matches.
// Ambiguous synonyms yield multiple paths.
func (s *Service) Expand(ctx context.Context, term, language string, wait bool) ([]string, error) {
	concepts, err := s.resolve(ctx, term, language, wait)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(concepts))
	seen := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		if _, dup := seen[c.Path]; dup {
			continue
		}
		seen[c.Path] = struct{}{}
		paths = append(paths, c.Path)
	}
	return paths, nil
}

func (s *Service) resolve(ctx context.Context, term, language string, wait bool) ([]*vocabulary.Concept, error) {
	if vocabulary.NormalizeLabel(term) == "" {
		return nil, fmt.Errorf("empty term")
	}
	if language == "" {
		language = s.cfg.Language
	}

	s.mu.RLock()
	index, snapshot := s.index, s.snapshot
	engine := s.live
	if wait {
		engine = s.batch
	}
	s.mu.RUnlock()

	if ids := index.Lookup(term); len(ids) > 0 {
		concepts := make([]*vocabulary.Concept, 0, len(ids))
		for _, id := range ids {
			if node, ok := snapshot.Node(id); ok {
				concepts = append(concepts, node.Concept)
			}
		}
		if len(concepts) > 0 {
			metrics.Lookups.WithLabelValues("cached").Inc()
			return concepts, nil
		}
	}

	res, err := engine.Resolve(ctx, term, language)
	if err != nil {
		return nil, err
	}
	s.remember(term, language)
	return []*vocabulary.Concept{res.Concept}, nil
}

// Search returns snapshot concepts whose attested labels contain the
// query, up to limit.
func (s *Service) Search(query string, limit int) []*vocabulary.Concept {
	s.mu.RLock()
	index, snapshot := s.index, s.snapshot
	s.mu.RUnlock()

	ids := index.Search(query, limit)
	concepts := make([]*vocabulary.Concept, 0, len(ids))
	for _, id := range ids {
		if node, ok := snapshot.Node(id); ok {
			concepts = append(concepts, node.Concept)
		}
	}
	return concepts
}

// remember records a resolved term so the next rebuild folds it in even
// before its cache entries land.
func (s *Service) remember(term, language string) {
	normalized := vocabulary.NormalizeLabel(term)
	if normalized == "" {
		return
	}
	s.termsMu.Lock()
	s.terms[termKey{label: normalized, language: language}] = struct{}{}
	s.termsMu.Unlock()
}
