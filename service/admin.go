package service

import (
	"context"

	"github.com/taxomat/taxomat/cache"
)

// CacheStats summarizes the cache store contents.
type CacheStats struct {
	Backend  string `json:"backend"`
	Entries  int    `json:"entries"`
	Concepts int    `json:"concepts"`
	Labels   int    `json:"labels"`
}

// CacheStatistics counts stored entries by kind.
func (s *Service) CacheStatistics(ctx context.Context) (CacheStats, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	stats := CacheStats{Backend: s.cfg.Cache.Backend, Entries: len(keys)}
	for _, key := range keys {
		switch key.Kind {
		case cache.KindConcept:
			stats.Concepts++
		case cache.KindLabels:
			stats.Labels++
		}
	}
	return stats, nil
}

// PurgeCache deletes expired entries and reports how many were removed.
func (s *Service) PurgeCache(ctx context.Context) (int, error) {
	n, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Cache purged", "removed", n)
	}
	return n, nil
}

// ClearCache drops every cached entry. Resolved terms looked up this
// run are kept in the registry, so the next rebuild re-fetches them.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("Cache cleared")
	return nil
}
