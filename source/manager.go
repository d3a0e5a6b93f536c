package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taxomat/taxomat/cache"
	"github.com/taxomat/taxomat/gate"
	"github.com/taxomat/taxomat/metrics"
)

// Manager fronts all adapters with the shared lookup discipline:
// cache-first reads, per-source gating, request coalescing, sanity
// filtering, and write-through of every definitive outcome. Callers
// (the reconciliation engine, the CLI) never reach an adapter directly.
type Manager struct {
	adapters map[string]Adapter
	order    []string
	cache    cache.Store
	gate     *gate.Gate
	group    singleflight.Group

	ttl          time.Duration
	negativeTTL  time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL sets the positive and negative cache TTLs.
func WithTTL(positive, negative time.Duration) ManagerOption {
	return func(m *Manager) {
		m.ttl = positive
		m.negativeTTL = negative
	}
}

// WithFetchTimeout bounds a detached upstream fetch after its caller
// gives up waiting.
func WithFetchTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.fetchTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over the given adapters, in the order
// they are passed. That order is the consultation order exposed by
// Sources.
func NewManager(adapters []Adapter, store cache.Store, g *gate.Gate, opts ...ManagerOption) *Manager {
	m := &Manager{
		adapters:     make(map[string]Adapter, len(adapters)),
		cache:        store,
		gate:         g,
		ttl:          60 * 24 * time.Hour,
		negativeTTL:  7 * 24 * time.Hour,
		fetchTimeout: 2 * time.Minute,
		logger:       slog.Default(),
	}
	for _, a := range adapters {
		m.adapters[a.Name()] = a
		m.order = append(m.order, a.Name())
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sources returns adapter names in consultation order.
func (m *Manager) Sources() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Adapter returns a managed adapter by name.
func (m *Manager) Adapter(name string) (Adapter, bool) {
	a, ok := m.adapters[name]
	return a, ok
}

// Statuses exposes per-source gate state for the API.
func (m *Manager) Statuses() []gate.SourceStatus {
	out := make([]gate.SourceStatus, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.gate.Status(name))
	}
	return out
}

// Lookup returns candidates for a label from one source, cache-first.
// wait selects the gating mode: queue behind the in-flight fetch (batch
// rebuilds) or fail fast with gate.ErrBusy (interactive lookups).
// Concurrent identical lookups share one upstream fetch; a caller whose
// context expires abandons its wait while the fetch completes detached
// and lands in the cache for the next caller.
func (m *Manager) Lookup(ctx context.Context, sourceName, label, language string, wait bool) ([]Candidate, error) {
	if _, ok := m.adapters[sourceName]; !ok {
		return nil, fmt.Errorf("unknown source: %s", sourceName)
	}

	key := cache.ConceptKey(sourceName, label, language)
	if cands, served, err := m.lookupCached(ctx, key); served {
		return cands, err
	}

	// The flight runs detached from the initiating caller so an
	// abandoned wait does not waste the upstream work.
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
	ch := m.group.DoChan(key.String(), func() (any, error) {
		defer cancel()
		// A second racer may have populated the cache between our miss
		// and the flight starting.
		if cands, served, err := m.lookupCached(flightCtx, key); served {
			return cands, err
		}
		return m.fetchLookup(flightCtx, sourceName, label, language, wait)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Candidate), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookupCached serves a lookup from the cache. served is false on miss.
func (m *Manager) lookupCached(ctx context.Context, key cache.Key) (cands []Candidate, served bool, err error) {
	entry, getErr := m.cache.Get(ctx, key)
	switch {
	case getErr == nil:
		if entry.NotFound {
			metrics.CacheRequests.WithLabelValues(key.Source, "negative").Inc()
			return nil, true, ErrNotFound
		}
		metrics.CacheRequests.WithLabelValues(key.Source, "hit").Inc()
		if err := json.Unmarshal(entry.Payload, &cands); err != nil {
			m.logger.Warn("Corrupt cache payload, refetching", "key", key.String(), "error", err)
			return nil, false, nil
		}
		return cands, true, nil
	case errors.Is(getErr, cache.ErrMiss):
		metrics.CacheRequests.WithLabelValues(key.Source, "miss").Inc()
		return nil, false, nil
	default:
		// A broken cache degrades to uncached lookups, it never blocks them.
		m.logger.Warn("Cache read failed", "key", key.String(), "error", getErr)
		return nil, false, nil
	}
}

// fetchLookup performs the gated upstream fetch and writes the outcome
// through the cache.
func (m *Manager) fetchLookup(ctx context.Context, sourceName, label, language string, wait bool) ([]Candidate, error) {
	adapter := m.adapters[sourceName]

	permit, err := m.gate.Acquire(ctx, sourceName, wait)
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrCircuitOpen):
			metrics.SourceRequests.WithLabelValues(sourceName, "circuit_open").Inc()
		case errors.Is(err, gate.ErrBusy):
			metrics.SourceRequests.WithLabelValues(sourceName, "busy").Inc()
		}
		return nil, err
	}

	start := time.Now()
	cands, err := adapter.Lookup(ctx, label, language)
	metrics.SourceLatency.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())

	if err == nil {
		cands, err = filterPlausible(m.logger, sourceName, label, cands)
	}

	key := cache.ConceptKey(sourceName, label, language)
	switch {
	case err == nil:
		permit.Release(gate.OutcomeSuccess, 0)
		metrics.SourceRequests.WithLabelValues(sourceName, "success").Inc()
		if payload, err := json.Marshal(cands); err == nil {
			m.put(ctx, &cache.Entry{Key: key, Payload: payload, CachedAt: time.Now(), TTL: m.ttl})
		}
		return cands, nil

	case IsNotFound(err):
		// The source answered; a miss or a sanity rejection is a healthy
		// outcome worth remembering.
		permit.Release(gate.OutcomeNotFound, 0)
		metrics.SourceRequests.WithLabelValues(sourceName, "not_found").Inc()
		m.put(ctx, &cache.Entry{Key: key, NotFound: true, CachedAt: time.Now(), TTL: m.negativeTTL})
		return nil, err

	default:
		delay, limited := IsRateLimited(err)
		switch {
		case limited:
			permit.Release(gate.OutcomeRateLimited, delay)
			metrics.SourceRequests.WithLabelValues(sourceName, "rate_limited").Inc()
		case IsFatal(err):
			permit.Release(gate.OutcomeFatal, 0)
			metrics.SourceRequests.WithLabelValues(sourceName, "fatal").Inc()
		default:
			permit.Release(gate.OutcomeTransient, 0)
			metrics.SourceRequests.WithLabelValues(sourceName, "transient").Inc()
		}
		m.logger.Warn("Source lookup failed",
			"source", sourceName,
			"label", label,
			"language", language,
			"error", err)
		return nil, err
	}
}

// labelsPayload is the cached shape of a translation fetch: which
// languages have been asked for, and what the source knew.
type labelsPayload struct {
	Languages []string          `json:"languages"`
	Labels    map[string]string `json:"labels"`
}

// Labels returns a source's labels for one of its concepts, cache-first.
// Languages already fetched are served from cache; new languages trigger
// one gated fetch whose result merges into the cached entry, only ever
// growing it.
func (m *Manager) Labels(ctx context.Context, sourceName, externalID string, languages []string, wait bool) (map[string]string, error) {
	if _, ok := m.adapters[sourceName]; !ok {
		return nil, fmt.Errorf("unknown source: %s", sourceName)
	}
	if len(languages) == 0 {
		return map[string]string{}, nil
	}

	key := cache.LabelsKey(sourceName, externalID)
	cached, notFound := m.cachedLabels(ctx, key)
	if notFound {
		metrics.CacheRequests.WithLabelValues(sourceName, "negative").Inc()
		return nil, ErrNotFound
	}
	if cached != nil && coversLanguages(cached.Languages, languages) {
		metrics.CacheRequests.WithLabelValues(sourceName, "hit").Inc()
		return subsetLabels(cached.Labels, languages), nil
	}
	metrics.CacheRequests.WithLabelValues(sourceName, "miss").Inc()

	flightKey := key.String() + "|" + strings.Join(sortedCopy(languages), ",")
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
	ch := m.group.DoChan(flightKey, func() (any, error) {
		defer cancel()
		return m.fetchLabels(flightCtx, sourceName, externalID, languages)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cachedLabels loads the translation payload for a key. The payload is
// nil on miss; notFound marks a cached unknown-concept answer.
func (m *Manager) cachedLabels(ctx context.Context, key cache.Key) (payload *labelsPayload, notFound bool) {
	entry, err := m.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			m.logger.Warn("Cache read failed", "key", key.String(), "error", err)
		}
		return nil, false
	}
	if entry.NotFound {
		return nil, true
	}
	var p labelsPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		m.logger.Warn("Corrupt cache payload, refetching", "key", key.String(), "error", err)
		return nil, false
	}
	return &p, false
}

// fetchLabels performs the gated translation fetch and merges the
// result into the cached entry.
func (m *Manager) fetchLabels(ctx context.Context, sourceName, externalID string, languages []string) (map[string]string, error) {
	adapter := m.adapters[sourceName]

	permit, err := m.gate.Acquire(ctx, sourceName, true)
	if err != nil {
		if errors.Is(err, gate.ErrCircuitOpen) {
			metrics.SourceRequests.WithLabelValues(sourceName, "circuit_open").Inc()
		}
		return nil, err
	}

	start := time.Now()
	labels, err := adapter.Labels(ctx, externalID, languages)
	metrics.SourceLatency.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())

	key := cache.LabelsKey(sourceName, externalID)
	switch {
	case err == nil:
		permit.Release(gate.OutcomeSuccess, 0)
		metrics.SourceRequests.WithLabelValues(sourceName, "success").Inc()

		merged := &labelsPayload{Labels: labels, Languages: sortedCopy(languages)}
		// A fresh answer supersedes a cached negative entry.
		if prev, _ := m.cachedLabels(ctx, key); prev != nil {
			merged = mergeLabelsPayload(prev, languages, labels)
		}
		if payload, err := json.Marshal(merged); err == nil {
			m.put(ctx, &cache.Entry{Key: key, Payload: payload, CachedAt: time.Now(), TTL: m.ttl})
		}
		return subsetLabels(merged.Labels, languages), nil

	case IsNotFound(err):
		permit.Release(gate.OutcomeNotFound, 0)
		metrics.SourceRequests.WithLabelValues(sourceName, "not_found").Inc()
		m.put(ctx, &cache.Entry{Key: key, NotFound: true, CachedAt: time.Now(), TTL: m.negativeTTL})
		return nil, err

	default:
		delay, limited := IsRateLimited(err)
		switch {
		case limited:
			permit.Release(gate.OutcomeRateLimited, delay)
			metrics.SourceRequests.WithLabelValues(sourceName, "rate_limited").Inc()
		case IsFatal(err):
			permit.Release(gate.OutcomeFatal, 0)
			metrics.SourceRequests.WithLabelValues(sourceName, "fatal").Inc()
		default:
			permit.Release(gate.OutcomeTransient, 0)
			metrics.SourceRequests.WithLabelValues(sourceName, "transient").Inc()
		}
		m.logger.Warn("Label fetch failed",
			"source", sourceName,
			"external_id", externalID,
			"error", err)
		return nil, err
	}
}

// put writes a cache entry, logging instead of failing the lookup when
// the cache is unavailable.
func (m *Manager) put(ctx context.Context, e *cache.Entry) {
	if err := m.cache.Put(ctx, e); err != nil {
		m.logger.Warn("Cache write failed", "key", e.Key.String(), "error", err)
	}
}

// mergeLabelsPayload unions a fresh fetch into a cached payload.
// Existing labels win so repeated fetches never flap.
func mergeLabelsPayload(prev *labelsPayload, languages []string, fetched map[string]string) *labelsPayload {
	merged := &labelsPayload{
		Labels: make(map[string]string, len(prev.Labels)+len(fetched)),
	}
	for lang, label := range fetched {
		merged.Labels[lang] = label
	}
	for lang, label := range prev.Labels {
		merged.Labels[lang] = label
	}

	seen := make(map[string]struct{}, len(prev.Languages)+len(languages))
	for _, lang := range prev.Languages {
		seen[lang] = struct{}{}
	}
	for _, lang := range languages {
		seen[lang] = struct{}{}
	}
	for lang := range seen {
		merged.Languages = append(merged.Languages, lang)
	}
	sort.Strings(merged.Languages)
	return merged
}

func coversLanguages(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, lang := range have {
		set[lang] = struct{}{}
	}
	for _, lang := range want {
		if _, ok := set[lang]; !ok {
			return false
		}
	}
	return true
}

func subsetLabels(labels map[string]string, languages []string) map[string]string {
	out := make(map[string]string, len(languages))
	for _, lang := range languages {
		if label, ok := labels[lang]; ok {
			out[lang] = label
		}
	}
	return out
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}
