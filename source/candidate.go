// Package source integrates the external classification providers. Each
// adapter wraps one upstream (Open Food Facts, AGROVOC, DBpedia,
// Wikidata) behind a uniform lookup contract; the Manager layers
// caching, per-source gating and request coalescing on top so callers
// never talk to an upstream directly.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Candidate is one possible classification of a query label as reported
// by a single source. A lookup returns a ranked list; the reconciliation
// engine picks between candidates from different sources.
type Candidate struct {
	// Source is the reporting adapter's name.
	Source string `json:"source"`

	// ExternalID is the source's own identifier for the matched concept
	// (a URI for SPARQL sources, a node id for OFF, a Q-id for Wikidata).
	ExternalID string `json:"external_id"`

	// PrefLabel is the source's preferred label for the matched concept
	// in the query language.
	PrefLabel string `json:"pref_label"`

	// RawPath is the source's untouched hierarchy route, root first,
	// exactly as the source reports it. Nil when the source exposes no
	// usable hierarchy.
	RawPath []string `json:"raw_path,omitempty"`

	// RawPathIDs carries the source's identifier for each RawPath
	// segment, aligned by index, empty string where the source has
	// none. Lets ancestors inherit identifiers and translations.
	RawPathIDs []string `json:"raw_path_ids,omitempty"`

	// Labels carries per-language preferred labels known at lookup time.
	Labels map[string]string `json:"labels,omitempty"`

	// AltLabels carries per-language synonyms known at lookup time.
	AltLabels map[string][]string `json:"alt_labels,omitempty"`

	// Description is a short free-text gloss, when the source has one.
	Description string `json:"description,omitempty"`

	// Link is an external reference page for the concept.
	Link string `json:"link,omitempty"`

	// Confidence ranks candidates from the same source: 1.0 for a
	// preferred-name match, lower for synonym matches.
	Confidence float64 `json:"confidence"`
}

// pathStep pairs one hierarchy segment with the source's identifier
// for it, as adapters walk a source's hierarchy.
type pathStep struct {
	id    string
	label string
}

// splitSteps unzips steps into aligned label and id slices for a
// Candidate's RawPath and RawPathIDs.
func splitSteps(steps []pathStep) (labels, ids []string) {
	labels = make([]string, len(steps))
	ids = make([]string, len(steps))
	for i, step := range steps {
		labels[i] = step.label
		ids[i] = step.id
	}
	return labels, ids
}

// Adapter is the uniform contract each external source implements.
type Adapter interface {
	// Name returns the source identifier (e.g., "off", "agrovoc").
	Name() string

	// Lookup finds candidates for a label in a language. A definitive
	// no-match returns ErrNotFound; upstream trouble returns a
	// transient, rate-limited or fatal error.
	Lookup(ctx context.Context, label, language string) ([]Candidate, error)

	// Labels fetches the source's preferred labels for one of its
	// concepts in the requested languages, for translation gap-filling.
	Labels(ctx context.Context, externalID string, languages []string) (map[string]string, error)
}

// Settings carries the per-source configuration an adapter factory
// needs. Fields irrelevant to a given source are ignored by it.
type Settings struct {
	// Endpoint is the query URL (SPARQL endpoint or REST API base).
	Endpoint string

	// TaxonomyURL is the static taxonomy download location (OFF).
	TaxonomyURL string

	// Refresh bounds the age of a downloaded taxonomy before it is
	// fetched again (OFF).
	Refresh time.Duration

	// DataDir is where downloaded source data lives.
	DataDir string

	// Languages are the label languages the service materializes.
	Languages []string
}

// Factory builds an adapter from its settings and the shared HTTP client.
type Factory func(s Settings, c *Client, logger *slog.Logger) (Adapter, error)

// adapterRegistry holds registered adapter factories.
var (
	adapterRegistry = make(map[string]Factory)
	adapterMu       sync.RWMutex
)

// Register adds an adapter factory to the registry.
func Register(name string, f Factory) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	adapterRegistry[name] = f
}

// New constructs a registered adapter by name.
func New(name string, s Settings, c *Client, logger *slog.Logger) (Adapter, error) {
	adapterMu.RLock()
	f, ok := adapterRegistry[name]
	adapterMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", name)
	}
	return f(s, c, logger)
}

// Registered returns all registered adapter names, sorted.
func Registered() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()

	names := make([]string, 0, len(adapterRegistry))
	for name := range adapterRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
