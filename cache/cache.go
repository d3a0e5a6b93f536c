// Package cache provides the durable, TTL-based lookup-result store
// shared by all source adapters. Entries are keyed by (source, label,
// language) and may record either resolved candidates or an explicit
// not-found sentinel with its own, shorter TTL.
//
// Backends differ in durability and sharing (in-process memory, a local
// SQLite file, a NATS JetStream KV bucket, a Redis server) but share one
// contract: per-key atomic upserts, concurrent readers, and read-side
// expiry so TTL semantics are identical everywhere.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned by Get when no live entry exists for a key.
// An expired entry is a miss.
var ErrMiss = errors.New("cache: miss")

// Entry kinds.
const (
	// KindConcept caches a concept lookup result for (source, label, language).
	KindConcept = "concept"
	// KindLabels caches a translation fetch for an external identifier.
	KindLabels = "labels"
)

// Key identifies one cached result.
type Key struct {
	Kind     string `json:"kind"`
	Source   string `json:"source"`
	Label    string `json:"label"`
	Language string `json:"language,omitempty"`
}

// ConceptKey builds the key for a concept lookup. The label is
// lowercased so lookups are case-insensitive.
func ConceptKey(source, label, language string) Key {
	return Key{Kind: KindConcept, Source: source, Label: strings.ToLower(label), Language: language}
}

// LabelsKey builds the key for a cached translation fetch. The external
// identifier takes the label position; no language applies since the
// payload carries a per-language map.
func LabelsKey(source, externalID string) Key {
	return Key{Kind: KindLabels, Source: source, Label: externalID}
}

// String renders the canonical key form, e.g. "concept:agrovoc:en:potato".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Kind, k.Source, k.Language, k.Label)
}

// Entry is one cached lookup result.
type Entry struct {
	Key Key `json:"key"`

	// NotFound marks a definitive no-match from the source. Not-found
	// entries are positive results with their own TTL, so a fruitless
	// label is not re-fetched until the negative TTL expires.
	NotFound bool `json:"not_found,omitempty"`

	// Payload carries the serialized result (candidates or label map).
	// The cache does not interpret it.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`

	// TTL bounds the entry's life from CachedAt. Zero means no expiry.
	TTL time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CachedAt) > e.TTL
}

// Store is the cache contract shared by all backends.
type Store interface {
	// Get returns the live entry for a key, or ErrMiss when absent or
	// expired.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put upserts an entry atomically under its key.
	Put(ctx context.Context, e *Entry) error

	// Keys lists all stored keys, including expired ones. Used by the
	// rebuild pass to enumerate accumulated results and by PurgeExpired.
	Keys(ctx context.Context) ([]Key, error)

	// PurgeExpired removes expired entries and reports how many.
	PurgeExpired(ctx context.Context) (int, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// encodeKey flattens a Key for backends with a flat keyspace. The unit
// separator keeps the four fields unambiguous whatever the label holds.
func encodeKey(k Key) string {
	return k.Kind + "\x1f" + k.Source + "\x1f" + k.Language + "\x1f" + k.Label
}

func decodeKey(s string) (Key, error) {
	parts := strings.SplitN(s, "\x1f", 4)
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("cache: malformed key %q", s)
	}
	return Key{Kind: parts[0], Source: parts[1], Language: parts[2], Label: parts[3]}, nil
}

func marshalEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal entry: %w", err)
	}
	return data, nil
}

func unmarshalEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("cache: unmarshal entry: %w", err)
	}
	return &e, nil
}
