package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyEncodeDecode(t *testing.T) {
	tests := []Key{
		ConceptKey("agrovoc", "Potato", "en"),
		ConceptKey("off", "frozen foods", "nb"),
		LabelsKey("wikidata", "Q10998"),
		LabelsKey("off", "en:plant-based-foods"),
	}

	for _, key := range tests {
		decoded, err := decodeKey(encodeKey(key))
		if err != nil {
			t.Fatalf("decodeKey(%v): %v", key, err)
		}
		if decoded != key {
			t.Errorf("roundtrip %v -> %v", key, decoded)
		}
	}

	if _, err := decodeKey("garbage"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestConceptKeyLowercasesLabel(t *testing.T) {
	a := ConceptKey("agrovoc", "Potato", "en")
	b := ConceptKey("agrovoc", "potato", "en")
	if a != b {
		t.Errorf("keys differ: %v vs %v", a, b)
	}
}

func TestEntryExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		e    Entry
		want bool
	}{
		{"live", Entry{CachedAt: now.Add(-time.Hour), TTL: 2 * time.Hour}, false},
		{"expired", Entry{CachedAt: now.Add(-3 * time.Hour), TTL: 2 * time.Hour}, true},
		{"no ttl", Entry{CachedAt: now.Add(-1000 * time.Hour)}, false},
	}

	for _, tt := range tests {
		if got := tt.e.Expired(now); got != tt.want {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// storeUnderTest exercises the shared Store contract against a backend.
func storeUnderTest(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	key := ConceptKey("agrovoc", "potato", "en")
	if _, err := store.Get(ctx, key); err != ErrMiss {
		t.Fatalf("Get on empty store = %v, want ErrMiss", err)
	}

	payload, _ := json.Marshal(map[string]string{"uri": "c_13551"})
	entry := &Entry{Key: key, Payload: payload, CachedAt: time.Now(), TTL: time.Hour}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.NotFound {
		t.Error("entry unexpectedly marked not-found")
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("payload = %s", got.Payload)
	}

	// Upsert replaces in place.
	entry.NotFound = true
	entry.Payload = nil
	if err := store.Put(ctx, entry); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NotFound {
		t.Error("upsert did not replace entry")
	}

	// Expired entries are misses and purgeable.
	stale := &Entry{
		Key:      ConceptKey("agrovoc", "bygone", "en"),
		CachedAt: time.Now().Add(-48 * time.Hour),
		TTL:      time.Hour,
	}
	if err := store.Put(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, stale.Key); err != ErrMiss {
		t.Errorf("expired Get = %v, want ErrMiss", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys = %v, want 2 entries (expired included)", keys)
	}

	purged, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	keys, err = store.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys after Clear = %v", keys)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	storeUnderTest(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	storeUnderTest(t, store)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	key := ConceptKey("off", "carrot", "en")
	entry := &Entry{Key: key, NotFound: true, CachedAt: time.Now(), TTL: time.Hour}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NotFound {
		t.Error("persisted entry lost not-found flag")
	}
}

func TestMemoryReadSideExpiry(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	store.SetNow(func() time.Time { return now })

	key := ConceptKey("dbpedia", "bedding", "en")
	if err := store.Put(ctx, &Entry{Key: key, NotFound: true, CachedAt: now, TTL: time.Minute}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("fresh entry: %v", err)
	}

	// Advance past the TTL without any real waiting.
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, key); err != ErrMiss {
		t.Errorf("stale entry Get = %v, want ErrMiss", err)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*Memory); !ok {
		t.Errorf("Open(memory) = %T", store)
	}

	store, err = Open(ctx, Options{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*SQLite); !ok {
		t.Errorf("Open(sqlite) = %T", store)
	}
	_ = store.Close()

	if _, err := Open(ctx, Options{Backend: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
