package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxomat/taxomat/cache"
	"github.com/taxomat/taxomat/gate"
)

// fakeAdapter scripts upstream behavior for manager tests.
type fakeAdapter struct {
	name string

	lookupFn func(ctx context.Context, label, language string) ([]Candidate, error)
	labelsFn func(ctx context.Context, externalID string, languages []string) (map[string]string, error)

	lookups    atomic.Int32
	labelCalls atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Lookup(ctx context.Context, label, language string) ([]Candidate, error) {
	f.lookups.Add(1)
	return f.lookupFn(ctx, label, language)
}

func (f *fakeAdapter) Labels(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
	f.labelCalls.Add(1)
	return f.labelsFn(ctx, externalID, languages)
}

// testManager wires a manager with an in-memory cache and a gate that
// never paces, so tests exercise orchestration rather than timing.
func testManager(t *testing.T, adapters ...Adapter) *Manager {
	t.Helper()
	g := gate.New(gate.Config{
		FailureThreshold:  5,
		Cooldown:          time.Hour,
		MinInterval:       0,
		BackoffBase:       0,
		BackoffMultiplier: 1.0,
		MaxBackoff:        0,
	}, gate.WithLogger(discardLogger()))
	return NewManager(adapters, cache.NewMemory(), g, WithLogger(discardLogger()))
}

func matchingCandidate(source, label string) Candidate {
	return Candidate{
		Source:     source,
		ExternalID: "id:" + label,
		PrefLabel:  label,
		RawPath:    []string{"food", label},
		Confidence: 1.0,
	}
}

func TestManager_Lookup_CachesResults(t *testing.T) {
	adapter := &fakeAdapter{
		name: "off",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			return []Candidate{matchingCandidate("off", label)}, nil
		},
	}
	m := testManager(t, adapter)

	first, err := m.Lookup(context.Background(), "off", "tomato", "en", true)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := m.Lookup(context.Background(), "off", "tomato", "en", true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), adapter.lookups.Load())
}

func TestManager_Lookup_CachesNotFound(t *testing.T) {
	adapter := &fakeAdapter{
		name: "off",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			return nil, ErrNotFound
		},
	}
	m := testManager(t, adapter)

	_, err := m.Lookup(context.Background(), "off", "vogonite", "en", true)
	assert.True(t, IsNotFound(err))

	_, err = m.Lookup(context.Background(), "off", "vogonite", "en", true)
	assert.True(t, IsNotFound(err))

	assert.Equal(t, int32(1), adapter.lookups.Load())
}

func TestManager_Lookup_SanityRejectionCachesNegative(t *testing.T) {
	adapter := &fakeAdapter{
		name: "agrovoc",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			// A different sense of the word than the query asked for.
			return []Candidate{matchingCandidate("agrovoc", "litter for animals")}, nil
		},
	}
	m := testManager(t, adapter)

	_, err := m.Lookup(context.Background(), "agrovoc", "bedding", "en", true)
	require.Error(t, err)

	var sanityErr *SanityError
	assert.True(t, errors.As(err, &sanityErr))
	assert.True(t, IsNotFound(err))

	// The rejection was cached as a miss; the source is not asked again.
	_, err = m.Lookup(context.Background(), "agrovoc", "bedding", "en", true)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), adapter.lookups.Load())
}

func TestManager_Lookup_LanguagesAreSeparateEntries(t *testing.T) {
	adapter := &fakeAdapter{
		name: "off",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			return []Candidate{matchingCandidate("off", label)}, nil
		},
	}
	m := testManager(t, adapter)

	_, err := m.Lookup(context.Background(), "off", "tomato", "en", true)
	require.NoError(t, err)
	_, err = m.Lookup(context.Background(), "off", "tomato", "de", true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), adapter.lookups.Load())
}

func TestManager_Lookup_UnknownSource(t *testing.T) {
	m := testManager(t)

	_, err := m.Lookup(context.Background(), "nope", "tomato", "en", true)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}

func TestManager_Lookup_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	adapter := &fakeAdapter{
		name: "off",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			<-release
			return []Candidate{matchingCandidate("off", label)}, nil
		},
	}
	m := testManager(t, adapter)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]Candidate, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Lookup(context.Background(), "off", "tomato", "en", true)
		}(i)
	}

	// Let the callers pile onto the flight before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), adapter.lookups.Load())
}

func TestManager_Lookup_AbandonedWaitStillFillsCache(t *testing.T) {
	release := make(chan struct{})
	adapter := &fakeAdapter{
		name: "off",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			<-release
			return []Candidate{matchingCandidate("off", label)}, nil
		},
	}
	m := testManager(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Lookup(ctx, "off", "tomato", "en", true)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The detached fetch completes and lands in the cache.
	close(release)
	require.Eventually(t, func() bool {
		cands, err := m.Lookup(context.Background(), "off", "tomato", "en", true)
		return err == nil && len(cands) == 1 && adapter.lookups.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_Lookup_BreakerOpensAndFailsFast(t *testing.T) {
	adapter := &fakeAdapter{
		name: "dbpedia",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			return nil, NewTransientError(errors.New("upstream down"))
		},
	}
	g := gate.New(gate.Config{
		FailureThreshold:  1,
		Cooldown:          time.Hour,
		MinInterval:       0,
		BackoffBase:       0,
		BackoffMultiplier: 1.0,
		MaxBackoff:        0,
	}, gate.WithLogger(discardLogger()))
	m := NewManager([]Adapter{adapter}, cache.NewMemory(), g, WithLogger(discardLogger()))

	_, err := m.Lookup(context.Background(), "dbpedia", "tomato", "en", true)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	// Different label, same source: the open breaker answers, not the adapter.
	_, err = m.Lookup(context.Background(), "dbpedia", "basil", "en", false)
	assert.ErrorIs(t, err, gate.ErrCircuitOpen)
	assert.Equal(t, int32(1), adapter.lookups.Load())
}

func TestManager_Lookup_FailuresAreNotCached(t *testing.T) {
	var calls atomic.Int32
	adapter := &fakeAdapter{
		name: "off",
		lookupFn: func(ctx context.Context, label, language string) ([]Candidate, error) {
			if calls.Add(1) == 1 {
				return nil, NewTransientError(errors.New("flaky"))
			}
			return []Candidate{matchingCandidate("off", label)}, nil
		},
	}
	m := testManager(t, adapter)

	_, err := m.Lookup(context.Background(), "off", "tomato", "en", true)
	require.Error(t, err)

	cands, err := m.Lookup(context.Background(), "off", "tomato", "en", true)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
	assert.Equal(t, int32(2), adapter.lookups.Load())
}

func TestManager_Labels_CachedAndMerged(t *testing.T) {
	adapter := &fakeAdapter{name: "agrovoc"}
	adapter.labelsFn = func(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
		if adapter.labelCalls.Load() == 1 {
			return map[string]string{"en": "Tomatoes"}, nil
		}
		return map[string]string{"en": "SHOULD NOT WIN", "de": "Tomaten"}, nil
	}
	m := testManager(t, adapter)

	labels, err := m.Labels(context.Background(), "agrovoc", "http://example.org/c_1", []string{"en"}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "Tomatoes"}, labels)

	// Same language set is a pure cache hit.
	labels, err = m.Labels(context.Background(), "agrovoc", "http://example.org/c_1", []string{"en"}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "Tomatoes"}, labels)
	assert.Equal(t, int32(1), adapter.labelCalls.Load())

	// A new language refetches but never overwrites what is cached.
	labels, err = m.Labels(context.Background(), "agrovoc", "http://example.org/c_1", []string{"en", "de"}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "Tomatoes", "de": "Tomaten"}, labels)
	assert.Equal(t, int32(2), adapter.labelCalls.Load())
}

func TestManager_Labels_NegativeCached(t *testing.T) {
	adapter := &fakeAdapter{
		name: "agrovoc",
		labelsFn: func(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
			return nil, ErrNotFound
		},
	}
	m := testManager(t, adapter)

	_, err := m.Labels(context.Background(), "agrovoc", "http://example.org/missing", []string{"en"}, true)
	assert.True(t, IsNotFound(err))

	_, err = m.Labels(context.Background(), "agrovoc", "http://example.org/missing", []string{"en"}, true)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), adapter.labelCalls.Load())
}

func TestManager_Labels_SubsetServedFromCache(t *testing.T) {
	adapter := &fakeAdapter{
		name: "agrovoc",
		labelsFn: func(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
			return map[string]string{"en": "Tomatoes", "de": "Tomaten"}, nil
		},
	}
	m := testManager(t, adapter)

	_, err := m.Labels(context.Background(), "agrovoc", "http://example.org/c_1", []string{"en", "de"}, true)
	require.NoError(t, err)

	labels, err := m.Labels(context.Background(), "agrovoc", "http://example.org/c_1", []string{"de"}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"de": "Tomaten"}, labels)
	assert.Equal(t, int32(1), adapter.labelCalls.Load())
}

func TestManager_Sources_PreservesOrder(t *testing.T) {
	m := testManager(t,
		&fakeAdapter{name: "off"},
		&fakeAdapter{name: "agrovoc"},
		&fakeAdapter{name: "dbpedia"},
	)

	assert.Equal(t, []string{"off", "agrovoc", "dbpedia"}, m.Sources())
}

func TestManager_Statuses_CoverConfiguredSources(t *testing.T) {
	m := testManager(t,
		&fakeAdapter{name: "off"},
		&fakeAdapter{name: "agrovoc"},
	)

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "off", statuses[0].Source)
	assert.Equal(t, "agrovoc", statuses[1].Source)
	for _, st := range statuses {
		assert.Equal(t, "closed", st.State)
	}
}

func TestMergeLabelsPayload(t *testing.T) {
	prev := &labelsPayload{
		Languages: []string{"en"},
		Labels:    map[string]string{"en": "Tomatoes"},
	}

	merged := mergeLabelsPayload(prev, []string{"de", "en"}, map[string]string{"en": "LOSER", "de": "Tomaten"})

	assert.Equal(t, []string{"de", "en"}, merged.Languages)
	assert.Equal(t, map[string]string{"en": "Tomatoes", "de": "Tomaten"}, merged.Labels)
}

func TestCoversLanguages(t *testing.T) {
	assert.True(t, coversLanguages([]string{"de", "en"}, []string{"en"}))
	assert.True(t, coversLanguages([]string{"de", "en"}, []string{"en", "de"}))
	assert.False(t, coversLanguages([]string{"en"}, []string{"en", "de"}))
	assert.False(t, coversLanguages(nil, []string{"en"}))
	assert.True(t, coversLanguages(nil, nil))
}
