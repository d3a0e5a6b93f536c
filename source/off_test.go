package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offFixture = `{
	"en:plant-based-foods-and-beverages": {
		"name": {"en": "Plant-based foods and beverages", "de": "Pflanzliche Lebensmittel und Getränke"},
		"children": ["en:plant-based-foods"]
	},
	"en:plant-based-foods": {
		"name": {"en": "Plant-based foods"},
		"parents": ["en:plant-based-foods-and-beverages"],
		"children": ["en:fruits"]
	},
	"en:fruits": {
		"name": {"en": "Fruits", "de": "Früchte"},
		"synonyms": {"en": ["fruit"]},
		"parents": ["en:plant-based-foods"],
		"children": ["en:tropical-fruits"]
	},
	"en:frozen-foods": {
		"name": {"en": "Frozen foods"},
		"children": ["en:tropical-fruits"]
	},
	"en:tropical-fruits": {
		"name": {"en": "Tropical fruits"},
		"parents": ["en:fruits", "en:frozen-foods"]
	},
	"en:walnuts": {
		"name": {"en": "Walnuts"}
	}
}`

// fixtureOFF builds an adapter over a pre-downloaded taxonomy file so
// tests never touch the network.
func fixtureOFF(t *testing.T) *OFF {
	t.Helper()
	file := filepath.Join(t.TempDir(), "off-categories.json")
	require.NoError(t, os.WriteFile(file, []byte(offFixture), 0o644))
	return &OFF{
		logger:    discardLogger(),
		file:      file,
		refresh:   24 * time.Hour,
		languages: []string{"en", "de"},
	}
}

func TestOFF_Lookup_ExactName(t *testing.T) {
	o := fixtureOFF(t)

	cands, err := o.Lookup(context.Background(), "Fruits", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "off", c.Source)
	assert.Equal(t, "en:fruits", c.ExternalID)
	assert.Equal(t, "Fruits", c.PrefLabel)
	assert.Equal(t, []string{"Plant-based foods and beverages", "Plant-based foods", "Fruits"}, c.RawPath)
	assert.Equal(t, []string{"en:plant-based-foods-and-beverages", "en:plant-based-foods", "en:fruits"}, c.RawPathIDs)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, map[string]string{"en": "Fruits", "de": "Früchte"}, c.Labels)
	assert.Equal(t, []string{"fruit"}, c.AltLabels["en"])
}

func TestOFF_Lookup_SynonymRanksLower(t *testing.T) {
	o := fixtureOFF(t)

	cands, err := o.Lookup(context.Background(), "fruit", "en")

	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "en:fruits", cands[0].ExternalID)
	assert.Equal(t, 0.8, cands[0].Confidence)
}

func TestOFF_Lookup_PluralVariation(t *testing.T) {
	o := fixtureOFF(t)

	cands, err := o.Lookup(context.Background(), "walnut", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "en:walnuts", cands[0].ExternalID)
	assert.Equal(t, 1.0, cands[0].Confidence)
	// No parents: the node itself is the whole route.
	assert.Equal(t, []string{"Walnuts"}, cands[0].RawPath)
}

func TestOFF_Lookup_DiamondYieldsOnePathPerRoute(t *testing.T) {
	o := fixtureOFF(t)

	cands, err := o.Lookup(context.Background(), "tropical fruits", "en")

	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, []string{"Plant-based foods and beverages", "Plant-based foods", "Fruits", "Tropical fruits"}, cands[0].RawPath)
	assert.Equal(t, []string{"Frozen foods", "Tropical fruits"}, cands[1].RawPath)
	for _, c := range cands {
		assert.Equal(t, "en:tropical-fruits", c.ExternalID)
	}
}

func TestOFF_Lookup_NotFound(t *testing.T) {
	o := fixtureOFF(t)

	_, err := o.Lookup(context.Background(), "quantum flux", "en")
	assert.True(t, IsNotFound(err))
}

func TestOFF_Lookup_GermanLabels(t *testing.T) {
	o := fixtureOFF(t)

	cands, err := o.Lookup(context.Background(), "fruits", "de")

	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "Früchte", cands[0].PrefLabel)
	// Ancestors without a German name fall back to English.
	assert.Equal(t, "Plant-based foods", cands[0].RawPath[1])
}

func TestOFF_Labels(t *testing.T) {
	o := fixtureOFF(t)

	labels, err := o.Labels(context.Background(), "en:fruits", []string{"en", "de", "fr"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "Fruits", "de": "Früchte"}, labels)
}

func TestOFF_Labels_UnknownID(t *testing.T) {
	o := fixtureOFF(t)

	_, err := o.Labels(context.Background(), "en:no-such-category", []string{"en"})
	assert.True(t, IsNotFound(err))
}

func TestOFF_Load_DownloadsWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(offFixture))
	}))
	defer server.Close()

	o := &OFF{
		client:    NewClient(5 * time.Second),
		logger:    discardLogger(),
		url:       server.URL,
		file:      filepath.Join(t.TempDir(), "off-categories.json"),
		refresh:   24 * time.Hour,
		languages: []string{"en"},
	}

	cands, err := o.Lookup(context.Background(), "fruits", "en")

	require.NoError(t, err)
	assert.NotEmpty(t, cands)

	_, err = os.Stat(o.file)
	assert.NoError(t, err)
}

func TestOFF_Load_StaleCopyServesWhenRefreshFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	file := filepath.Join(t.TempDir(), "off-categories.json")
	require.NoError(t, os.WriteFile(file, []byte(offFixture), 0o644))

	o := &OFF{
		client:    NewClient(5*time.Second, WithRetryConfig(testRetryConfig())),
		logger:    discardLogger(),
		url:       server.URL,
		file:      file,
		refresh:   time.Nanosecond, // force a refresh attempt
		languages: []string{"en"},
	}

	cands, err := o.Lookup(context.Background(), "fruits", "en")

	require.NoError(t, err)
	assert.NotEmpty(t, cands)
}

func TestOFF_Load_BadPayloadIsFatal(t *testing.T) {
	file := filepath.Join(t.TempDir(), "off-categories.json")
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0o644))

	o := &OFF{
		logger:    discardLogger(),
		file:      file,
		refresh:   24 * time.Hour,
		languages: []string{"en"},
	}

	_, err := o.Lookup(context.Background(), "fruits", "en")
	assert.True(t, IsFatal(err))
}
