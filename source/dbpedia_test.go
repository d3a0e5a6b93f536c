package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dbpediaAppleURI = "http://dbpedia.org/resource/Apple"

func categoryBinding(uri, label string) string {
	return "{" + uriBinding("category", uri) + "," + literalBinding("catLabel", "en", label) + "}"
}

// dbpediaTestServer scripts the Apple resource with a mix of real and
// maintenance categories.
func dbpediaTestServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/sparql-results+json")

		switch {
		case strings.Contains(query, "dct:subject"):
			w.Write([]byte(sparqlResult(
				categoryBinding("http://dbpedia.org/resource/Category:Apples", "Apples"),
				categoryBinding("http://dbpedia.org/resource/Category:Articles_containing_video_clips", "Articles containing video clips"),
				categoryBinding("http://dbpedia.org/resource/Category:Malus", "Malus"),
				categoryBinding("http://dbpedia.org/resource/Category:Use_dmy_dates", "Use dmy dates from March 2021"),
				categoryBinding("http://dbpedia.org/resource/Category:Fruits_originating_in_Asia", "Fruits originating in Asia"),
			)))

		case strings.Contains(query, "strstarts"):
			// Resource search
			if strings.Contains(query, `"apple"`) {
				w.Write([]byte(sparqlResult(
					"{" +
						uriBinding("concept", dbpediaAppleURI) + "," +
						literalBinding("label", "en", "Apple") + "," +
						literalBinding("abstract", "en", "An apple is a round, edible fruit produced by an apple tree.") + "," +
						uriBinding("page", "https://en.wikipedia.org/wiki/Apple") +
						"}",
				)))
			} else {
				w.Write([]byte(sparqlResult()))
			}

		default:
			// Label fetch for one resource
			w.Write([]byte(sparqlResult(
				"{"+literalBinding("label", "en", "Apple")+"}",
				"{"+literalBinding("label", "de", "Apfel")+"}",
				"{"+literalBinding("label", "fr", "Pomme")+"}",
			)))
		}
	}))
}

func testDBpedia(serverURL string) *DBpedia {
	return &DBpedia{
		sparql: NewSPARQL(serverURL, NewClient(5*time.Second, WithRetryConfig(testRetryConfig()))),
		logger: discardLogger(),
	}
}

func TestDBpedia_Lookup_BuildsCategoryPaths(t *testing.T) {
	server := dbpediaTestServer()
	defer server.Close()

	d := testDBpedia(server.URL)

	cands, err := d.Lookup(context.Background(), "apple", "en")

	require.NoError(t, err)
	require.Len(t, cands, 3)

	for _, c := range cands {
		assert.Equal(t, "dbpedia", c.Source)
		assert.Equal(t, dbpediaAppleURI, c.ExternalID)
		assert.Equal(t, "Apple", c.PrefLabel)
		assert.Equal(t, "An apple is a round, edible fruit produced by an apple tree.", c.Description)
		assert.Equal(t, "https://en.wikipedia.org/wiki/Apple", c.Link)
		assert.Equal(t, 1.0, c.Confidence)
		require.Len(t, c.RawPath, 2)
		assert.Equal(t, "Apple", c.RawPath[1])
	}

	assert.Equal(t, "Apples", cands[0].RawPath[0])
	assert.Equal(t, "Malus", cands[1].RawPath[0])
	assert.Equal(t, "Fruits originating in Asia", cands[2].RawPath[0])
	assert.Equal(t, "http://dbpedia.org/resource/Category:Apples", cands[0].RawPathIDs[0])
}

func TestDBpedia_Lookup_OnlyMetaCategoriesKeepsPathlessMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		switch {
		case strings.Contains(query, "dct:subject"):
			w.Write([]byte(sparqlResult(
				categoryBinding("http://dbpedia.org/resource/Category:CS1_maint", "CS1 maint: archived copy as title"),
				categoryBinding("http://dbpedia.org/resource/Category:Wikipedia_articles", "Wikipedia articles with GND identifiers"),
			)))
		default:
			w.Write([]byte(sparqlResult(
				"{" + uriBinding("concept", dbpediaAppleURI) + "," + literalBinding("label", "en", "Apple") + "}",
			)))
		}
	}))
	defer server.Close()

	d := testDBpedia(server.URL)

	cands, err := d.Lookup(context.Background(), "apple", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Empty(t, cands[0].RawPath)
	assert.Equal(t, "Apple", cands[0].PrefLabel)
}

func TestDBpedia_Lookup_CategoryFetchFailureKeepsMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if strings.Contains(query, "dct:subject") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sparqlResult(
			"{" + uriBinding("concept", dbpediaAppleURI) + "," + literalBinding("label", "en", "Apple") + "}",
		)))
	}))
	defer server.Close()

	d := testDBpedia(server.URL)

	cands, err := d.Lookup(context.Background(), "apple", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Empty(t, cands[0].RawPath)
}

func TestDBpedia_Lookup_NotFound(t *testing.T) {
	server := dbpediaTestServer()
	defer server.Close()

	d := testDBpedia(server.URL)

	_, err := d.Lookup(context.Background(), "quantum flux", "en")
	assert.True(t, IsNotFound(err))
}

func TestDBpedia_Labels(t *testing.T) {
	server := dbpediaTestServer()
	defer server.Close()

	d := testDBpedia(server.URL)

	labels, err := d.Labels(context.Background(), dbpediaAppleURI, []string{"de", "fr"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"de": "Apfel", "fr": "Pomme"}, labels)
}

func TestIrrelevantCategory(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"Fruits originating in Asia", false},
		{"Malus", false},
		{"Staple foods", false},
		{"Articles containing video clips", true},
		{"Wikipedia articles with GND identifiers", true},
		{"CS1 maint: archived copy as title", true},
		{"Use dmy dates from March 2021", true},
		{"Webarchive template wayback links", true},
		{"All stub articles", true},
		{"Commons category link is on Wikidata", true},
		{"Disambiguation pages", true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, irrelevantCategory(tt.label))
		})
	}
}
