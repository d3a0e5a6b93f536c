package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	agrovocApplesURI = "http://aims.fao.org/aos/agrovoc/c_541"
	agrovocFruitsURI = "http://aims.fao.org/aos/agrovoc/c_3032"
	agrovocPlantsURI = "http://aims.fao.org/aos/agrovoc/c_6211"
)

func sparqlResult(bindings ...string) string {
	return `{"head":{"vars":[]},"results":{"bindings":[` + strings.Join(bindings, ",") + `]}}`
}

func uriBinding(variable, value string) string {
	return `"` + variable + `":{"type":"uri","value":"` + value + `"}`
}

func literalBinding(variable, lang, value string) string {
	return `"` + variable + `":{"type":"literal","xml:lang":"` + lang + `","value":"` + value + `"}`
}

// agrovocTestServer scripts a three-level hierarchy:
// plant products > fruits > apples, with "swede" as an alternative
// label for rutabagas.
func agrovocTestServer(requests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		query := r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/sparql-results+json")

		switch {
		case strings.Contains(query, "skosxl:altLabel"):
			// Label search
			switch {
			case strings.Contains(query, `"apples"`):
				w.Write([]byte(sparqlResult(
					"{" + uriBinding("concept", agrovocApplesURI) + "," + literalBinding("prefLabel", "en", "apples") + "}",
				)))
			case strings.Contains(query, `"swede"`):
				w.Write([]byte(sparqlResult(
					"{" + uriBinding("concept", "http://aims.fao.org/aos/agrovoc/c_6645") + "," + literalBinding("prefLabel", "en", "rutabagas") + "}",
				)))
			default:
				w.Write([]byte(sparqlResult()))
			}

		case strings.Contains(query, "skos:broader"):
			switch {
			case strings.Contains(query, "<"+agrovocApplesURI+">"):
				w.Write([]byte(sparqlResult("{" + uriBinding("broader", agrovocFruitsURI) + "}")))
			case strings.Contains(query, "<"+agrovocFruitsURI+">"):
				w.Write([]byte(sparqlResult("{" + uriBinding("broader", agrovocPlantsURI) + "}")))
			default:
				w.Write([]byte(sparqlResult()))
			}

		default:
			// Preferred label fetch for one concept
			switch {
			case strings.Contains(query, "<"+agrovocFruitsURI+">"):
				w.Write([]byte(sparqlResult("{" + literalBinding("label", "en", "fruits") + "}")))
			case strings.Contains(query, "<"+agrovocPlantsURI+">"):
				w.Write([]byte(sparqlResult("{" + literalBinding("label", "en", "plant products") + "}")))
			case strings.Contains(query, "<"+agrovocApplesURI+">"):
				w.Write([]byte(sparqlResult(
					"{"+literalBinding("label", "en", "apples")+"}",
					"{"+literalBinding("label", "de", "Äpfel")+"}",
					"{"+literalBinding("label", "fr", "pomme")+"}",
				)))
			default:
				w.Write([]byte(sparqlResult()))
			}
		}
	}))
}

func testAgrovoc(serverURL string) *Agrovoc {
	return &Agrovoc{
		sparql: NewSPARQL(serverURL, NewClient(5*time.Second)),
		logger: discardLogger(),
	}
}

func TestAgrovoc_Lookup_WalksBroaderHierarchy(t *testing.T) {
	server := agrovocTestServer(nil)
	defer server.Close()

	a := testAgrovoc(server.URL)

	cands, err := a.Lookup(context.Background(), "apples", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "agrovoc", c.Source)
	assert.Equal(t, agrovocApplesURI, c.ExternalID)
	assert.Equal(t, "apples", c.PrefLabel)
	assert.Equal(t, []string{"plant products", "fruits", "apples"}, c.RawPath)
	assert.Equal(t, []string{agrovocPlantsURI, agrovocFruitsURI, agrovocApplesURI}, c.RawPathIDs)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, map[string]string{"en": "apples"}, c.Labels)
}

func TestAgrovoc_Lookup_SingularFindsPlural(t *testing.T) {
	server := agrovocTestServer(nil)
	defer server.Close()

	a := testAgrovoc(server.URL)

	cands, err := a.Lookup(context.Background(), "apple", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "apples", cands[0].PrefLabel)
	// Singular vs plural count as the same name.
	assert.Equal(t, 1.0, cands[0].Confidence)
}

func TestAgrovoc_Lookup_AltLabelMatchRanksLower(t *testing.T) {
	server := agrovocTestServer(nil)
	defer server.Close()

	a := testAgrovoc(server.URL)

	cands, err := a.Lookup(context.Background(), "swede", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "rutabagas", cands[0].PrefLabel)
	assert.Equal(t, 0.8, cands[0].Confidence)
}

func TestAgrovoc_Lookup_NotFound(t *testing.T) {
	server := agrovocTestServer(nil)
	defer server.Close()

	a := testAgrovoc(server.URL)

	_, err := a.Lookup(context.Background(), "quantum flux", "en")
	assert.True(t, IsNotFound(err))
}

func TestAgrovoc_Lookup_BrokenHierarchyKeepsConcept(t *testing.T) {
	// Two concepts whose broader edges point at each other.
	first := "http://aims.fao.org/aos/agrovoc/c_1"
	second := "http://aims.fao.org/aos/agrovoc/c_2"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		switch {
		case strings.Contains(query, "skosxl:altLabel"):
			w.Write([]byte(sparqlResult(
				"{" + uriBinding("concept", first) + "," + literalBinding("prefLabel", "en", "loops") + "}",
			)))
		case strings.Contains(query, "skos:broader"):
			if strings.Contains(query, "<"+first+">") {
				w.Write([]byte(sparqlResult("{" + uriBinding("broader", second) + "}")))
			} else {
				w.Write([]byte(sparqlResult("{" + uriBinding("broader", first) + "}")))
			}
		default:
			w.Write([]byte(sparqlResult("{" + literalBinding("label", "en", "loops") + "}")))
		}
	}))
	defer server.Close()

	a := testAgrovoc(server.URL)

	cands, err := a.Lookup(context.Background(), "loops", "en")

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Empty(t, cands[0].RawPath)
	assert.Equal(t, first, cands[0].ExternalID)
}

func TestAgrovoc_Labels(t *testing.T) {
	server := agrovocTestServer(nil)
	defer server.Close()

	a := testAgrovoc(server.URL)

	labels, err := a.Labels(context.Background(), agrovocApplesURI, []string{"en", "de"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "apples", "de": "Äpfel"}, labels)
}

func TestAgrovoc_Labels_InvalidIRI(t *testing.T) {
	var requests atomic.Int32
	server := agrovocTestServer(&requests)
	defer server.Close()

	a := testAgrovoc(server.URL)

	_, err := a.Labels(context.Background(), "not a uri", []string{"en"})

	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(0), requests.Load())
}

func TestValidIRI(t *testing.T) {
	tests := []struct {
		name string
		iri  string
		want bool
	}{
		{"https", "https://example.org/c/1", true},
		{"http", "http://aims.fao.org/aos/agrovoc/c_541", true},
		{"bare word", "apples", false},
		{"embedded quote", `http://example.org/"x`, false},
		{"embedded angle bracket", "http://example.org/x>", false},
		{"embedded space", "http://example.org/a b", false},
		{"embedded newline", "http://example.org/a\nb", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validIRI(tt.iri))
		})
	}
}
