package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taxomat/taxomat/vocabulary"
)

// dbpediaName is the DBpedia adapter identifier.
const dbpediaName = "dbpedia"

// dbpediaEndpoint is the public DBpedia SPARQL endpoint.
const dbpediaEndpoint = "https://dbpedia.org/sparql"

const (
	// dbpediaMaxCategories caps how many subject categories become
	// hierarchy paths after the meta-category filter.
	dbpediaMaxCategories = 3
	dbpediaFetchLimit    = 5
)

func init() {
	Register(dbpediaName, newDBpedia)
}

// DBpedia looks concepts up as DBpedia resources. The category graph
// behind dct:subject is a folksonomy rather than a taxonomy, so paths
// stay shallow: one subject category above the concept, and editorial
// bookkeeping categories are dropped entirely.
type DBpedia struct {
	sparql *SPARQL
	logger *slog.Logger
}

func newDBpedia(s Settings, c *Client, logger *slog.Logger) (Adapter, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = dbpediaEndpoint
	}
	return &DBpedia{
		sparql: NewSPARQL(endpoint, c),
		logger: logger,
	}, nil
}

// Name returns the source identifier.
func (d *DBpedia) Name() string {
	return dbpediaName
}

// Lookup matches the label against resource labels, trying
// singular/plural variations, and turns the surviving subject
// categories into two-segment paths.
func (d *DBpedia) Lookup(ctx context.Context, label, language string) ([]Candidate, error) {
	forms := searchForms(label)

	query := fmt.Sprintf(`
PREFIX dbo: <http://dbpedia.org/ontology/>
PREFIX foaf: <http://xmlns.com/foaf/0.1/>

SELECT DISTINCT ?concept ?label ?abstract ?page WHERE {
    ?concept rdfs:label ?label .
    FILTER(lang(?label) = "%s" && lcase(str(?label)) IN (%s))
    FILTER(!strstarts(str(?concept), "http://dbpedia.org/resource/Category:"))
    OPTIONAL { ?concept dbo:abstract ?abstract . FILTER(lang(?abstract) = "%s") }
    OPTIONAL { ?concept foaf:isPrimaryTopicOf ?page . }
}
LIMIT 1`, language, literalList(forms), language)

	bindings, err := d.sparql.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, ErrNotFound
	}

	uri := bindings[0]["concept"].Value
	prefLabel := bindings[0]["label"].Value
	if uri == "" {
		return nil, ErrNotFound
	}
	if prefLabel == "" {
		prefLabel = label
	}
	description := bindings[0]["abstract"].Value
	link := bindings[0]["page"].Value

	categories, err := d.subjectCategories(ctx, uri, language)
	if err != nil {
		d.logger.Warn("DBpedia category fetch failed, keeping pathless match",
			"uri", uri,
			"error", err)
		categories = nil
	}

	confidence := 0.8
	if vocabulary.MatchKey(prefLabel) == vocabulary.MatchKey(label) {
		confidence = 1.0
	}

	labels := map[string]string{language: prefLabel}

	cands := make([]Candidate, 0, len(categories)+1)
	for _, cat := range categories {
		cands = append(cands, Candidate{
			Source:      dbpediaName,
			ExternalID:  uri,
			PrefLabel:   prefLabel,
			RawPath:     []string{cat.label, prefLabel},
			RawPathIDs:  []string{cat.id, uri},
			Labels:      labels,
			Description: description,
			Link:        link,
			Confidence:  confidence,
		})
	}
	if len(cands) == 0 {
		cands = append(cands, Candidate{
			Source:      dbpediaName,
			ExternalID:  uri,
			PrefLabel:   prefLabel,
			Labels:      labels,
			Description: description,
			Link:        link,
			Confidence:  confidence,
		})
	}
	return cands, nil
}

// Labels fetches resource labels in one query and filters to the
// requested languages client-side.
func (d *DBpedia) Labels(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
	if !validIRI(externalID) {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`
SELECT ?label WHERE {
    <%s> rdfs:label ?label .
}`, externalID)

	bindings, err := d.sparql.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, ErrNotFound
	}

	wanted := make(map[string]struct{}, len(languages))
	for _, lang := range languages {
		wanted[lang] = struct{}{}
	}
	labels := make(map[string]string, len(languages))
	for _, b := range bindings {
		term := b["label"]
		if _, ok := wanted[term.Lang]; !ok {
			continue
		}
		if _, taken := labels[term.Lang]; !taken && term.Value != "" {
			labels[term.Lang] = term.Value
		}
	}
	return labels, nil
}

// subjectCategories returns the resource's subject categories with
// editorial maintenance categories removed, capped for path building.
func (d *DBpedia) subjectCategories(ctx context.Context, uri, language string) ([]pathStep, error) {
	if !validIRI(uri) {
		return nil, nil
	}

	query := fmt.Sprintf(`
PREFIX dct: <http://purl.org/dc/terms/>

SELECT ?category ?catLabel WHERE {
    <%s> dct:subject ?category .
    ?category rdfs:label ?catLabel .
    FILTER(lang(?catLabel) = "%s")
}
LIMIT %d`, uri, language, dbpediaFetchLimit)

	bindings, err := d.sparql.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	steps := make([]pathStep, 0, dbpediaMaxCategories)
	for _, b := range bindings {
		catURI := b["category"].Value
		catLabel := b["catLabel"].Value
		if catURI == "" || catLabel == "" {
			continue
		}
		if irrelevantCategory(catLabel) {
			continue
		}
		steps = append(steps, pathStep{id: catURI, label: catLabel})
		if len(steps) >= dbpediaMaxCategories {
			break
		}
	}
	return steps, nil
}

// dbpediaMetaMarkers flag Wikipedia maintenance categories that say
// nothing about the concept itself.
var dbpediaMetaMarkers = []string{
	"articles",
	"pages",
	"wikipedia",
	"wikidata",
	"cs1",
	"webarchive",
	"stubs",
	"disambiguation",
	"redirects",
	"commons category",
	"use dmy dates",
	"use mdy dates",
	"engvarb",
	"template",
}

func irrelevantCategory(label string) bool {
	lower := strings.ToLower(label)
	for _, marker := range dbpediaMetaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
