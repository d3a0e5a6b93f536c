package source

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/taxomat/taxomat/vocabulary"
)

// agrovocName is the FAO agricultural vocabulary adapter identifier.
const agrovocName = "agrovoc"

// agrovocEndpoint is the public AGROVOC SPARQL endpoint.
const agrovocEndpoint = "https://agrovoc.fao.org/sparql"

const (
	agrovocMaxPaths = 5
	agrovocMaxDepth = 10
)

func init() {
	Register(agrovocName, newAgrovoc)
}

// Agrovoc looks concepts up in the AGROVOC thesaurus over SPARQL.
// AGROVOC models labels as SKOS-XL resources, so every label access
// goes through skosxl:prefLabel/skosxl:literalForm; the hierarchy is a
// coherent skos:broader graph walked stepwise to the roots.
type Agrovoc struct {
	sparql *SPARQL
	logger *slog.Logger
}

func newAgrovoc(s Settings, c *Client, logger *slog.Logger) (Adapter, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = agrovocEndpoint
	}
	return &Agrovoc{
		sparql: NewSPARQL(endpoint, c),
		logger: logger,
	}, nil
}

// Name returns the source identifier.
func (a *Agrovoc) Name() string {
	return agrovocName
}

// Lookup matches the label against preferred and alternative labels,
// trying singular/plural variations in one query, then walks the
// broader hierarchy into root-first paths.
func (a *Agrovoc) Lookup(ctx context.Context, label, language string) ([]Candidate, error) {
	forms := searchForms(label)

	query := fmt.Sprintf(`
PREFIX skosxl: <http://www.w3.org/2008/05/skos-xl#>

SELECT DISTINCT ?concept ?prefLabel WHERE {
    {
        ?concept skosxl:prefLabel/skosxl:literalForm ?label .
    } UNION {
        ?concept skosxl:altLabel/skosxl:literalForm ?label .
    }
    FILTER((lang(?label) = "%s" || lang(?label) = "") && lcase(str(?label)) IN (%s))
    ?concept skosxl:prefLabel/skosxl:literalForm ?prefLabel .
    FILTER(lang(?prefLabel) = "%s" || lang(?prefLabel) = "")
}
LIMIT 1`, language, literalList(forms), language)

	bindings, err := a.sparql.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, ErrNotFound
	}

	uri := bindings[0]["concept"].Value
	prefLabel := bindings[0]["prefLabel"].Value
	if uri == "" {
		return nil, ErrNotFound
	}
	if prefLabel == "" {
		prefLabel = label
	}

	walker := &agrovocWalker{a: a, language: language, labels: map[string]string{uri: prefLabel}}
	var paths [][]pathStep
	if err := walker.walk(ctx, uri, nil, map[string]struct{}{}, &paths); err != nil {
		return nil, err
	}

	// A preferred-name match outranks one that only hit a synonym.
	confidence := 0.8
	if vocabulary.MatchKey(prefLabel) == vocabulary.MatchKey(label) {
		confidence = 1.0
	}

	labels := map[string]string{language: prefLabel}

	cands := make([]Candidate, 0, len(paths))
	for _, steps := range paths {
		rawPath, rawIDs := splitSteps(steps)
		cands = append(cands, Candidate{
			Source:     agrovocName,
			ExternalID: uri,
			PrefLabel:  prefLabel,
			RawPath:    rawPath,
			RawPathIDs: rawIDs,
			Labels:     labels,
			Confidence: confidence,
		})
	}
	if len(cands) == 0 {
		cands = append(cands, Candidate{
			Source:     agrovocName,
			ExternalID: uri,
			PrefLabel:  prefLabel,
			Labels:     labels,
			Confidence: confidence,
		})
	}
	return cands, nil
}

// Labels fetches preferred labels in one query and filters to the
// requested languages client-side.
func (a *Agrovoc) Labels(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
	if !validIRI(externalID) {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`
PREFIX skosxl: <http://www.w3.org/2008/05/skos-xl#>

SELECT ?label WHERE {
    <%s> skosxl:prefLabel/skosxl:literalForm ?label .
}`, externalID)

	bindings, err := a.sparql.Query(ctx, query)
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

// agrovocWalker climbs skos:broader edges, memoizing labels so shared
// ancestors are queried once per lookup.
type agrovocWalker struct {
	a        *Agrovoc
	language string
	labels   map[string]string
}

func (w *agrovocWalker) walk(ctx context.Context, uri string, below []pathStep, visited map[string]struct{}, out *[][]pathStep) error {
	if len(*out) >= agrovocMaxPaths || len(below) >= agrovocMaxDepth {
		return nil
	}
	if _, seen := visited[uri]; seen {
		return nil
	}

	branch := make(map[string]struct{}, len(visited)+1)
	for k := range visited {
		branch[k] = struct{}{}
	}
	branch[uri] = struct{}{}

	label, err := w.labelFor(ctx, uri)
	if err != nil {
		return err
	}
	current := append([]pathStep{{id: uri, label: label}}, below...)

	broader, err := w.broaderOf(ctx, uri)
	if err != nil {
		return err
	}
	if len(broader) == 0 {
		*out = append(*out, current)
		return nil
	}
	for _, b := range broader {
		if err := w.walk(ctx, b, current, branch, out); err != nil {
			return err
		}
	}
	return nil
}

// labelFor resolves a concept's preferred label in the walk language,
// falling back to English and finally the URI fragment.
func (w *agrovocWalker) labelFor(ctx context.Context, uri string) (string, error) {
	if label, ok := w.labels[uri]; ok {
		return label, nil
	}
	if !validIRI(uri) {
		return "", ErrNotFound
	}

	query := fmt.Sprintf(`
PREFIX skosxl: <http://www.w3.org/2008/05/skos-xl#>

SELECT ?label WHERE {
    <%s> skosxl:prefLabel/skosxl:literalForm ?label .
}`, uri)

	bindings, err := w.a.sparql.Query(ctx, query)
	if err != nil {
		return "", err
	}

	label := pickLabel(bindings, "label", w.language)
	if label == "" {
		label = uri[strings.LastIndex(uri, "/")+1:]
	}
	w.labels[uri] = label
	return label, nil
}

// broaderOf returns the direct parents of a concept, sorted for
// deterministic path order.
func (w *agrovocWalker) broaderOf(ctx context.Context, uri string) ([]string, error) {
	if !validIRI(uri) {
		return nil, nil
	}

	query := fmt.Sprintf(`
PREFIX skos: <http://www.w3.org/2004/02/skos/core#>

SELECT ?broader WHERE {
    <%s> skos:broader ?broader .
}`, uri)

	bindings, err := w.a.sparql.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if v := b["broader"].Value; v != "" {
			uris = append(uris, v)
		}
	}
	sort.Strings(uris)
	return uris, nil
}

// pickLabel selects a binding value by language preference: exact
// language, then untagged, then English.
func pickLabel(bindings []Binding, variable, language string) string {
	var untagged, english string
	for _, b := range bindings {
		term := b[variable]
		if term.Value == "" {
			continue
		}
		switch term.Lang {
		case language:
			return term.Value
		case "":
			if untagged == "" {
				untagged = term.Value
			}
		case "en":
			if english == "" {
				english = term.Value
			}
		}
	}
	if untagged != "" {
		return untagged
	}
	return english
}

// validIRI guards identifiers interpolated into SPARQL IRI brackets.
func validIRI(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	return !strings.ContainsAny(s, "<>\"{}|\\^` \n\r\t")
}
