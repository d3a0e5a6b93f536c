package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/taxomat/taxomat/vocabulary"
)

// wikidataName is the Wikidata adapter identifier.
const wikidataName = "wikidata"

// wikidataEndpoint is the MediaWiki action API for Wikidata.
const wikidataEndpoint = "https://www.wikidata.org/w/api.php"

const wikidataSearchLimit = 5

func init() {
	Register(wikidataName, newWikidata)
}

// Wikidata looks concepts up through the wbsearchentities action and
// enriches the best hit with wbgetentities. Wikidata has no usable
// subsumption hierarchy for categorization, so candidates carry no
// path and rank below the curated taxonomies.
type Wikidata struct {
	client *Client
	url    string
	logger *slog.Logger
}

func newWikidata(s Settings, c *Client, logger *slog.Logger) (Adapter, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = wikidataEndpoint
	}
	return &Wikidata{
		client: c,
		url:    endpoint,
		logger: logger,
	}, nil
}

// Name returns the source identifier.
func (w *Wikidata) Name() string {
	return wikidataName
}

type wikidataError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type wikidataSearchResponse struct {
	Search []wikidataSearchHit `json:"search"`
	Error  *wikidataError      `json:"error"`
}

type wikidataSearchHit struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type wikidataText struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

type wikidataSitelink struct {
	Site  string `json:"site"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type wikidataEntity struct {
	Labels       map[string]wikidataText     `json:"labels"`
	Descriptions map[string]wikidataText     `json:"descriptions"`
	Sitelinks    map[string]wikidataSitelink `json:"sitelinks"`
}

type wikidataEntitiesResponse struct {
	Entities map[string]wikidataEntity `json:"entities"`
	Error    *wikidataError            `json:"error"`
}

// Lookup searches items by label and returns the single best hit.
func (w *Wikidata) Lookup(ctx context.Context, label, language string) ([]Candidate, error) {
	params := url.Values{
		"action":   {"wbsearchentities"},
		"search":   {label},
		"language": {language},
		"type":     {"item"},
		"limit":    {fmt.Sprintf("%d", wikidataSearchLimit)},
		"format":   {"json"},
	}

	var search wikidataSearchResponse
	if err := w.client.GetJSON(ctx, w.url, params, &search); err != nil {
		return nil, err
	}
	if search.Error != nil {
		return nil, NewFatalError(fmt.Errorf("wikidata %s: %s", search.Error.Code, search.Error.Info))
	}
	if len(search.Search) == 0 {
		return nil, ErrNotFound
	}

	hit := bestWikidataHit(search.Search, label)

	entity, err := w.entity(ctx, hit.ID, []string{language, "en"})
	if err != nil {
		return nil, err
	}

	prefLabel := hit.Label
	if text, ok := entity.Labels[language]; ok && text.Value != "" {
		prefLabel = text.Value
	}
	if prefLabel == "" {
		prefLabel = label
	}

	description := hit.Description
	if text, ok := entity.Descriptions[language]; ok && text.Value != "" {
		description = text.Value
	}

	confidence := 0.8
	if vocabulary.MatchKey(prefLabel) == vocabulary.MatchKey(label) {
		confidence = 1.0
	}

	return []Candidate{{
		Source:      wikidataName,
		ExternalID:  hit.ID,
		PrefLabel:   prefLabel,
		Labels:      map[string]string{language: prefLabel},
		Description: description,
		Link:        sitelinkURL(entity.Sitelinks, language),
		Confidence:  confidence,
	}}, nil
}

// Labels fetches item labels for the requested languages in one call.
func (w *Wikidata) Labels(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
	entity, err := w.entity(ctx, externalID, languages)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string, len(languages))
	for _, lang := range languages {
		if text, ok := entity.Labels[lang]; ok && text.Value != "" {
			labels[lang] = text.Value
		}
	}
	return labels, nil
}

func (w *Wikidata) entity(ctx context.Context, id string, languages []string) (wikidataEntity, error) {
	if !validEntityID(id) {
		return wikidataEntity{}, ErrNotFound
	}

	params := url.Values{
		"action":    {"wbgetentities"},
		"ids":       {id},
		"props":     {"labels|descriptions|sitelinks/urls"},
		"languages": {strings.Join(languages, "|")},
		"format":    {"json"},
	}

	var resp wikidataEntitiesResponse
	if err := w.client.GetJSON(ctx, w.url, params, &resp); err != nil {
		return wikidataEntity{}, err
	}
	if resp.Error != nil {
		return wikidataEntity{}, NewFatalError(fmt.Errorf("wikidata %s: %s", resp.Error.Code, resp.Error.Info))
	}

	// Redirects come back under the target id, so take whatever
	// entity the response carries.
	for _, entity := range resp.Entities {
		if len(entity.Labels) > 0 || len(entity.Sitelinks) > 0 {
			return entity, nil
		}
	}
	return wikidataEntity{}, ErrNotFound
}

// bestWikidataHit prefers an exact label match over the ranking the
// search API returns.
func bestWikidataHit(hits []wikidataSearchHit, label string) wikidataSearchHit {
	want := vocabulary.MatchKey(label)
	for _, hit := range hits {
		if vocabulary.MatchKey(hit.Label) == want {
			return hit
		}
	}
	return hits[0]
}

// sitelinkURL prefers the Wikipedia edition of the lookup language and
// falls back to English.
func sitelinkURL(sitelinks map[string]wikidataSitelink, language string) string {
	if link, ok := sitelinks[language+"wiki"]; ok && link.URL != "" {
		return link.URL
	}
	if link, ok := sitelinks["enwiki"]; ok {
		return link.URL
	}
	return ""
}

// validEntityID reports whether the id is a well-formed item id (Q
// followed by digits).
func validEntityID(id string) bool {
	if len(id) < 2 || id[0] != 'Q' {
		return false
	}
	for _, r := range id[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
