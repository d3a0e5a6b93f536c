package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// SPARQL wraps one SPARQL endpoint behind the shared retrying client.
type SPARQL struct {
	endpoint string
	client   *Client
}

// NewSPARQL creates a query helper for an endpoint.
func NewSPARQL(endpoint string, client *Client) *SPARQL {
	return &SPARQL{endpoint: endpoint, client: client}
}

// Term is one RDF term inside a result binding.
type Term struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Lang  string `json:"xml:lang"`
}

// Binding maps result variable names to their terms.
type Binding map[string]Term

type sparqlResponse struct {
	Results struct {
		Bindings []Binding `json:"bindings"`
	} `json:"results"`
}

// Query runs a SPARQL query and returns the result bindings.
func (s *SPARQL) Query(ctx context.Context, query string) ([]Binding, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "json")

	body, err := s.client.Get(ctx, s.endpoint, params, "application/sparql-results+json")
	if err != nil {
		return nil, err
	}

	var resp sparqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewFatalError(fmt.Errorf("decode SPARQL results from %s: %w", s.endpoint, err))
	}
	return resp.Results.Bindings, nil
}

// escapeLiteral quotes a string for embedding in a SPARQL string literal.
func escapeLiteral(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return r.Replace(s)
}

// literalList renders quoted literals for a SPARQL IN clause.
func literalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + escapeLiteral(v) + `"`
	}
	return strings.Join(quoted, ", ")
}
