package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/taxomat/taxomat/gate"
	"github.com/taxomat/taxomat/tree"
	"github.com/taxomat/taxomat/vocabulary"
)

// defaultSearchLimit applies when ?limit= is absent.
const defaultSearchLimit = 20

// maxSearchLimit caps ?limit=.
const maxSearchLimit = 200

// ----------------------------------------------------------------------------
// GET /api/v1/lookup?term=&lang=&wait=
// ----------------------------------------------------------------------------

// LookupResponse is the response body for GET /api/v1/lookup.
type LookupResponse struct {
	// Concept is the canonical concept the term resolved to.
	Concept *vocabulary.Concept `json:"concept"`

	// Parents lists ancestor ids from the root down.
	Parents []string `json:"parents"`

	// Children lists direct narrower concept ids.
	Children []string `json:"children"`
}

// handleLookup resolves a term to its canonical concept. With wait=true
// the resolution queues on busy upstreams instead of degrading.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	term := r.URL.Query().Get("term")
	if term == "" {
		http.Error(w, "term is required", http.StatusBadRequest)
		return
	}
	lang := r.URL.Query().Get("lang")
	wait := parseBool(r.URL.Query().Get("wait"))

	concept, err := s.service.Lookup(r.Context(), term, lang, wait)
	if err != nil {
		http.Error(w, "Invalid term", http.StatusBadRequest)
		return
	}

	children := make([]string, 0, len(concept.Narrower))
	children = append(children, concept.Narrower...)

	writeJSON(w, http.StatusOK, LookupResponse{
		Concept:  concept,
		Parents:  ancestorPaths(concept.Path),
		Children: children,
	})
}

// ----------------------------------------------------------------------------
// GET /api/v1/expand?term=&lang=&wait=
// ----------------------------------------------------------------------------

// ExpandResponse is the response body for GET /api/v1/expand.
type ExpandResponse struct {
	Term     string   `json:"term"`
	Language string   `json:"language"`
	Paths    []string `json:"paths"`
}

// handleExpand returns every canonical path a term matches.
func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	term := r.URL.Query().Get("term")
	if term == "" {
		http.Error(w, "term is required", http.StatusBadRequest)
		return
	}
	lang := r.URL.Query().Get("lang")
	wait := parseBool(r.URL.Query().Get("wait"))

	paths, err := s.service.Expand(r.Context(), term, lang, wait)
	if err != nil {
		http.Error(w, "Invalid term", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, ExpandResponse{Term: term, Language: lang, Paths: paths})
}

// ----------------------------------------------------------------------------
// GET /api/v1/search?q=&limit=
// ----------------------------------------------------------------------------

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query    string                `json:"query"`
	Concepts []*vocabulary.Concept `json:"concepts"`
}

// handleSearch matches the query against attested labels and synonyms
// in the current snapshot.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSearchLimit)
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:    query,
		Concepts: s.service.Search(query, limit),
	})
}

// ----------------------------------------------------------------------------
// GET /api/v1/tree
// ----------------------------------------------------------------------------

// handleTree returns the current snapshot.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Snapshot())
}

// ----------------------------------------------------------------------------
// GET /api/v1/tree/audit?source=
// ----------------------------------------------------------------------------

// AuditResponse is the response body for GET /api/v1/tree/audit with a
// source selected.
type AuditResponse struct {
	Source string          `json:"source"`
	Audit  *tree.AuditNode `json:"audit"`
}

// handleTreeAudit returns raw per-source routes before root mapping.
// Without ?source= the full audit map is returned.
func (s *Server) handleTreeAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	audit := s.service.Snapshot().Audit
	source := r.URL.Query().Get("source")
	if source == "" {
		if audit == nil {
			audit = map[string]*tree.AuditNode{}
		}
		writeJSON(w, http.StatusOK, audit)
		return
	}

	node, ok := audit[source]
	if !ok {
		http.Error(w, "no audit data for source: "+source, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{Source: source, Audit: node})
}

// ----------------------------------------------------------------------------
// POST /api/v1/rebuild
// ----------------------------------------------------------------------------

// RebuildResponse is the response body for POST /api/v1/rebuild.
type RebuildResponse struct {
	// Queued is true when a rebuild was scheduled; false when one is
	// already pending or the rebuild loop is not running.
	Queued bool `json:"queued"`
}

// handleRebuild schedules an asynchronous tree rebuild.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	queued := s.service.TriggerRebuild()
	writeJSON(w, http.StatusAccepted, RebuildResponse{Queued: queued})
}

// ----------------------------------------------------------------------------
// GET /api/v1/sources
// ----------------------------------------------------------------------------

// SourcesResponse is the response body for GET /api/v1/sources.
type SourcesResponse struct {
	Sources []gate.SourceStatus `json:"sources"`
}

// handleSources reports per-source gate and breaker state.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := s.service.SourceStatuses()
	if statuses == nil {
		statuses = []gate.SourceStatus{}
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: statuses})
}

// ----------------------------------------------------------------------------
// GET /healthz
// ----------------------------------------------------------------------------

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status   string    `json:"status"`
	Uptime   string    `json:"uptime"`
	Snapshot string    `json:"snapshot"`
	BuiltAt  time.Time `json:"built_at"`
	Concepts int       `json:"concepts"`
}

// handleHealth reports liveness and the current snapshot's vitals.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := s.service.Snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Uptime:   s.service.Uptime().Round(time.Second).String(),
		Snapshot: snapshot.Meta.ID,
		BuiltAt:  snapshot.Meta.BuiltAt,
		Concepts: snapshot.Meta.Concepts,
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// ancestorPaths returns the path prefixes above a canonical path, root
// first.
func ancestorPaths(path string) []string {
	segments := vocabulary.SplitPath(path)
	if len(segments) < 2 {
		return []string{}
	}
	out := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		out = append(out, vocabulary.JoinPath(segments[:i]))
	}
	return out
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
