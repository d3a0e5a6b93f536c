package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taxomat/taxomat/vocabulary"
)

// offName is the Open Food Facts adapter identifier.
const offName = "off"

// offTaxonomyURL is the static full category taxonomy export.
const offTaxonomyURL = "https://static.openfoodfacts.org/data/taxonomies/categories.full.json"

// offMaxPaths bounds how many hierarchy routes one lookup reports; the
// category graph is a DAG and some nodes reach a root dozens of ways.
const offMaxPaths = 8

// offMaxDepth bounds the walk up the DAG.
const offMaxDepth = 16

func init() {
	Register(offName, newOFF)
}

// OFF serves lookups against the Open Food Facts category taxonomy, a
// static JSON export (~14K nodes) downloaded once and refreshed by age.
// After the download every lookup is a local index hit, so this adapter
// only touches the network when the local copy is missing or stale.
type OFF struct {
	client    *Client
	logger    *slog.Logger
	url       string
	file      string
	refresh   time.Duration
	languages []string

	mu    sync.Mutex
	nodes map[string]*offNode
	index map[string]offIndexEntry
}

// offNode is one taxonomy node from the JSON export.
type offNode struct {
	Name     map[string]string   `json:"name"`
	Synonyms map[string][]string `json:"synonyms"`
	Parents  []string            `json:"parents"`
	Children []string            `json:"children"`
}

// offIndexEntry points a normalized label at its node. Synonym entries
// rank below name entries.
type offIndexEntry struct {
	ID      string
	Synonym bool
}

func newOFF(s Settings, c *Client, logger *slog.Logger) (Adapter, error) {
	url := s.TaxonomyURL
	if url == "" {
		url = offTaxonomyURL
	}
	refresh := s.Refresh
	if refresh <= 0 {
		refresh = 30 * 24 * time.Hour
	}
	dataDir := s.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "taxomat")
	}
	languages := s.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	return &OFF{
		client:    c,
		logger:    logger,
		url:       url,
		file:      filepath.Join(dataDir, "off-categories.json"),
		refresh:   refresh,
		languages: languages,
	}, nil
}

// Name returns the source identifier.
func (o *OFF) Name() string {
	return offName
}

// Lookup finds candidates by name or synonym, trying the exact label
// then singular/plural variations. One candidate per hierarchy route.
func (o *OFF) Lookup(ctx context.Context, label, language string) ([]Candidate, error) {
	if err := o.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	normalized := vocabulary.NormalizeLabel(label)
	entry, ok := o.index[normalized]
	if !ok {
		for _, v := range vocabulary.Variations(normalized) {
			if entry, ok = o.index[v]; ok {
				break
			}
		}
	}
	if !ok {
		return nil, ErrNotFound
	}

	node := o.nodes[entry.ID]
	if node == nil {
		return nil, ErrNotFound
	}

	confidence := 1.0
	if entry.Synonym {
		confidence = 0.8
	}

	var paths [][]pathStep
	o.walkUp(entry.ID, language, nil, map[string]struct{}{}, &paths)

	prefLabel := o.nodeLabel(node, entry.ID, language)
	labels := make(map[string]string)
	for _, lang := range o.languages {
		if name, ok := node.Name[lang]; ok {
			labels[lang] = name
		}
	}
	altLabels := make(map[string][]string)
	for _, lang := range o.languages {
		if syns := node.Synonyms[lang]; len(syns) > 0 {
			altLabels[lang] = append([]string(nil), syns...)
		}
	}

	cands := make([]Candidate, 0, len(paths))
	for _, steps := range paths {
		rawPath, rawIDs := splitSteps(steps)
		cands = append(cands, Candidate{
			Source:     offName,
			ExternalID: entry.ID,
			PrefLabel:  prefLabel,
			RawPath:    rawPath,
			RawPathIDs: rawIDs,
			Labels:     labels,
			AltLabels:  altLabels,
			Confidence: confidence,
		})
	}
	if len(cands) == 0 {
		// A node with no route to a root still identifies the concept.
		cands = append(cands, Candidate{
			Source:     offName,
			ExternalID: entry.ID,
			PrefLabel:  prefLabel,
			Labels:     labels,
			AltLabels:  altLabels,
			Confidence: confidence,
		})
	}
	return cands, nil
}

// Labels reads localized names straight from the loaded taxonomy.
func (o *OFF) Labels(ctx context.Context, externalID string, languages []string) (map[string]string, error) {
	if err := o.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	node := o.nodes[externalID]
	if node == nil {
		return nil, ErrNotFound
	}
	labels := make(map[string]string, len(languages))
	for _, lang := range languages {
		if name, ok := node.Name[lang]; ok {
			labels[lang] = name
		}
	}
	return labels, nil
}

// walkUp collects root-first routes from a node to the taxonomy roots.
// Each branch gets its own visited copy so sibling routes through a
// shared ancestor are all found.
func (o *OFF) walkUp(id, language string, below []pathStep, visited map[string]struct{}, out *[][]pathStep) {
	if len(*out) >= offMaxPaths || len(below) >= offMaxDepth {
		return
	}
	if _, seen := visited[id]; seen {
		return
	}
	node := o.nodes[id]
	if node == nil {
		return
	}

	branch := make(map[string]struct{}, len(visited)+1)
	for k := range visited {
		branch[k] = struct{}{}
	}
	branch[id] = struct{}{}

	current := append([]pathStep{{id: id, label: o.nodeLabel(node, id, language)}}, below...)

	if len(node.Parents) == 0 {
		*out = append(*out, current)
		return
	}
	for _, parent := range node.Parents {
		o.walkUp(parent, language, current, branch, out)
	}
}

// nodeLabel picks a display label: requested language, then English,
// then the node id with its language prefix stripped.
func (o *OFF) nodeLabel(node *offNode, id, language string) string {
	if name, ok := node.Name[language]; ok && name != "" {
		return name
	}
	if name, ok := node.Name["en"]; ok && name != "" {
		return name
	}
	if _, rest, ok := strings.Cut(id, ":"); ok {
		return strings.ReplaceAll(rest, "-", " ")
	}
	return id
}

// ensureLoaded downloads the taxonomy when missing or stale, then
// parses it and builds the label index. A stale copy keeps serving if
// the refresh download fails.
func (o *OFF) ensureLoaded(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.nodes != nil {
		return nil
	}

	info, statErr := os.Stat(o.file)
	stale := statErr != nil || time.Since(info.ModTime()) > o.refresh
	if stale {
		o.logger.Info("Downloading category taxonomy", "url", o.url, "file", o.file)
		if err := o.client.Download(ctx, o.url, o.file); err != nil {
			if statErr != nil {
				return err
			}
			o.logger.Warn("Taxonomy refresh failed, using stale copy",
				"file", o.file,
				"age", time.Since(info.ModTime()),
				"error", err)
		}
	}

	data, err := os.ReadFile(o.file)
	if err != nil {
		return NewTransientError(fmt.Errorf("read taxonomy: %w", err))
	}
	var nodes map[string]*offNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return NewFatalError(fmt.Errorf("parse taxonomy %s: %w", o.file, err))
	}

	o.nodes = nodes
	o.buildIndex()
	o.logger.Info("Category taxonomy loaded", "categories", len(o.nodes), "index_entries", len(o.index))
	return nil
}

// buildIndex maps normalized names and synonyms to node ids. A synonym
// never overwrites a name entry, and node ids are visited in sorted
// order so label collisions resolve the same way on every load.
func (o *OFF) buildIndex() {
	ids := make([]string, 0, len(o.nodes))
	for id := range o.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := make(map[string]offIndexEntry, len(o.nodes)*2)
	for _, id := range ids {
		node := o.nodes[id]
		for _, lang := range o.languages {
			if name := node.Name[lang]; name != "" {
				key := vocabulary.NormalizeLabel(name)
				if _, taken := index[key]; !taken {
					index[key] = offIndexEntry{ID: id}
				}
			}
		}
	}
	for _, id := range ids {
		node := o.nodes[id]
		for _, lang := range o.languages {
			for _, syn := range node.Synonyms[lang] {
				key := vocabulary.NormalizeLabel(syn)
				if key == "" {
					continue
				}
				if _, taken := index[key]; !taken {
					index[key] = offIndexEntry{ID: id, Synonym: true}
				}
			}
		}
	}

	o.index = index
}
