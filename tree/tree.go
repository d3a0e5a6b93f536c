// Package tree assembles concept sets into serialized vocabulary tree
// snapshots: ordered roots, a parent-children index with descendant
// counts, per-language display labels, and raw per-source audit
// side-trees. Builds are deterministic; an unchanged concept set and
// configuration produce byte-identical tree content, with only the
// snapshot metadata varying.
package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taxomat/taxomat/fallback"
	"github.com/taxomat/taxomat/rootmap"
	"github.com/taxomat/taxomat/vocabulary"
)

// Config controls tree assembly. Zero fields fall back to defaults.
type Config struct {
	// Roots is the canonical whitelist in display order.
	Roots []string

	// Synthetic lists roots that exist even when no concept lives under
	// them. Orphans are promoted under the first synthetic root; with
	// none configured they are dropped.
	Synthetic []string

	// Language is the default display language.
	Language string

	// Languages are the display languages materialized per node.
	Languages []string

	// Fallback resolves display labels through the language chains.
	Fallback *fallback.Resolver
}

// Node is one tree entry: the concept plus derived presentation fields.
type Node struct {
	// Concept carries identity, labels and hierarchy position. Its
	// Narrower list is the ordered children index.
	Concept *vocabulary.Concept `json:"concept"`

	// Descendants counts all transitive children.
	Descendants int `json:"descendants"`

	// Display holds the per-language display label, resolved through
	// the fallback chains. Unlike Concept.Labels it may borrow from a
	// related language.
	Display map[string]string `json:"display,omitempty"`
}

// Meta describes one snapshot. It sits outside the determinism
// contract: two builds of identical inputs differ only here.
type Meta struct {
	ID        string    `json:"id"`
	BuiltAt   time.Time `json:"built_at"`
	Language  string    `json:"language"`
	Languages []string  `json:"languages"`
	Concepts  int       `json:"concepts"`
	Promoted  int       `json:"promoted"`
	Dropped   int       `json:"dropped"`
}

// Tree is a complete vocabulary snapshot.
type Tree struct {
	Meta  Meta                  `json:"meta"`
	Roots []string              `json:"roots"`
	Nodes map[string]*Node      `json:"nodes"`
	Audit map[string]*AuditNode `json:"audit,omitempty"`
}

// Node returns a tree entry by concept ID.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// Ancestors returns the IDs of a concept's ancestors, root first. The
// hierarchy is path-shaped, so ancestry is prefix enumeration.
func (t *Tree) Ancestors(id string) []string {
	segments := vocabulary.SplitPath(id)
	if len(segments) < 2 {
		return nil
	}
	out := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		out = append(out, vocabulary.JoinPath(segments[:i]))
	}
	return out
}

// Concepts returns the snapshot's concepts keyed by ID, for index
// rebuilding. The returned map shares the node concepts; callers must
// not mutate them.
func (t *Tree) Concepts() map[string]*vocabulary.Concept {
	out := make(map[string]*vocabulary.Concept, len(t.Nodes))
	for id, n := range t.Nodes {
		out[id] = n.Concept
	}
	return out
}

// Fingerprint hashes the deterministic tree content: roots, nodes and
// audit, excluding Meta. Identical inputs yield identical fingerprints.
func (t *Tree) Fingerprint() string {
	payload := struct {
		Roots []string              `json:"roots"`
		Nodes map[string]*Node      `json:"nodes"`
		Audit map[string]*AuditNode `json:"audit,omitempty"`
	}{t.Roots, t.Nodes, t.Audit}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Build assembles a snapshot from a concept set. raw carries the native
// per-source routes collected during resolution for the audit
// side-trees. prev folds the previous snapshot's source identifiers in
// so a recorded source is never lost across rebuilds.
func Build(concepts map[string]*vocabulary.Concept, raw map[string][][]string, prev *Tree, cfg Config) (*Tree, error) {
	roots := cfg.Roots
	if len(roots) == 0 {
		roots = rootmap.DefaultRoots()
	}
	language := cfg.Language
	if language == "" {
		language = fallback.DefaultFinal
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{language}
	}
	resolver := cfg.Fallback
	if resolver == nil {
		resolver = fallback.Default()
	}

	rootSet := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		rootSet[vocabulary.NormalizeLabel(r)] = struct{}{}
	}
	synthetic := make([]string, 0, len(cfg.Synthetic))
	for _, r := range cfg.Synthetic {
		norm := vocabulary.NormalizeLabel(r)
		if _, ok := rootSet[norm]; !ok {
			return nil, fmt.Errorf("synthetic root %q is not in the root whitelist", r)
		}
		synthetic = append(synthetic, norm)
	}

	work := make(map[string]*vocabulary.Concept, len(concepts))
	var promoted, dropped int

	ids := sortedKeys(concepts)
	for _, id := range ids {
		c := concepts[id]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid concept: %w", err)
		}
		top := vocabulary.SplitPath(c.Path)[0]
		if _, ok := rootSet[top]; ok {
			work[c.Path] = c.Clone()
			continue
		}
		// Off-whitelist top: promote under the synthetic root or drop.
		// Never attach to an arbitrary existing root.
		if len(synthetic) == 0 {
			dropped++
			continue
		}
		moved := rebase(c, synthetic[0])
		work[moved.Path] = moved
		promoted++
	}

	for _, id := range sortedKeys(work) {
		vocabulary.EnsureAncestors(work, id, work[id].Source)
	}
	for _, norm := range synthetic {
		if _, ok := work[norm]; !ok {
			c := vocabulary.NewConcept(norm, norm)
			c.Source = vocabulary.SourceLocal
			work[norm] = c
		}
	}

	if prev != nil {
		for id, node := range prev.Nodes {
			if c, ok := work[id]; ok {
				c.MergeSourceURIs(node.Concept)
			}
		}
	}

	displayLanguages := displaySet(language, languages)
	nodes := make(map[string]*Node, len(work))
	for id, c := range work {
		sortChildren(c, work)
		nodes[id] = &Node{
			Concept: c,
			Display: displayLabels(c, displayLanguages, resolver),
		}
	}
	countDescendants(nodes)

	treeRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		norm := vocabulary.NormalizeLabel(r)
		if _, ok := nodes[norm]; ok {
			treeRoots = append(treeRoots, norm)
		}
	}

	return &Tree{
		Meta: Meta{
			ID:        uuid.NewString(),
			BuiltAt:   time.Now().UTC(),
			Language:  language,
			Languages: languages,
			Concepts:  len(nodes),
			Promoted:  promoted,
			Dropped:   dropped,
		},
		Roots: treeRoots,
		Nodes: nodes,
		Audit: BuildAudit(raw),
	}, nil
}

// rebase clones a concept under a new root, shifting its whole path.
func rebase(c *vocabulary.Concept, root string) *vocabulary.Concept {
	moved := c.Clone()
	moved.Path = root + vocabulary.PathSeparator + c.Path
	moved.ID = moved.Path
	moved.Broader = vocabulary.ParentPath(moved.Path)
	moved.Narrower = nil
	return moved
}

// sortChildren orders a concept's children for display: by lowercased
// preferred label, then ID. Children missing from the set are pruned.
func sortChildren(c *vocabulary.Concept, work map[string]*vocabulary.Concept) {
	kept := c.Narrower[:0]
	for _, childID := range c.Narrower {
		if _, ok := work[childID]; ok {
			kept = append(kept, childID)
		}
	}
	c.Narrower = kept
	sort.SliceStable(c.Narrower, func(i, j int) bool {
		ci, cj := work[c.Narrower[i]], work[c.Narrower[j]]
		li := strings.ToLower(ci.PrefLabel)
		lj := strings.ToLower(cj.PrefLabel)
		if li != lj {
			return li < lj
		}
		return ci.ID < cj.ID
	})
}

// displayLabels resolves one display label per requested language,
// borrowing along the fallback chain and defaulting to the preferred
// label when the chain finds nothing.
func displayLabels(c *vocabulary.Concept, languages []string, resolver *fallback.Resolver) map[string]string {
	out := make(map[string]string, len(languages))
	for _, lang := range languages {
		if label, ok := resolver.Resolve(c.Labels, lang); ok {
			out[lang] = label
			continue
		}
		out[lang] = c.PrefLabel
	}
	return out
}

// countDescendants fills transitive child counts, deepest paths first
// so every child is counted before its parent.
func countDescendants(nodes map[string]*Node) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		di := strings.Count(ids[i], vocabulary.PathSeparator)
		dj := strings.Count(ids[j], vocabulary.PathSeparator)
		if di != dj {
			return di > dj
		}
		return ids[i] < ids[j]
	})

	for _, id := range ids {
		n := nodes[id]
		for _, childID := range n.Concept.Narrower {
			if child, ok := nodes[childID]; ok {
				n.Descendants += 1 + child.Descendants
			}
		}
	}
}

// displaySet unions the default language into the configured set,
// preserving order.
func displaySet(language string, languages []string) []string {
	out := make([]string, 0, len(languages)+1)
	seen := make(map[string]struct{}, len(languages)+1)
	for _, lang := range append([]string{language}, languages...) {
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

func sortedKeys(m map[string]*vocabulary.Concept) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
