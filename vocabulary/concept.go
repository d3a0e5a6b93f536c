// Package vocabulary defines the concept model shared across the taxonomy
// service: multilingual concepts, the curated local vocabulary, and the
// label index used for lookups.
package vocabulary

import (
	"fmt"
	"sort"
	"strings"
)

// PathSeparator joins the segments of a canonical concept path.
const PathSeparator = "/"

// SourceLocal marks concepts defined by the curated local vocabulary.
const SourceLocal = "local"

// SourceUnresolved marks concepts no source could place; they live under
// the synthetic uncategorized root.
const SourceUnresolved = "unresolved"

// Concept is a single classification node: identity, multilingual labels,
// and hierarchy position. The ID of a canonical concept equals its Path.
type Concept struct {
	// ID uniquely identifies this concept within a snapshot.
	ID string `json:"id"`

	// PrefLabel is the preferred label in the default language.
	PrefLabel string `json:"prefLabel"`

	// AltLabels holds synonyms per language. Synonyms are never merged
	// across languages: a match in one language says nothing about another.
	AltLabels map[string][]string `json:"altLabels,omitempty"`

	// Labels holds the preferred label per language. Only source-attested
	// or locally curated labels are stored; display fallback is applied
	// downstream and never written back here.
	Labels map[string]string `json:"labels,omitempty"`

	// Broader is the parent concept ID, empty for roots.
	Broader string `json:"broader,omitempty"`

	// Narrower lists child concept IDs in deterministic order.
	Narrower []string `json:"narrower,omitempty"`

	// SourceURIs maps a source name to the external identifiers that
	// matched this concept. It only grows across rebuilds with stable
	// inputs, never shrinks.
	SourceURIs map[string][]string `json:"sourceUris,omitempty"`

	// Description is an optional short description harvested from a source.
	Description string `json:"description,omitempty"`

	// Link is an optional external reference URL.
	Link string `json:"link,omitempty"`

	// Path is the canonical slash-delimited route from a root.
	Path string `json:"path"`

	// Source names whoever fixed this concept's placement: "local", an
	// adapter name, or "unresolved".
	Source string `json:"source"`
}

// NewConcept creates a concept at the given canonical path. The last path
// segment becomes the default preferred label.
func NewConcept(path, prefLabel string) *Concept {
	if prefLabel == "" {
		prefLabel = LastSegment(path)
	}
	return &Concept{
		ID:        path,
		Path:      path,
		PrefLabel: prefLabel,
		Broader:   ParentPath(path),
	}
}

// SetLabel records the preferred label for a language unless one is
// already present. Returns true if the label was set.
func (c *Concept) SetLabel(lang, label string) bool {
	if lang == "" || label == "" {
		return false
	}
	if c.Labels == nil {
		c.Labels = make(map[string]string)
	}
	if _, ok := c.Labels[lang]; ok {
		return false
	}
	c.Labels[lang] = label
	return true
}

// AddAltLabel records a synonym for a language, deduplicating
// case-insensitively against the preferred label and existing synonyms.
func (c *Concept) AddAltLabel(lang, label string) {
	if lang == "" || label == "" {
		return
	}
	if strings.EqualFold(label, c.Labels[lang]) || strings.EqualFold(label, c.PrefLabel) {
		return
	}
	for _, existing := range c.AltLabels[lang] {
		if strings.EqualFold(existing, label) {
			return
		}
	}
	if c.AltLabels == nil {
		c.AltLabels = make(map[string][]string)
	}
	c.AltLabels[lang] = append(c.AltLabels[lang], label)
}

// AddSourceURI records an external identifier for a source,
// deduplicating exact matches.
func (c *Concept) AddSourceURI(source, uri string) {
	if source == "" || uri == "" {
		return
	}
	for _, existing := range c.SourceURIs[source] {
		if existing == uri {
			return
		}
	}
	if c.SourceURIs == nil {
		c.SourceURIs = make(map[string][]string)
	}
	c.SourceURIs[source] = append(c.SourceURIs[source], uri)
}

// MergeSourceURIs folds another concept's source identifiers into this one.
// Used during rebuilds so previously recorded sources are never lost.
func (c *Concept) MergeSourceURIs(other *Concept) {
	if other == nil {
		return
	}
	for source, uris := range other.SourceURIs {
		for _, uri := range uris {
			c.AddSourceURI(source, uri)
		}
	}
}

// Clone returns a deep copy of the concept.
func (c *Concept) Clone() *Concept {
	if c == nil {
		return nil
	}
	out := *c
	if c.AltLabels != nil {
		out.AltLabels = make(map[string][]string, len(c.AltLabels))
		for lang, labels := range c.AltLabels {
			out.AltLabels[lang] = append([]string(nil), labels...)
		}
	}
	if c.Labels != nil {
		out.Labels = make(map[string]string, len(c.Labels))
		for lang, label := range c.Labels {
			out.Labels[lang] = label
		}
	}
	if c.SourceURIs != nil {
		out.SourceURIs = make(map[string][]string, len(c.SourceURIs))
		for source, uris := range c.SourceURIs {
			out.SourceURIs[source] = append([]string(nil), uris...)
		}
	}
	out.Narrower = append([]string(nil), c.Narrower...)
	return &out
}

// Validate checks structural consistency of a concept.
func (c *Concept) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("concept ID is required")
	}
	if c.PrefLabel == "" {
		return fmt.Errorf("concept %s: prefLabel is required", c.ID)
	}
	if c.Path != "" {
		if parent := ParentPath(c.Path); c.Broader != "" && c.Broader != parent {
			return fmt.Errorf("concept %s: broader %q does not match path parent %q", c.ID, c.Broader, parent)
		}
	}
	return nil
}

// ParentPath returns the path of the parent concept, or "" for roots.
func ParentPath(path string) string {
	idx := strings.LastIndex(path, PathSeparator)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// LastSegment returns the final segment of a path.
func LastSegment(path string) string {
	idx := strings.LastIndex(path, PathSeparator)
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// SplitPath splits a canonical path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// JoinPath assembles path segments into a canonical path.
func JoinPath(segments []string) string {
	return strings.Join(segments, PathSeparator)
}

// EnsureAncestors creates any missing ancestor concepts for the given
// path, wiring Broader/Narrower edges. Existing concepts are left as-is
// apart from gaining missing child references.
func EnsureAncestors(concepts map[string]*Concept, path, source string) {
	segments := SplitPath(path)
	for i := 1; i <= len(segments); i++ {
		prefix := JoinPath(segments[:i])
		node, ok := concepts[prefix]
		if !ok {
			node = NewConcept(prefix, segments[i-1])
			node.Source = source
			concepts[prefix] = node
		}
		if parent := ParentPath(prefix); parent != "" {
			addChild(concepts[parent], prefix)
		}
	}
}

func addChild(parent *Concept, childID string) {
	if parent == nil {
		return
	}
	for _, existing := range parent.Narrower {
		if existing == childID {
			return
		}
	}
	parent.Narrower = append(parent.Narrower, childID)
	sort.Strings(parent.Narrower)
}
