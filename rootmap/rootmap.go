// Package rootmap normalizes source-native hierarchy paths onto the
// canonical root whitelist. Sources disagree about what sits at the
// top of their taxonomies; the mapper swaps native scaffolding for
// whitelisted roots and refuses paths it cannot place.
package rootmap

import (
	"sort"
	"strings"

	"github.com/taxomat/taxomat/vocabulary"
)

// Config assembles a Mapper. Zero fields fall back to the defaults.
type Config struct {
	// Roots is the canonical whitelist in display order.
	Roots []string
	// Similar maps interchangeable segment words to one spelling.
	Similar map[string]string
	// Tables maps source name to native-prefix table. Prefix keys are
	// slash-joined segment sequences; values are canonical roots.
	Tables map[string]map[string]string
}

// Mapper holds the compiled whitelist and per-source prefix tables.
type Mapper struct {
	roots   []string
	rootSet map[string]struct{}
	similar map[string]string
	tables  map[string]sourceTable
}

type sourceTable struct {
	prefixes map[string]string
	maxDepth int
}

// New compiles a mapper. Table keys, similar words, and roots are
// normalized so lookups are insensitive to case and hyphenation.
func New(cfg Config) *Mapper {
	roots := cfg.Roots
	if len(roots) == 0 {
		roots = DefaultRoots()
	}
	similar := cfg.Similar
	if len(similar) == 0 {
		similar = DefaultSimilar()
	}
	tables := cfg.Tables
	if len(tables) == 0 {
		tables = DefaultTables()
	}

	m := &Mapper{
		roots:   make([]string, 0, len(roots)),
		rootSet: make(map[string]struct{}, len(roots)),
		similar: make(map[string]string, len(similar)),
		tables:  make(map[string]sourceTable, len(tables)),
	}
	for _, r := range roots {
		norm := vocabulary.NormalizeLabel(r)
		if norm == "" {
			continue
		}
		if _, seen := m.rootSet[norm]; seen {
			continue
		}
		m.roots = append(m.roots, norm)
		m.rootSet[norm] = struct{}{}
	}
	for word, canonical := range similar {
		m.similar[vocabulary.NormalizeLabel(word)] = vocabulary.NormalizeLabel(canonical)
	}
	for source, table := range tables {
		st := sourceTable{prefixes: make(map[string]string, len(table))}
		for prefix, root := range table {
			segs := strings.Split(prefix, "/")
			for i, seg := range segs {
				segs[i] = vocabulary.NormalizeLabel(seg)
			}
			st.prefixes[strings.Join(segs, "/")] = vocabulary.NormalizeLabel(root)
			if len(segs) > st.maxDepth {
				st.maxDepth = len(segs)
			}
		}
		m.tables[source] = st
	}
	return m
}

// Default returns a mapper over the built-in whitelist and tables.
func Default() *Mapper {
	return New(Config{})
}

// Roots returns the whitelist in display order.
func (m *Mapper) Roots() []string {
	out := make([]string, len(m.roots))
	copy(out, m.roots)
	return out
}

// IsRoot reports whether a label names a whitelisted root.
func (m *Mapper) IsRoot(label string) bool {
	_, ok := m.rootSet[vocabulary.NormalizeLabel(label)]
	return ok
}

// Sources returns the source names with a prefix table, sorted.
func (m *Mapper) Sources() []string {
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize maps a source-native path onto the whitelist. Segments are
// normalized, consecutive similar segments collapse, and the longest
// matching native prefix is replaced by its canonical root. A path
// already rooted at a whitelisted root passes without a table entry.
// ok is false when the top of the path cannot be placed.
func (m *Mapper) Normalize(source string, rawPath []string) (canonical []string, ok bool) {
	path := m.collapse(rawPath)
	if len(path) == 0 {
		return nil, false
	}

	if root, rest, matched := m.matchPrefix(source, path); matched {
		return m.attach(root, rest), true
	}
	if m.IsRoot(path[0]) {
		return m.attach(path[0], path[1:]), true
	}
	return nil, false
}

// collapse normalizes segments and drops a segment that repeats its
// predecessor under the similar-word table.
func (m *Mapper) collapse(rawPath []string) []string {
	out := make([]string, 0, len(rawPath))
	for _, seg := range rawPath {
		norm := vocabulary.NormalizeLabel(seg)
		if norm == "" {
			continue
		}
		if len(out) > 0 && m.similarKey(out[len(out)-1]) == m.similarKey(norm) {
			continue
		}
		out = append(out, norm)
	}
	return out
}

func (m *Mapper) similarKey(seg string) string {
	if canonical, ok := m.similar[seg]; ok {
		return canonical
	}
	return seg
}

// matchPrefix finds the longest table prefix heading the path and
// returns its canonical root plus the unmatched remainder.
func (m *Mapper) matchPrefix(source string, path []string) (root string, rest []string, ok bool) {
	table, found := m.tables[source]
	if !found {
		return "", nil, false
	}
	depth := table.maxDepth
	if depth > len(path) {
		depth = len(path)
	}
	for k := depth; k >= 1; k-- {
		if root, ok := table.prefixes[strings.Join(path[:k], "/")]; ok {
			return root, path[k:], true
		}
	}
	return "", nil, false
}

// attach prepends the canonical root, dropping a direct child that
// just repeats it.
func (m *Mapper) attach(root string, rest []string) []string {
	out := make([]string, 0, len(rest)+1)
	out = append(out, root)
	for i, seg := range rest {
		if i == 0 && m.similarKey(seg) == m.similarKey(root) {
			continue
		}
		out = append(out, seg)
	}
	return out
}
