package vocabulary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// localFile is the on-disk shape of a curated vocabulary file.
type localFile struct {
	Concepts []localConcept `yaml:"concepts"`
}

// localConcept is one curated definition. Path is required; everything
// else is optional enrichment.
type localConcept struct {
	Path        string              `yaml:"path"`
	Label       string              `yaml:"label"`
	Labels      map[string]string   `yaml:"labels"`
	Synonyms    map[string][]string `yaml:"synonyms"`
	URIs        map[string]string   `yaml:"uris"`
	Description string              `yaml:"description"`
	Link        string              `yaml:"link"`
}

// LoadLocal reads curated vocabulary files matched by the given glob
// patterns and returns the resulting concept set plus the list of files
// read (for change watching). Missing patterns are not an error; a
// malformed file is.
//
// Local concepts are created once at load and treated as immutable for
// the run. Ancestor concepts are materialized for every path so the set
// is self-contained.
func LoadLocal(patterns []string, defaultLang string) (map[string]*Concept, []string, error) {
	files, err := expandPatterns(patterns)
	if err != nil {
		return nil, nil, err
	}

	concepts := make(map[string]*Concept)
	for _, file := range files {
		if err := loadLocalFile(concepts, file, defaultLang); err != nil {
			return nil, nil, fmt.Errorf("load vocabulary %s: %w", file, err)
		}
	}
	return concepts, files, nil
}

func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if !strings.ContainsAny(pattern, "*?[") {
			if _, err := os.Stat(pattern); err == nil {
				if _, dup := seen[pattern]; !dup {
					seen[pattern] = struct{}{}
					files = append(files, pattern)
				}
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, match := range matches {
			if _, dup := seen[match]; !dup {
				seen[match] = struct{}{}
				files = append(files, match)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func loadLocalFile(concepts map[string]*Concept, path, defaultLang string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file localFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	for i, lc := range file.Concepts {
		if lc.Path == "" {
			return fmt.Errorf("concept %d: path is required", i)
		}
		conceptPath := cleanLocalPath(lc.Path)
		EnsureAncestors(concepts, conceptPath, SourceLocal)

		c := concepts[conceptPath]
		c.Source = SourceLocal
		if lc.Label != "" {
			c.PrefLabel = lc.Label
		}
		if defaultLang != "" {
			c.SetLabel(defaultLang, c.PrefLabel)
		}
		for lang, label := range lc.Labels {
			c.SetLabel(lang, label)
		}
		for lang, synonyms := range lc.Synonyms {
			for _, synonym := range synonyms {
				c.AddAltLabel(lang, synonym)
			}
		}
		for source, uri := range lc.URIs {
			c.AddSourceURI(source, uri)
		}
		if lc.Description != "" {
			c.Description = lc.Description
		}
		if lc.Link != "" {
			c.Link = lc.Link
		}
	}
	return nil
}

// cleanLocalPath trims separators and collapses empty segments so curated
// files tolerate sloppy paths like "food//vegetables/".
func cleanLocalPath(path string) string {
	parts := strings.Split(path, PathSeparator)
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			cleaned = append(cleaned, Slug(part))
		}
	}
	return JoinPath(cleaned)
}
