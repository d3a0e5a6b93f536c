package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testVocabulary = `concepts:
  - path: food/vegetables/potato
    label: potato
    labels: { nb: potet }
    synonyms: { en: [potatoes] }
  - path: food/fruits/apple
    label: apple
`

// writeTestConfig writes a config file and vocabulary into a temp dir and
// returns the config path. The cache is in-memory so commands stay offline.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	vocabDir := filepath.Join(dir, "vocabulary")
	if err := os.MkdirAll(vocabDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vocabDir, "local.yaml"), []byte(testVocabulary), 0644); err != nil {
		t.Fatalf("write vocabulary: %v", err)
	}

	cfg := fmt.Sprintf(`data_dir: %s
log:
  level: warn
cache:
  backend: memory
vocabulary:
  paths:
    - %s
  watch: false
`, dir, filepath.Join(vocabDir, "*.yaml"))

	cfgPath := filepath.Join(dir, "taxomat.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

// runCommand executes the command tree with args and captures output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand("test", "test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// TestRootCommand_Subcommands verifies the command tree is complete.
func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand("test", "test")

	want := []string{"serve", "lookup", "expand", "search", "tree", "rebuild", "sources", "cache", "config", "version"}
	have := make(map[string]bool)
	for _, sub := range root.Commands() {
		have[sub.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

// TestVersionCommand verifies version output format.
func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "taxomat version test (build: test)") {
		t.Errorf("unexpected version output: %q", out)
	}
}

// TestLookupCommand resolves a curated term without touching the network.
func TestLookupCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "lookup", "Potatoes", "--config", cfgPath)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.Contains(out, "food/vegetables/potato") {
		t.Errorf("expected canonical path in output, got: %q", out)
	}
	if !strings.Contains(out, "Source:  local") {
		t.Errorf("expected local source in output, got: %q", out)
	}
	if !strings.Contains(out, "nb=potet") {
		t.Errorf("expected label pairs in output, got: %q", out)
	}
}

// TestLookupCommand_JSON verifies --json emits the raw concept.
func TestLookupCommand_JSON(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "lookup", "potato", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("lookup --json: %v", err)
	}
	if !strings.Contains(out, `"path": "food/vegetables/potato"`) {
		t.Errorf("expected JSON concept, got: %q", out)
	}
}

// TestExpandCommand prints one canonical path per line.
func TestExpandCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "expand", "potatoes", "--config", cfgPath)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if strings.TrimSpace(out) != "food/vegetables/potato" {
		t.Errorf("expected single path line, got: %q", out)
	}
}

// TestSearchCommand lists matches with their labels.
func TestSearchCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "search", "apple", "--config", cfgPath)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "food/fruits/apple") {
		t.Errorf("expected apple match, got: %q", out)
	}
}

// TestSearchCommand_RejectsBadLimit verifies limit validation.
func TestSearchCommand_RejectsBadLimit(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runCommand(t, "search", "apple", "--config", cfgPath, "--limit", "0")
	if err == nil {
		t.Fatal("expected error for limit 0")
	}
}

// TestTreeCommand prints the outline with descendant counts, children
// sorted by label.
func TestTreeCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "tree", "--config", cfgPath)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}

	if !strings.Contains(out, "food (4)") {
		t.Errorf("expected food root with 4 descendants, got: %q", out)
	}
	fruits := strings.Index(out, "fruits")
	vegetables := strings.Index(out, "vegetables")
	if fruits == -1 || vegetables == -1 || fruits > vegetables {
		t.Errorf("expected fruits before vegetables, got: %q", out)
	}
	if !strings.Contains(out, "uncategorized") {
		t.Errorf("expected synthetic root in outline, got: %q", out)
	}
}

// TestTreeCommand_UnknownAuditSource errors when no audit data exists.
func TestTreeCommand_UnknownAuditSource(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runCommand(t, "tree", "--config", cfgPath, "--audit", "wikidata")
	if err == nil {
		t.Fatal("expected error for missing audit data")
	}
	if !strings.Contains(err.Error(), "no audit data") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestRebuildCommand reports the rebuilt tree size.
func TestRebuildCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "rebuild", "--config", cfgPath)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !strings.Contains(out, "Tree rebuilt") {
		t.Errorf("expected rebuild summary, got: %q", out)
	}
}

// TestSourcesCommand lists every enabled source.
func TestSourcesCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "sources", "--config", cfgPath)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	for _, name := range []string{"off", "agrovoc", "dbpedia", "wikidata"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected source %q in output, got: %q", name, out)
		}
	}
	if !strings.Contains(out, "closed") {
		t.Errorf("fresh sources should be closed, got: %q", out)
	}
}

// TestCacheStatsCommand reports backend and counts.
func TestCacheStatsCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "cache", "stats", "--config", cfgPath)
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if !strings.Contains(out, "Backend:  memory") {
		t.Errorf("expected memory backend, got: %q", out)
	}
	if !strings.Contains(out, "Entries:  0") {
		t.Errorf("expected empty cache, got: %q", out)
	}
}

// TestCacheClearCommand confirms the clear.
func TestCacheClearCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "cache", "clear", "--config", cfgPath)
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if !strings.Contains(out, "Cache cleared") {
		t.Errorf("expected confirmation, got: %q", out)
	}
}

// TestConfigShowCommand prints the effective configuration.
func TestConfigShowCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runCommand(t, "config", "show", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "language: en") {
		t.Errorf("expected default language, got: %q", out)
	}
	if !strings.Contains(out, "backend: memory") {
		t.Errorf("expected configured backend, got: %q", out)
	}
}

// writeOfflineConfig points every source at an unroutable endpoint with
// fast-fail gating, so unknown terms degrade without waiting on retries.
func writeOfflineConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	vocabDir := filepath.Join(dir, "vocabulary")
	if err := os.MkdirAll(vocabDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vocabDir, "local.yaml"), []byte(testVocabulary), 0644); err != nil {
		t.Fatalf("write vocabulary: %v", err)
	}

	cfg := fmt.Sprintf(`data_dir: %s
log:
  level: error
cache:
  backend: memory
gate:
  min_interval: 1ms
  timeout: 500ms
  retry:
    max_attempts: 1
    backoff_base: 1ms
    backoff_multiplier: 2
    max_backoff: 10ms
sources:
  off:
    taxonomy_url: "http://127.0.0.1:9/categories.json"
    refresh: 1h
  agrovoc:
    endpoint: "http://127.0.0.1:9/sparql"
  dbpedia:
    endpoint: "http://127.0.0.1:9/sparql"
  wikidata:
    endpoint: "http://127.0.0.1:9/api"
vocabulary:
  paths:
    - %s
  watch: false
`, dir, filepath.Join(vocabDir, "*.yaml"))

	cfgPath := filepath.Join(dir, "taxomat.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

// TestLookupCommand_UnknownTermDegrades verifies degradation to the
// uncategorized root when every source is unreachable.
func TestLookupCommand_UnknownTermDegrades(t *testing.T) {
	cfgPath := writeOfflineConfig(t)

	out, err := runCommand(t, "lookup", "mystery widget", "--config", cfgPath)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.Contains(out, "uncategorized/mystery widget") {
		t.Errorf("expected degraded placement, got: %q", out)
	}
}
