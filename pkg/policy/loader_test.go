package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const documentedPolicy = `# Wichita builds FAA Part 21 parts.
# Added after the 2026 audit.
package titan.regulation

import rego.v1

match contains {"framework": "FAA-PART21", "reason": "facility ICT"} if input.facility_id == "ICT"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "wichita.rego")
	writeFile(t, path, documentedPolicy)

	p, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if p.Name != "wichita" || p.Source != path || !p.Enabled || p.Builtin {
		t.Errorf("policy = %+v", p)
	}
	if p.Description != "Wichita builds FAA Part 21 parts. Added after the 2026 audit." {
		t.Errorf("description = %q", p.Description)
	}
}

func TestLoadFromFile_Rejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong package", "other.rego", "package plant.policies\n"},
		{"no package", "empty.rego", "# nothing here\n"},
		{"unsupported type", "policy.json", `{"name": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(zerolog.Nop())
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)
			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "wichita.rego"), documentedPolicy)
	writeFile(t, filepath.Join(dir, "nested", "medical.rego"),
		"package titan.regulation\n\nimport rego.v1\n\nmatch contains {\"framework\": \"ISO13485\", \"reason\": \"x\"} if false\n")
	writeFile(t, filepath.Join(dir, "wichita_test.rego"), "package titan.regulation_test\n")
	writeFile(t, filepath.Join(dir, "README.md"), "# policies\n")
	writeFile(t, filepath.Join(dir, "stray.rego"), "package somewhere.else\n")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 || policies[0].Name != "medical" || policies[1].Name != "wichita" {
		names := make([]string, 0, len(policies))
		for _, p := range policies {
			names = append(names, p.Name)
		}
		t.Errorf("policies = %v, want [medical wichita]", names)
	}
}

func TestLoadFromPaths_DuplicateNames(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(a, "rules.rego"), documentedPolicy)
	writeFile(t, filepath.Join(b, "rules.rego"), documentedPolicy)

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{a, b}); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestLoadFromPaths_NonExistent(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLeadingComment(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"none", "package titan.regulation\n", ""},
		{"before package", "# one\n# two\npackage titan.regulation\n", "one two"},
		{"stops at blank line", "# first\n\n# second\npackage p\n", "first"},
		{"empty hashes", "#\n# text\n#\npackage p\n", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingComment(tt.src); got != tt.want {
				t.Errorf("leadingComment = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "wichita.rego")
	writeFile(t, path, documentedPolicy)

	if _, err := loader.loadFromFile(context.Background(), path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("cache size = %d, want 1", len(loader.cache))
	}
	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("cache size after clear = %d", len(loader.cache))
	}
}

func TestEngineWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wichita.rego")
	writeFile(t, path, documentedPolicy)

	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		reloads []int
	)
	reloaded := make(chan struct{}, 4)
	err := eng.Watch(ctx, []string{dir}, func(count int, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		reloads = append(reloads, count)
		mu.Unlock()
		reloaded <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if reg, _ := eng.Classify(ctx, "ICT-LATHE-7", "ICT"); !reg.Regulated {
		t.Fatal("initial load did not apply")
	}

	writeFile(t, filepath.Join(dir, "medical.rego"),
		"package titan.regulation\n\nimport rego.v1\n\nmatch contains {\"framework\": \"ISO13485\", \"reason\": \"medical\"} if input.facility_id == \"BOS\"\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("policies were not reloaded")
	}

	reg, err := eng.Classify(ctx, "BOS-PRESS-2", "BOS")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !reg.Regulated || reg.Framework != "ISO13485" {
		t.Errorf("Classify after reload = %+v", reg)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reloads) == 0 || reloads[len(reloads)-1] != 2 {
		t.Errorf("reloads = %v, want last of 2 policies", reloads)
	}
}
