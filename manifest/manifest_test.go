package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
entry = "src/main.luau"

[compile]
optimization = 2
debug = 0
coverage = 1
vector-lib = "vector"
vector-ctor = "create"

[vm]
open-libs = false
sandbox = true

[cache]
path = "build/cache.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if got, want := m.EntryPath(), filepath.Join(m.Dir, "src", "main.luau"); got != want {
		t.Errorf("entry = %q, want %q", got, want)
	}

	opts := m.CompileOptions()
	if opts.OptimizationLevel != 2 || opts.DebugLevel != 0 || opts.CoverageLevel != 1 {
		t.Errorf("compile levels = %+v", opts)
	}
	if opts.VectorLib != "vector" || opts.VectorCtor != "create" {
		t.Errorf("vector options = %q/%q", opts.VectorLib, opts.VectorCtor)
	}

	if m.OpenLibs() {
		t.Error("open-libs = true, want false")
	}
	if !m.VM.Sandbox {
		t.Error("sandbox = false, want true")
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, "build", "cache.db"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Default source dir should be "src"
	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	opts := m.CompileOptions()
	if opts.OptimizationLevel != 1 || opts.DebugLevel != 1 {
		t.Errorf("default levels = %d/%d, want 1/1", opts.OptimizationLevel, opts.DebugLevel)
	}
	if !m.OpenLibs() {
		t.Error("open-libs should default to true")
	}
	if m.EntryPath() != "" {
		t.Errorf("entry = %q, want empty", m.EntryPath())
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".luau", "cache.db"); got != want {
		t.Errorf("cache path = %q, want %q", got, want)
	}
}

func TestLoadManifestInvalidLevels(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[compile]
optimization = 7
`)
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted optimization = 7")
	}
}

func TestLoadManifestSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[project`)
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted malformed TOML")
	}
}

func TestCacheDisabled(t *testing.T) {
	m := &Manifest{Dir: "/app", Cache: CacheConfig{Path: "x.db", Disabled: true}}
	if m.CachePath() != "" {
		t.Errorf("CachePath() = %q, want empty", m.CachePath())
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no luau.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "lib"},
		},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/app/lib" {
		t.Errorf("paths[1] = %q, want /app/lib", paths[1])
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"src/main.luau":        "return 1",
		"src/util/strings.lua": "return 2",
		"src/readme.md":        "# no",
		"src/.hidden/x.luau":   "return 3",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	m := &Manifest{Dir: dir, Source: Source{Dirs: []string{"src", "missing"}}}
	got, err := m.SourceFiles()
	if err != nil {
		t.Fatalf("SourceFiles: %v", err)
	}
	want := []string{
		filepath.Join(dir, "src", "main.luau"),
		filepath.Join(dir, "src", "util", "strings.lua"),
	}
	if len(got) != len(want) {
		t.Fatalf("SourceFiles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d = %q, want %q", i, got[i], want[i])
		}
	}
}
