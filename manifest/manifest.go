// Package manifest handles luau.toml project configuration.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/luau/compiler"
)

// FileName is the manifest's file name.
const FileName = "luau.toml"

// Manifest represents a luau.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Source  Source        `toml:"source"`
	Compile CompileConfig `toml:"compile"`
	VM      VMConfig      `toml:"vm"`
	Cache   CacheConfig   `toml:"cache"`

	// Dir is the directory containing the luau.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// CompileConfig mirrors compiler.Options. Unset levels keep the compiler
// defaults.
type CompileConfig struct {
	Optimization *int   `toml:"optimization"`
	Debug        *int   `toml:"debug"`
	TypeInfo     int    `toml:"type-info"`
	Coverage     int    `toml:"coverage"`
	VectorLib    string `toml:"vector-lib"`
	VectorCtor   string `toml:"vector-ctor"`
	VectorType   string `toml:"vector-type"`
}

// VMConfig configures the VMs created for the project.
type VMConfig struct {
	OpenLibs *bool `toml:"open-libs"`
	Sandbox  bool  `toml:"sandbox"`
}

// CacheConfig configures the bytecode cache.
type CacheConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Load parses a luau.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".luau", "cache.db")
	}

	if err := m.CompileOptions().Validate(); err != nil {
		return nil, fmt.Errorf("%s: [compile]: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a luau.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CompileOptions returns the compiler options described by [compile].
func (m *Manifest) CompileOptions() compiler.Options {
	opts := compiler.DefaultOptions()
	c := m.Compile
	if c.Optimization != nil {
		opts.OptimizationLevel = *c.Optimization
	}
	if c.Debug != nil {
		opts.DebugLevel = *c.Debug
	}
	opts.TypeInfoLevel = c.TypeInfo
	opts.CoverageLevel = c.Coverage
	opts.VectorLib = c.VectorLib
	opts.VectorCtor = c.VectorCtor
	opts.VectorType = c.VectorType
	return opts
}

// OpenLibs reports whether VMs should load the builtin libraries. It
// defaults to true.
func (m *Manifest) OpenLibs() bool {
	return m.VM.OpenLibs == nil || *m.VM.OpenLibs
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// SourceFiles lists every .luau and .lua file under the source
// directories, sorted. Missing directories are skipped.
func (m *Manifest) SourceFiles() ([]string, error) {
	var files []string
	for _, root := range m.SourceDirPaths() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsSourceFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// EntryPath returns the absolute path of the entry script, or "" if none
// is configured.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	return filepath.Join(m.Dir, m.Source.Entry)
}

// CachePath returns the absolute path of the bytecode cache, or "" when
// the cache is disabled.
func (m *Manifest) CachePath() string {
	if m.Cache.Disabled {
		return ""
	}
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// IsSourceFile reports whether path names a Luau source file.
func IsSourceFile(path string) bool {
	switch filepath.Ext(path) {
	case ".luau", ".lua":
		return true
	}
	return false
}
