package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/luau/chunk"
	"github.com/chazu/luau/vm"
)

// runFile runs a script or chunk and returns the process exit code.
func runFile(s *settings, args []string) int {
	var path string
	if len(args) > 0 {
		path, args = args[0], args[1:]
	} else if s.manifest != nil && s.manifest.EntryPath() != "" {
		path = s.manifest.EntryPath()
	} else {
		flag.Usage()
		return 2
	}

	c, err := loadChunk(s, path)
	if err != nil {
		printCompileError(buildFailure(err, path))
		return 1
	}
	if s.verbose {
		fmt.Fprintf(os.Stderr, "Loaded %s (%d bytes of bytecode, %s)\n", c.Name, len(c.Bytecode), c.Hash)
	}

	v, err := vm.New(s.vmConfig())
	if err != nil {
		errColor.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer v.Close()

	results, err := execute(v.MainThread(), c, args)
	if err != nil {
		errColor.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer vm.ReleaseAll(results)

	if len(results) > 0 {
		out := make([]string, len(results))
		for i, r := range results {
			out[i] = r.String()
		}
		fmt.Println(strings.Join(out, "\t"))
	}
	if s.verbose {
		okColor.Fprintf(os.Stderr, "OK (%d KB heap)\n", v.MemoryKB())
	}
	return 0
}

// execute loads c on th and calls it with args as strings.
func execute(th *vm.Thread, c *chunk.Chunk, args []string) ([]*vm.Ref[vm.Value], error) {
	fn, err := th.Load(c.Bytecode, c.Name)
	if err != nil {
		return nil, err
	}
	defer fn.Release()

	argRefs := make([]*vm.Ref[vm.String], 0, len(args))
	defer func() { vm.ReleaseAll(argRefs) }()
	callArgs := make([]vm.Arg, 0, len(args))
	for _, a := range args {
		r, err := th.NewString(a)
		if err != nil {
			return nil, err
		}
		argRefs = append(argRefs, r)
		callArgs = append(callArgs, r)
	}
	return th.CallSync(fn, callArgs...)
}

// loadChunk reads a compiled chunk, or compiles a source file through the
// cache when one is configured.
func loadChunk(s *settings, path string) (*chunk.Chunk, error) {
	if filepath.Ext(path) == ".chunk" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return chunk.Unmarshal(data)
	}

	store, err := openCache(s)
	if err != nil {
		return nil, err
	}
	if store != nil {
		defer store.Close()
	}
	b := &chunk.Builder{Store: store, Options: s.options, Parallelism: 1}
	chunks, _, err := b.Build(context.Background(), []string{path})
	if err != nil {
		return nil, err
	}
	return chunks[0], nil
}

// openCache opens the configured bytecode cache, or returns nil when there
// is none.
func openCache(s *settings) (*chunk.Store, error) {
	if s.cachePath == "" {
		return nil, nil
	}
	store, err := chunk.Open(s.cachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return store, nil
}

// compileTo writes the chunk for a source file.
func compileTo(s *settings, path, out string) {
	if filepath.Ext(path) == ".chunk" {
		fatalf("Error: %s is already compiled", path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		fatalf("Error: %v", err)
	}
	c, err := chunk.Compile("@"+path, string(source), s.options)
	if err != nil {
		printCompileError(path, err)
		os.Exit(1)
	}
	data, err := chunk.Marshal(c)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fatalf("Error: %v", err)
	}
	if s.verbose {
		okColor.Fprintf(os.Stderr, "Wrote %s (%s)\n", out, c.Hash)
	}
}
