package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/chazu/luau/chunk"
)

// runBuild processes `luau -build`: every source file of the project is
// compiled into the bytecode cache.
func runBuild(s *settings) {
	m := s.manifest
	if m == nil {
		fmt.Fprintln(os.Stderr, "Error: no luau.toml found")
		fmt.Fprintln(os.Stderr, "luau -build requires a luau.toml with a [source] section")
		os.Exit(1)
	}

	files, err := m.SourceFiles()
	if err != nil {
		fatalf("Error listing sources: %v", err)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No sources under %v\n", m.SourceDirPaths())
		return
	}

	store, err := openCache(s)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if store == nil {
		fmt.Fprintln(os.Stderr, "Cache disabled; checking sources only")
	} else {
		defer store.Close()
	}

	b := &chunk.Builder{Store: store, Options: s.options}
	chunks, stats, err := b.Build(context.Background(), files)
	if err != nil {
		printCompileError(buildFailure(err, m.Project.Name))
		os.Exit(1)
	}

	if s.verbose {
		for _, c := range chunks {
			fmt.Printf("%s  %s\n", c.Hash, c.Name)
		}
	}
	okColor.Printf("Built %d files (%d compiled, %d cached)\n", len(chunks), stats.Compiled, stats.Hits)
}

// buildFailure splits a Build error into the failing file and its cause.
// Errors not tied to a file are labelled with fallback.
func buildFailure(err error, fallback string) (string, error) {
	var be *chunk.BuildError
	if errors.As(err, &be) {
		return be.Path, be.Err
	}
	return fallback, err
}
