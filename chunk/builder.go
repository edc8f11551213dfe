package chunk

import (
	"context"
	"errors"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/luau/compiler"
)

// Builder compiles source files into chunks in parallel, going through an
// optional Store.
type Builder struct {
	Store       *Store // nil disables caching
	Options     compiler.Options
	Parallelism int // <= 0 means GOMAXPROCS
}

// Stats counts what a Build did.
type Stats struct {
	Hits     int
	Compiled int
}

// BuildError is a failure to build one file.
type BuildError struct {
	Path string
	Err  error
}

func (e *BuildError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *BuildError) Unwrap() error { return e.Err }

// Build compiles files, which are read from disk. Results come back in the
// order of files. The first failure cancels the remaining work and is
// returned as a *BuildError.
func (b *Builder) Build(ctx context.Context, files []string) ([]*Chunk, Stats, error) {
	var stats Stats
	if err := b.Options.Validate(); err != nil {
		return nil, stats, err
	}

	out := make([]*Chunk, len(files))
	hit := make([]bool, len(files))

	g, ctx := errgroup.WithContext(ctx)
	n := b.Parallelism
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(n)

	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, cached, err := b.buildOne(ctx, path)
			if err != nil {
				return &BuildError{Path: path, Err: err}
			}
			out[i], hit[i] = c, cached
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	for _, h := range hit {
		if h {
			stats.Hits++
		} else {
			stats.Compiled++
		}
	}
	log.Infof("built %d chunks (%d cached, %d compiled)", len(files), stats.Hits, stats.Compiled)
	return out, stats, nil
}

func (b *Builder) buildOne(ctx context.Context, path string) (*Chunk, bool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	source := string(src)
	name := "@" + path
	h := HashSource(source, b.Options)

	if b.Store != nil {
		c, err := b.Store.Get(ctx, h)
		switch {
		case err == nil:
			log.Debugf("cache hit %s %s", h, path)
			c.Name = name
			return c, true, nil
		case !errors.Is(err, ErrNotFound):
			// A broken entry is recompiled and overwritten.
			log.Warningf("cache entry %s unusable: %s", h, err)
		}
	}

	c, err := Compile(name, source, b.Options)
	if err != nil {
		return nil, false, err
	}
	if b.Store != nil {
		if err := b.Store.Put(ctx, c); err != nil {
			return nil, false, err
		}
	}
	return c, false, nil
}
