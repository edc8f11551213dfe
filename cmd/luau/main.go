// Luau CLI - compile, run and serve Luau scripts
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/luau/compiler"
	"github.com/chazu/luau/manifest"
	"github.com/chazu/luau/vm"

	_ "github.com/tliron/commonlog/simple"
)

// settings is the effective configuration: manifest values overridden by
// flags.
type settings struct {
	manifest  *manifest.Manifest
	options   compiler.Options
	openLibs  bool
	sandbox   bool
	cachePath string
	verbose   bool
}

func (s *settings) vmConfig() vm.Config {
	return vm.Config{OpenLibs: s.openLibs, Sandbox: s.sandbox}
}

var (
	errColor  = color.New(color.FgRed, color.Bold)
	spanColor = color.New(color.Bold)
	okColor   = color.New(color.FgGreen)
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	optLevel := flag.Int("O", -1, "Optimization level 0-2 (default from luau.toml, else 1)")
	debugLevel := flag.Int("g", -1, "Debug level 0-2 (default from luau.toml, else 1)")
	sandbox := flag.Bool("sandbox", false, "Sandbox the globals")
	openLibs := flag.Bool("libs", true, "Open the builtin libraries")
	noCache := flag.Bool("no-cache", false, "Bypass the bytecode cache")
	output := flag.String("c", "", "Compile the input to a chunk file instead of running it")
	build := flag.Bool("build", false, "Compile every source of the nearest luau.toml into the cache")
	serveAddr := flag.String("serve", "", "Serve the Eval service over Connect on this address")
	grpcAddr := flag.String("grpc", "", "Also serve the Eval service over plain gRPC on this address (with -serve)")
	lspMode := flag.Bool("lsp", false, "Run the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: luau [options] [file.luau|file.chunk] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles and runs a Luau script. Without a file, runs the entry of the nearest luau.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  luau hello.luau                 # Run a script\n")
		fmt.Fprintf(os.Stderr, "  luau -O 2 sum.luau 1 2 3        # Run with arguments\n")
		fmt.Fprintf(os.Stderr, "  luau -c hello.chunk hello.luau  # Compile to a chunk\n")
		fmt.Fprintf(os.Stderr, "  luau hello.chunk                # Run a compiled chunk\n")
		fmt.Fprintf(os.Stderr, "  luau -build                     # Fill the project cache\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  luau -serve :4567               # Connect/gRPC-Web on :4567\n")
		fmt.Fprintf(os.Stderr, "  luau -serve :4567 -grpc :4568   # Plus plain gRPC on :4568\n")
		fmt.Fprintf(os.Stderr, "  luau -lsp                       # Language server on stdio\n")
	}
	flag.Parse()

	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}

	// Logs go to stderr; the LSP owns stdout.
	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	set := flagSet()
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fatalf("Error loading manifest: %v", err)
	}
	s := &settings{manifest: m, options: compiler.DefaultOptions(), openLibs: true, verbose: *verbose}
	if m != nil {
		s.options = m.CompileOptions()
		s.openLibs = m.OpenLibs()
		s.sandbox = m.VM.Sandbox
		s.cachePath = m.CachePath()
		if *verbose {
			fmt.Fprintf(os.Stderr, "Using %s\n", m.Dir)
		}
	}
	if set["O"] {
		s.options.OptimizationLevel = *optLevel
	}
	if set["g"] {
		s.options.DebugLevel = *debugLevel
	}
	if set["libs"] {
		s.openLibs = *openLibs
	}
	if set["sandbox"] {
		s.sandbox = *sandbox
	}
	if *noCache {
		s.cachePath = ""
	}
	if err := s.options.Validate(); err != nil {
		fatalf("Error: %v", err)
	}

	args := flag.Args()
	switch {
	case *lspMode:
		runLSP(s)
	case *serveAddr != "":
		runServer(s, *serveAddr, *grpcAddr)
	case *build:
		runBuild(s)
	case *output != "":
		if len(args) != 1 {
			fatalf("Error: -c takes exactly one source file")
		}
		compileTo(s, args[0], *output)
	default:
		os.Exit(runFile(s, args))
	}
}

// flagSet reports which flags were given explicitly.
func flagSet() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func fatalf(format string, args ...any) {
	errColor.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}

// printCompileError reports diagnostics with their spans, or the bare
// error when there are none.
func printCompileError(name string, err error) {
	writeCompileError(os.Stderr, name, err)
}

func writeCompileError(w io.Writer, name string, err error) {
	diags := compiler.Diagnostics(err)
	if diags == nil {
		errColor.Fprintf(w, "%s: %v\n", name, err)
		return
	}
	for _, d := range diags {
		spanColor.Fprintf(w, "%s:%d:%d: ", name, d.Span.Start.Line+1, d.Span.Start.Column+1)
		errColor.Fprintln(w, d.Message)
	}
}
