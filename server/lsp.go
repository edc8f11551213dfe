package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/luau/compiler"
	"github.com/chazu/luau/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "luau-lsp"

var luauKeywords = []string{
	"and", "break", "continue", "do", "else", "elseif", "end", "export",
	"false", "for", "function", "if", "in", "local", "nil", "not", "or",
	"repeat", "return", "then", "true", "type", "until", "while",
}

// inspectSource lists the fields of a global (or of _G when the argument
// is empty) as "name\ttype" lines.
const inspectSource = `
local name = ...
local t = _G
if name ~= "" then t = _G[name] end
if type(t) ~= "table" then return type(t) end
local out = {}
for k, v in pairs(t) do
	if type(k) == "string" then table.insert(out, k .. "\t" .. type(v)) end
end
return type(t), table.concat(out, "\n")
`

// LspServer bridges LSP editor features to a Luau VM via VMWorker:
// compile diagnostics, completion of globals and library members, and
// hover.
type LspServer struct {
	worker  *VMWorker
	options compiler.Options

	mu   sync.Mutex
	docs map[protocol.DocumentUri]string

	inspectOnce sync.Once
	inspect     []byte
	inspectErr  error

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server backed by worker. The worker's VM must
// have its libraries open for completion to be useful.
func NewLSP(worker *VMWorker, opts compiler.Options) *LspServer {
	s := &LspServer{
		worker:  worker,
		options: opts,
		docs:    make(map[protocol.DocumentUri]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Luau LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

// Sync is Full, so only the last change matters.
func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	n := len(params.ContentChanges)
	if n == 0 {
		return nil
	}
	if whole, ok := params.ContentChanges[n-1].(protocol.TextDocumentContentChangeEventWhole); ok {
		s.update(ctx, params.TextDocument.URI, whole.Text)
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update stores a document's text and republishes its diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[uri] = text
	s.mu.Unlock()
	s.publishDiagnostics(ctx, uri, text)
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[uri]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(context.Background(), prefix)
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(context.Background(), word)
}

// --- VM-backed logic ---

// field is one entry of a global table.
type field struct {
	name string
	kind string
}

// fields lists the string-keyed fields of global name, or of the globals
// themselves when name is empty. kind is the type of the global.
func (s *LspServer) fields(ctx context.Context, name string) (kind string, out []field, err error) {
	s.inspectOnce.Do(func() {
		s.inspect, s.inspectErr = compiler.Compile(inspectSource, compiler.DefaultOptions(), compiler.ParseOptions{})
	})
	if s.inspectErr != nil {
		return "", nil, s.inspectErr
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		th := v.MainThread()
		fn, err := th.Load(s.inspect, "=inspect")
		if err != nil {
			return nil, err
		}
		defer fn.Release()
		arg, err := th.NewString(name)
		if err != nil {
			return nil, err
		}
		defer arg.Release()
		res, err := th.CallSync(fn, arg)
		if err != nil {
			return nil, err
		}
		defer vm.ReleaseAll(res)
		strs := make([]string, len(res))
		for i, r := range res {
			strs[i] = r.String()
		}
		return strs, nil
	})
	if err != nil {
		return "", nil, err
	}
	strs := result.([]string)
	if len(strs) == 0 {
		return "", nil, nil
	}
	kind = strs[0]
	if len(strs) > 1 && strs[1] != "" {
		for _, line := range strings.Split(strs[1], "\n") {
			n, k, _ := strings.Cut(line, "\t")
			out = append(out, field{name: n, kind: k})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return kind, out, nil
}

func (s *LspServer) complete(ctx context.Context, prefix string) ([]protocol.CompletionItem, error) {
	table, member, qualified := strings.Cut(prefix, ".")
	if !qualified {
		table, member = "", prefix
	}

	_, fields, err := s.fields(ctx, table)
	if err != nil {
		return nil, err
	}

	var items []protocol.CompletionItem
	for _, f := range fields {
		if !strings.HasPrefix(f.name, member) {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		switch f.kind {
		case "function":
			kind = protocol.CompletionItemKindFunction
		case "table":
			kind = protocol.CompletionItemKindModule
		}
		detail := f.kind
		name := f.name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}
	if !qualified {
		for _, kw := range luauKeywords {
			if strings.HasPrefix(kw, member) {
				kind := protocol.CompletionItemKindKeyword
				items = append(items, protocol.CompletionItem{Label: kw, Kind: &kind})
			}
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

func (s *LspServer) hover(ctx context.Context, word string) (*protocol.Hover, error) {
	kind, fields, err := s.fields(ctx, word)
	if err != nil || kind == "" || kind == "nil" {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: `%s`", word, kind)
	if len(fields) > 0 {
		b.WriteString("\n\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "- `%s`: %s\n", f.name, f.kind)
		}
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}, nil
}

// --- Diagnostics ---

// diagnose compiles text and converts any compile failure into LSP
// diagnostics.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	_, err := compiler.Compile(text, s.options, compiler.ParseOptions{})
	if err == nil {
		return []protocol.Diagnostic{}
	}

	diags := compiler.Diagnostics(err)
	if diags == nil {
		diags = []compiler.Diagnostic{{Message: err.Error()}}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: d.Span.Start.Line, Character: d.Span.Start.Column},
				End:   protocol.Position{Line: d.Span.End.Line, Character: d.Span.End.Column},
			},
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: s.diagnose(text),
	})
}

// --- Text extraction helpers ---

// cursorLine returns the line under pos and the cursor column clamped to
// it. ok is false past the last line.
func cursorLine(text string, pos protocol.Position) (line string, col int, ok bool) {
	for i := uint32(0); i < pos.Line; i++ {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			return "", 0, false
		}
		text = text[nl+1:]
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[:nl]
	}
	return text, min(int(pos.Character), len(text)), true
}

func isIdentByte(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// extractPrefix returns the identifier, possibly dotted, that ends at the
// cursor.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := cursorLine(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && (isIdentByte(line[start-1]) || line[start-1] == '.') {
		start--
	}
	return line[start:col]
}

// extractWord returns the identifier the cursor is on or just after.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := cursorLine(text, pos)
	if !ok {
		return ""
	}
	start, end := col, col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	for end < len(line) && isIdentByte(line[end]) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
