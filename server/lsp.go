// Package server implements the Minis language server. It recompiles a
// document whenever it is opened, changed, or saved and publishes the
// compiler's errors and warnings as LSP diagnostics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/minis/compiler"
	"github.com/chazu/minis/plugin"
)

const lspName = "minis-lsp"

var log = commonlog.GetLogger("minis.server")

// Options configures the compilations the server runs.
type Options struct {
	SearchPaths        []string
	PluginPaths        []string
	AllowSelfReference bool
}

// document is one open text document and the last program parsed from it
// without error.
type document struct {
	text string
	prog *compiler.Program
}

// LspServer bridges LSP editor features to the Minis compiler.
type LspServer struct {
	opts Options

	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP(opts Options) *LspServer {
	s := &LspServer{
		opts:    opts,
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidSave:   s.textDocumentDidSave,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
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
	log.Info("Minis LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: boolPtr(true)},
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

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

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := params.TextDocument.URI
	if params.Text != nil {
		s.update(ctx, uri, *params.Text)
		return nil
	}

	// Modules next to the file may have been rebuilt; recompile.
	if text, ok := s.text(uri); ok {
		s.update(ctx, uri, text)
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update stores text, recompiles it, and publishes the diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics, prog := s.diagnose(uri, text)

	s.mu.Lock()
	doc, ok := s.docs[string(uri)]
	if !ok {
		doc = &document{}
		s.docs[string(uri)] = doc
	}
	doc.text = text
	if prog != nil {
		doc.prog = prog
	}
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func (s *LspServer) text(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	if !ok {
		return "", false
	}
	return doc.text, true
}

func (s *LspServer) program(uri protocol.DocumentUri) (string, *compiler.Program, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	if !ok {
		return "", nil, false
	}
	return doc.text, doc.prog, true
}

// --- Diagnostics ---

// diagnose compiles text the way `minic build` would and converts every
// error and warning into an LSP diagnostic. It also returns the parsed
// program, or nil if parsing failed.
func (s *LspServer) diagnose(uri protocol.DocumentUri, text string) ([]protocol.Diagnostic, *compiler.Program) {
	path := uriToPath(uri)
	opts := compiler.Options{
		File:               path,
		SearchPaths:        append([]string{filepath.Dir(path)}, s.opts.SearchPaths...),
		Plugins:            plugin.NewRegistry(s.opts.PluginPaths...),
		AllowSelfReference: s.opts.AllowSelfReference,
	}

	res, err := compiler.Compile(context.Background(), text, opts)
	diagnostics := []protocol.Diagnostic{}
	for _, d := range res.Diagnostics.Items() {
		severity := protocol.DiagnosticSeverityWarning
		if d.Severity == compiler.SeverityError {
			severity = protocol.DiagnosticSeverityError
		}
		diagnostics = append(diagnostics, newDiagnostic(d.Pos, severity, d.Message))
	}

	if err != nil {
		var cerr *compiler.Error
		if errors.As(err, &cerr) {
			diagnostics = append(diagnostics, newDiagnostic(cerr.Pos, protocol.DiagnosticSeverityError, cerr.Message))
		} else {
			// Link failures carry no source position.
			diagnostics = append(diagnostics, newDiagnostic(compiler.Position{}, protocol.DiagnosticSeverityError, err.Error()))
		}
	}
	log.Debugf("%s: %d diagnostics", path, len(diagnostics))
	return diagnostics, res.Program
}

func newDiagnostic(pos compiler.Position, severity protocol.DiagnosticSeverity, msg string) protocol.Diagnostic {
	source := lspName
	start := toProtocol(pos)
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: start},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

// toProtocol converts a 1-based compiler position to a 0-based LSP one.
func toProtocol(pos compiler.Position) protocol.Position {
	var p protocol.Position
	if pos.Line > 0 {
		p.Line = protocol.UInteger(pos.Line - 1)
	}
	if pos.Column > 0 {
		p.Character = protocol.UInteger(pos.Column - 1)
	}
	return p
}

func uriToPath(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	return u.Path
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, prog, ok := s.program(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(prog, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, prog, ok := s.program(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(prog, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, prog, ok := s.program(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	if loc := definition(uri, prog, word); loc != nil {
		return loc, nil
	}
	return nil, nil
}

// complete offers keywords, builtins, the program's functions, imported
// module names, and main-level variables that start with prefix.
func complete(prog *compiler.Program, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(name string, kind protocol.CompletionItemKind, detail string) {
		if seen[name] || !strings.HasPrefix(name, prefix) {
			return
		}
		seen[name] = true
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	if prog != nil {
		for _, fn := range prog.Functions {
			add(fn.Name, protocol.CompletionItemKindFunction, signature(fn))
		}
		for _, imp := range prog.Imports {
			add(imp.Name, protocol.CompletionItemKindModule, "module")
		}
		var globals []string
		for _, stmt := range prog.Main {
			if let, ok := stmt.(*compiler.LetStmt); ok {
				globals = append(globals, let.Name)
			}
		}
		sort.Strings(globals)
		for _, name := range globals {
			add(name, protocol.CompletionItemKindVariable, "global")
		}
	}
	for _, name := range compiler.Builtins {
		add(name, protocol.CompletionItemKindFunction, "builtin")
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

// hover describes a user function or a builtin.
func hover(prog *compiler.Program, word string) *protocol.Hover {
	var value string
	if fn := lookupFunction(prog, word); fn != nil {
		value = fmt.Sprintf("```minis\nfn %s%s\n```\n\ncompiled as `%s`", fn.Name, signature(fn), compiler.MangleFunction(fn.Name))
	} else if compiler.IsBuiltin(word) {
		value = fmt.Sprintf("**%s** (builtin)", word)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// definition locates the declaration of a user function in the same
// document.
func definition(uri protocol.DocumentUri, prog *compiler.Program, word string) *protocol.Location {
	fn := lookupFunction(prog, word)
	if fn == nil {
		return nil
	}
	return &protocol.Location{
		URI: uri,
		Range: protocol.Range{
			Start: toProtocol(fn.SpanVal.Start),
			End:   toProtocol(fn.SpanVal.End),
		},
	}
}

func lookupFunction(prog *compiler.Program, name string) *compiler.FuncDecl {
	if prog == nil {
		return nil
	}
	for _, fn := range prog.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

func signature(fn *compiler.FuncDecl) string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Name
	}
	sig := "(" + strings.Join(params, ", ") + ")"
	switch {
	case fn.IsVoid:
		sig += " -> void"
	case fn.IsTyped:
		sig += " -> " + fn.ReturnType.String()
	}
	return sig
}

// --- Text extraction helpers ---

// extractPrefix returns the identifier fragment before the cursor for
// completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isIdentChar(b byte) bool {
	ch := rune(b)
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
