package server

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/jarray"
	"github.com/chazu/jfe/script"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "jfe-lsp"

// DefaultLSPTimeout bounds each engine call made for an editor request.
const DefaultLSPTimeout = 5 * time.Second

// LspServer bridges LSP editor features to an engine session via
// EngineWorker. Saved documents are run as scripts, so names they define
// become available to hover and completion.
type LspServer struct {
	worker  *EngineWorker
	timeout time.Duration

	mu   sync.Mutex
	docs map[string]string // open documents by URI

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server over worker. The worker is stopped when
// the client shuts the server down.
func NewLSP(worker *EngineWorker) *LspServer {
	s := &LspServer{
		worker:  worker,
		timeout: DefaultLSPTimeout,
		docs:    make(map[string]string),
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
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run serves LSP over stdin/stdout until the client goes away.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- Lifecycle ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "jfe LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
		Save:      protocol.SaveOptions{IncludeText: boolPtr(true)},
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

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

// --- Documents ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.mu.Lock()
	s.docs[string(params.TextDocument.URI)] = params.TextDocument.Text
	s.mu.Unlock()
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// Full sync: the last event holds the whole text.
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	if params.Text != nil {
		s.docs[string(uri)] = *params.Text
	}
	text, ok := s.docs[string(uri)]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	diagnostics := s.diagnose(text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Requests ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(prefix)
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" || !command.ValidName(word) {
		return nil, nil
	}
	return s.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	locs := definitions(text, word, params.TextDocument.URI)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(text, word, params.TextDocument.URI), nil
}

// --- Engine-backed logic ---

func (s *LspServer) call(fn func(*command.Protocol) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.worker.Do(ctx, fn)
}

func (s *LspServer) complete(prefix string) ([]protocol.CompletionItem, error) {
	result, err := s.call(func(p *command.Protocol) (any, error) {
		return p.Names()
	})
	if err != nil {
		return nil, err
	}
	names, _ := result.([]string)

	var items []protocol.CompletionItem
	for _, name := range complete(names, prefix) {
		kind := protocol.CompletionItemKindVariable
		detail := "name"
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}
	return items, nil
}

type hoverInfo struct {
	text  string
	value jarray.Value
	ok    bool
}

func (s *LspServer) hover(word string) *protocol.Hover {
	result, err := s.call(func(p *command.Protocol) (any, error) {
		text, err := p.EvalText(word)
		if err != nil {
			return hoverInfo{}, nil
		}
		v, err := p.EvalValue(word)
		if err != nil {
			return hoverInfo{text: text}, nil
		}
		return hoverInfo{text: text, value: v, ok: true}, nil
	})
	if err != nil {
		log.Debugf("hover %s: %v", word, err)
		return nil
	}
	info := result.(hoverInfo)
	if info.text == "" && !info.ok {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", word)
	if info.ok {
		fmt.Fprintf(&b, " `%s`", info.value.String())
	}
	if info.text != "" {
		fmt.Fprintf(&b, "\n\n```\n%s\n```", info.text)
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Diagnostics ---

// diagnose runs text as a script. The sentence that stops it, if any,
// becomes an error diagnostic on its line.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	result, err := s.call(func(p *command.Protocol) (any, error) {
		return script.Run(p, text)
	})
	severity := protocol.DiagnosticSeverityError
	source := lspName
	diagnostics := []protocol.Diagnostic{}

	if err != nil {
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    lineRange(text, 0),
			Severity: &severity,
			Source:   &source,
			Message:  err.Error(),
		})
		return diagnostics
	}

	results, _ := result.([]script.Result)
	if f, failed := script.Failure(results); failed {
		msg := strings.TrimSpace(f.Output)
		if msg == "" {
			msg = fmt.Sprintf("status %d", f.Status)
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    lineRange(text, f.Line-1),
			Severity: &severity,
			Source:   &source,
			Message:  msg,
		})
	}
	return diagnostics
}

// lineRange covers the whole of a zero-based line.
func lineRange(text string, line int) protocol.Range {
	lines := strings.Split(text, "\n")
	end := 0
	if line >= 0 && line < len(lines) {
		end = len(strings.TrimRight(lines[line], "\r"))
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
	}
}

// --- Document-local navigation ---

// definitions finds assignments to word in text.
func definitions(text, word string, uri protocol.DocumentUri) []protocol.Location {
	re := regexp.MustCompile(`(^|[^A-Za-z0-9_])(` + regexp.QuoteMeta(word) + `)\s*=[.:]`)
	return locate(text, re, uri)
}

// references finds every use of word in text outside comments.
func references(text, word string, uri protocol.DocumentUri) []protocol.Location {
	re := regexp.MustCompile(`(^|[^A-Za-z0-9_])(` + regexp.QuoteMeta(word) + `)([^A-Za-z0-9_.:]|$)`)
	return locate(text, re, uri)
}

func locate(text string, re *regexp.Regexp, uri protocol.DocumentUri) []protocol.Location {
	var locs []protocol.Location
	for i, line := range strings.Split(text, "\n") {
		if c := strings.Index(line, "NB."); c >= 0 {
			line = line[:c]
		}
		for _, m := range re.FindAllStringSubmatchIndex(line, -1) {
			start, end := m[4], m[5]
			locs = append(locs, protocol.Location{
				URI: uri,
				Range: protocol.Range{
					Start: protocol.Position{Line: protocol.UInteger(i), Character: protocol.UInteger(start)},
					End:   protocol.Position{Line: protocol.UInteger(i), Character: protocol.UInteger(end)},
				},
			})
		}
	}
	return locs
}

// --- Words under the cursor ---

func isNameChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the name fragment before the cursor for completion.
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

	start := col
	for start > 0 && isNameChar(rune(line[start-1])) {
		start--
	}
	if start == col {
		return ""
	}
	return line[start:col]
}

// extractWord returns the full name under the cursor.
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
	for start > 0 && isNameChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isNameChar(rune(line[end])) {
		end++
	}
	if start == end {
		return ""
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
