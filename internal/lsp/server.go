package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/engine"
	"github.com/redactyl/entropyscan/internal/exclusion"
)

// ErrExitWithoutShutdown is returned by Run when the client sends exit
// before shutdown.
var ErrExitWithoutShutdown = errors.New("exit received before shutdown")

// watchedConfigGlobs are registered with clients that support dynamic
// file watching.
var watchedConfigGlobs = []string{"**/" + config.TartufoFile, "**/" + config.PyprojectFile}

type openDoc struct {
	uri     string
	text    string
	version int
}

// Server is a language server that publishes high-entropy diagnostics for
// open documents.
type Server struct {
	rwc     io.ReadWriteCloser
	conn    *jsonrpc2.Conn
	ready   chan struct{} // closed once conn is set
	exit    chan error
	engine  *engine.Engine
	docs    *engine.Documents
	log     zerolog.Logger
	name    string
	version string

	// exclusionsFile overrides discovery of the exclusion file; relative
	// paths are resolved against the workspace root.
	exclusionsFile string

	mu           sync.Mutex
	open         map[string]openDoc
	related      bool
	initialized  bool
	shutdown     bool
	dynamicWatch bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Logs never go to the protocol stream.
// At trace level every JSON-RPC message is logged as well.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithEngine scans with e instead of a default engine.
func WithEngine(e *engine.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithExclusionsFile reads exclusions from path instead of discovering
// tartufo.toml or pyproject.toml.
func WithExclusionsFile(path string) Option {
	return func(s *Server) { s.exclusionsFile = path }
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// stdio joins the two halves of the protocol stream.
type stdio struct {
	io.Reader
	io.Writer
}

func (s stdio) Close() error {
	var err error
	if c, ok := s.Reader.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := s.Writer.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewServer returns a server speaking over in and out.
func NewServer(in io.Reader, out io.Writer, opts ...Option) *Server {
	s := &Server{
		rwc:   stdio{Reader: in, Writer: out},
		ready: make(chan struct{}),
		exit:  make(chan error, 1),
		log:   zerolog.Nop(),
		name:  "entropyscan",
		open:  map[string]openDoc{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = engine.New(engine.WithLogger(s.log))
	}
	s.docs = engine.NewDocuments(s.engine, s)
	return s
}

// Run serves requests until the client sends exit, the stream ends or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var connOpts []jsonrpc2.ConnOpt
	if s.log.GetLevel() == zerolog.TraceLevel {
		trace := s.log.With().Str("component", "jsonrpc").Logger()
		connOpts = append(connOpts, jsonrpc2.LogMessages(&trace))
	}
	stream := jsonrpc2.NewBufferedStream(s.rwc, jsonrpc2.VSCodeObjectCodec{})
	s.conn = jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle), connOpts...)
	close(s.ready)
	defer s.conn.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.exit:
		return err
	case <-s.conn.DisconnectNotify():
		select {
		case err := <-s.exit:
			return err
		default:
			return nil
		}
	}
}

// handle answers one request or notification. Requests are handled in
// arrival order on the connection's read loop.
func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	<-s.ready
	result, err := s.dispatch(ctx, req)
	if req.Notif {
		if err != nil {
			s.log.Warn().Str("method", req.Method).Err(err).Msg("notification failed")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func rpcError(code int64, format string, args ...any) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.mu.Lock()
	initialized, shutdown := s.initialized, s.shutdown
	s.mu.Unlock()

	if req.Method == "exit" {
		var err error
		if !shutdown {
			err = ErrExitWithoutShutdown
		}
		select {
		case s.exit <- err:
		default:
		}
		return nil, nil
	}
	if !initialized && req.Method != "initialize" {
		if req.Notif {
			return nil, nil
		}
		return nil, rpcError(CodeServerNotInitialized, "server not initialized")
	}
	if shutdown && !req.Notif {
		return nil, rpcError(jsonrpc2.CodeInvalidRequest, "server is shutting down")
	}

	switch req.Method {
	case "initialize":
		var p protocol.InitializeParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.initialize(p), nil
	case "initialized":
		s.registerWatchers(ctx)
		return nil, nil
	case "shutdown":
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		return nil, nil
	case "textDocument/didOpen":
		var p protocol.DidOpenTextDocumentParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		s.didOpen(p)
		return nil, nil
	case "textDocument/didChange":
		var p protocol.DidChangeTextDocumentParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		s.didChange(p)
		return nil, nil
	case "textDocument/didClose":
		var p protocol.DidCloseTextDocumentParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		s.didClose(p)
		return nil, nil
	case "workspace/didChangeWatchedFiles":
		s.log.Debug().Msg("watched files changed")
		s.reloadExclusions()
		return nil, nil
	case "workspace/didChangeWorkspaceFolders":
		var p protocol.DidChangeWorkspaceFoldersParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		s.didChangeWorkspaceFolders(p)
		return nil, nil
	case "textDocument/codeAction":
		var p protocol.CodeActionParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return codeActions(p), nil
	case "workspace/executeCommand":
		var p protocol.ExecuteCommandParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.executeCommand(p)
	case "$/cancelRequest", "$/setTrace", "workspace/didChangeConfiguration":
		return nil, nil
	}
	return nil, rpcError(jsonrpc2.CodeMethodNotFound, "method not found: %s", req.Method)
}

func unmarshalParams(raw *json.RawMessage, v any) error {
	if raw == nil || len(*raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(*raw, v); err != nil {
		return rpcError(jsonrpc2.CodeInvalidParams, "%v", err)
	}
	return nil
}

func (s *Server) initialize(p protocol.InitializeParams) protocol.InitializeResult {
	root := rootFromParams(p)
	caps := p.Capabilities
	s.mu.Lock()
	s.initialized = true
	s.related = caps.TextDocument != nil && caps.TextDocument.PublishDiagnostics != nil &&
		caps.TextDocument.PublishDiagnostics.RelatedInformation
	s.dynamicWatch = caps.Workspace != nil && caps.Workspace.DidChangeWatchedFiles != nil &&
		caps.Workspace.DidChangeWatchedFiles.DynamicRegistration
	s.mu.Unlock()

	s.engine.SetRoot(root)
	s.log.Info().Str("root", root).Msg("initialized")
	s.reloadExclusions()

	res := protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
			},
			CodeActionProvider: protocol.CodeActionOptions{
				CodeActionKinds: []protocol.CodeActionKind{protocol.QuickFix},
			},
			ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
				Commands: []string{ExcludeSignatureCommand},
			},
		},
		ServerInfo: &protocol.ServerInfo{Name: s.name, Version: s.version},
	}
	if caps.Workspace != nil && caps.Workspace.WorkspaceFolders {
		res.Capabilities.Workspace = &protocol.ServerCapabilitiesWorkspace{
			WorkspaceFolders: &protocol.ServerCapabilitiesWorkspaceFolders{Supported: true, ChangeNotifications: true},
		}
	}
	return res
}

// rootFromParams prefers rootUri, then rootPath, then the first workspace
// folder.
func rootFromParams(p protocol.InitializeParams) string {
	if p.RootURI != "" {
		if path, ok := URIToPath(string(p.RootURI)); ok {
			return path
		}
	}
	if p.RootPath != "" {
		return p.RootPath
	}
	for _, f := range p.WorkspaceFolders {
		if path, ok := URIToPath(string(f.URI)); ok {
			return path
		}
	}
	return ""
}

// registerWatchers asks the client to watch the exclusion files. The call
// runs in the background since responses are read by the loop running
// this handler.
func (s *Server) registerWatchers(ctx context.Context) {
	s.mu.Lock()
	dynamic := s.dynamicWatch
	s.mu.Unlock()
	if !dynamic {
		return
	}
	watchers := make([]protocol.FileSystemWatcher, 0, len(watchedConfigGlobs))
	for _, g := range watchedConfigGlobs {
		watchers = append(watchers, protocol.FileSystemWatcher{GlobPattern: g})
	}
	params := protocol.RegistrationParams{Registrations: []protocol.Registration{{
		ID:              "entropyscan-exclusions",
		Method:          "workspace/didChangeWatchedFiles",
		RegisterOptions: protocol.DidChangeWatchedFilesRegistrationOptions{Watchers: watchers},
	}}}
	go func() {
		var ignored json.RawMessage
		if err := s.conn.Call(ctx, "client/registerCapability", params, &ignored); err != nil {
			s.log.Warn().Err(err).Msg("register file watchers")
		}
	}()
}

// docPath maps a URI to the key used with Documents: the local path for
// file URIs, the URI itself otherwise.
func docPath(uri string) string {
	if p, ok := URIToPath(uri); ok {
		return p
	}
	return uri
}

func (s *Server) didOpen(p protocol.DidOpenTextDocumentParams) {
	uri := string(p.TextDocument.URI)
	path := docPath(uri)
	s.mu.Lock()
	s.open[path] = openDoc{uri: uri, text: p.TextDocument.Text, version: int(p.TextDocument.Version)}
	s.mu.Unlock()
	s.docs.Open(path, p.TextDocument.Text)
}

func (s *Server) didChange(p protocol.DidChangeTextDocumentParams) {
	if len(p.ContentChanges) == 0 {
		return
	}
	// Full sync: the last change holds the whole document.
	text := p.ContentChanges[len(p.ContentChanges)-1].Text
	uri := string(p.TextDocument.URI)
	path := docPath(uri)
	s.mu.Lock()
	s.open[path] = openDoc{uri: uri, text: text, version: int(p.TextDocument.Version)}
	s.mu.Unlock()
	s.docs.Change(path, text)
}

func (s *Server) didClose(p protocol.DidCloseTextDocumentParams) {
	path := docPath(string(p.TextDocument.URI))
	s.docs.Close(path)
	s.mu.Lock()
	delete(s.open, path)
	s.mu.Unlock()
}

func (s *Server) didChangeWorkspaceFolders(p protocol.DidChangeWorkspaceFoldersParams) {
	root := s.engine.Root()
	for _, f := range p.Event.Removed {
		if path, ok := URIToPath(string(f.URI)); ok && filepath.Clean(path) == root {
			root = ""
		}
	}
	if root == "" {
		for _, f := range p.Event.Added {
			if path, ok := URIToPath(string(f.URI)); ok {
				root = path
				break
			}
		}
	}
	s.log.Info().Str("root", root).Msg("workspace folders changed")
	s.engine.SetRoot(root)
	s.reloadExclusions()
}

// reloadExclusions reads the exclusion file for the current root and
// re-scans every open document. Missing or unreadable files reset the
// exclusions.
func (s *Server) reloadExclusions() {
	root := s.engine.Root()
	cfg, path, err := s.loadExclusions(root)
	switch {
	case errors.Is(err, config.ErrNoExclusionFile):
		s.log.Debug().Str("root", root).Msg("no exclusion file; exclusions cleared")
		s.docs.ResetConfig()
	case err != nil:
		s.log.Warn().Err(err).Str("file", path).Msg("exclusion file unreadable; exclusions cleared")
		s.docs.ResetConfig()
	default:
		s.log.Info().Str("file", path).Int("signatures", len(cfg.Signatures)).
			Int("path_patterns", len(cfg.PathPatterns)).Int("entropy_patterns", len(cfg.EntropyPatterns)).
			Msg("exclusions loaded")
		s.docs.Reload(cfg)
	}
}

func (s *Server) loadExclusions(root string) (exclusion.Config, string, error) {
	return config.LoadExclusionsWith(root, s.exclusionsFile)
}

func (s *Server) exclusionTarget(root string) string {
	return config.ResolveExclusionsFile(root, s.exclusionsFile)
}

func codeActions(p protocol.CodeActionParams) []protocol.CodeAction {
	out := []protocol.CodeAction{}
	for _, d := range p.Context.Diagnostics {
		if code, _ := d.Code.(string); code != DiagnosticCode {
			continue
		}
		sig := signatureOf(d)
		if sig == "" {
			continue
		}
		out = append(out, protocol.CodeAction{
			Title:       "Exclude signature from entropy scanner",
			Kind:        protocol.QuickFix,
			Diagnostics: []protocol.Diagnostic{d},
			IsPreferred: true,
			Command: &protocol.Command{
				Title:     "Exclude signature",
				Command:   ExcludeSignatureCommand,
				Arguments: []any{sig},
			},
		})
	}
	return out
}

func (s *Server) executeCommand(p protocol.ExecuteCommandParams) (any, error) {
	if p.Command != ExcludeSignatureCommand {
		return nil, rpcError(jsonrpc2.CodeInvalidParams, "unknown command: %s", p.Command)
	}
	if len(p.Arguments) == 0 {
		return nil, rpcError(jsonrpc2.CodeInvalidParams, "missing signature argument")
	}
	sig, _ := p.Arguments[0].(string)
	if sig == "" {
		return nil, rpcError(jsonrpc2.CodeInvalidParams, "signature argument must be a non-empty string")
	}
	root := s.engine.Root()
	if root == "" {
		return nil, rpcError(jsonrpc2.CodeInvalidRequest, "no workspace root to store exclusions in")
	}

	var (
		file  string
		added bool
		err   error
	)
	if target := s.exclusionTarget(root); target != "" {
		var n int
		n, err = config.AppendSignatures(target, sig)
		file, added = target, n > 0
	} else {
		file, added, err = config.AddSignatureExclusion(root, sig)
	}
	if err != nil {
		return nil, rpcError(jsonrpc2.CodeInternalError, "exclude signature: %v", err)
	}
	s.log.Info().Str("file", file).Str("signature", sig).Bool("added", added).Msg("signature excluded")
	s.reloadExclusions()
	return nil, nil
}

// Publish sends diagnostics for a scan result. It implements
// engine.Publisher.
func (s *Server) Publish(res engine.Result) {
	s.mu.Lock()
	d, ok := s.open[res.Path]
	related := s.related
	s.mu.Unlock()
	if !ok {
		d = openDoc{uri: PathToURI(res.Path)}
	}
	params := protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentURI(d.uri),
		Diagnostics: diagnostics(d.uri, d.text, res, related),
	}
	if ok && len(res.Findings) > 0 && d.version > 0 {
		params.Version = uint32(d.version)
	}
	if err := s.conn.Notify(context.Background(), "textDocument/publishDiagnostics", params); err != nil {
		s.log.Error().Err(err).Str("uri", d.uri).Msg("publish diagnostics")
	}
}
