package lsp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/signature"
)

const highEntropyB64 = "aGVsbG93b3JsZGFiY2RlZmdoaWprbG1ub3BxcnN0dXZ3eHl6MTIzNDU2Nzg="

// testClient drives a server over in-memory pipes. Messages the server
// sends to the client are queued in order.
type testClient struct {
	t        *testing.T
	conn     *jsonrpc2.Conn
	incoming chan *jsonrpc2.Request
	done     chan error
	in       *io.PipeWriter
}

func startServer(t *testing.T, opts ...Option) *testClient {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	srv := NewServer(serverIn, serverOut, opts...)

	c := &testClient{t: t, incoming: make(chan *jsonrpc2.Request, 256), done: make(chan error, 1), in: clientOut}
	go func() { c.done <- srv.Run(context.Background()) }()
	stream := jsonrpc2.NewBufferedStream(stdio{Reader: clientIn, Writer: clientOut}, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(
		func(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
			c.incoming <- req
			return nil, nil
		}))
	t.Cleanup(func() {
		c.conn.Close()
		serverOut.Close()
	})
	return c
}

func (c *testClient) notify(method string, params any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.Notify(context.Background(), method, params))
}

// call sends a request, decodes its result into result and returns the
// messages the server sent before answering.
func (c *testClient) call(method string, params, result any) ([]*jsonrpc2.Request, error) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.conn.Call(ctx, method, params, result)
	var before []*jsonrpc2.Request
	for {
		select {
		case req := <-c.incoming:
			before = append(before, req)
		default:
			return before, err
		}
	}
}

func (c *testClient) next() *jsonrpc2.Request {
	c.t.Helper()
	select {
	case req := <-c.incoming:
		return req
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for message")
		return nil
	}
}

func decodeDiagnostics(t *testing.T, req *jsonrpc2.Request) protocol.PublishDiagnosticsParams {
	t.Helper()
	require.Equal(t, "textDocument/publishDiagnostics", req.Method)
	require.NotNil(t, req.Params)
	var p protocol.PublishDiagnosticsParams
	require.NoError(t, json.Unmarshal(*req.Params, &p))
	return p
}

func (c *testClient) diagnostics() protocol.PublishDiagnosticsParams {
	c.t.Helper()
	for {
		req := c.next()
		if req.Method == "textDocument/publishDiagnostics" {
			return decodeDiagnostics(c.t, req)
		}
	}
}

// initializeResult is decoded loosely since several capability members are
// unions.
type initializeResult struct {
	Capabilities struct {
		TextDocumentSync struct {
			OpenClose bool `json:"openClose"`
			Change    int  `json:"change"`
		} `json:"textDocumentSync"`
		CodeActionProvider struct {
			CodeActionKinds []string `json:"codeActionKinds"`
		} `json:"codeActionProvider"`
		ExecuteCommandProvider struct {
			Commands []string `json:"commands"`
		} `json:"executeCommandProvider"`
		Workspace *struct {
			WorkspaceFolders struct {
				Supported bool `json:"supported"`
			} `json:"workspaceFolders"`
		} `json:"workspace"`
	} `json:"capabilities"`
	ServerInfo struct {
		Name string `json:"name"`
	} `json:"serverInfo"`
}

func (c *testClient) initializeWith(root string, capabilities map[string]any) initializeResult {
	c.t.Helper()
	params := map[string]any{
		"processId":    nil,
		"rootUri":      PathToURI(root),
		"capabilities": capabilities,
	}
	var res initializeResult
	_, err := c.call("initialize", params, &res)
	require.NoError(c.t, err)
	c.notify("initialized", map[string]any{})
	return res
}

func (c *testClient) initialize(root string) initializeResult {
	c.t.Helper()
	return c.initializeWith(root, map[string]any{
		"workspace":    map[string]any{"workspaceFolders": true},
		"textDocument": map[string]any{"publishDiagnostics": map[string]any{"relatedInformation": true}},
	})
}

func (c *testClient) open(path, text string) protocol.PublishDiagnosticsParams {
	c.t.Helper()
	c.notify("textDocument/didOpen", map[string]any{"textDocument": map[string]any{
		"uri": PathToURI(path), "languageId": "plaintext", "version": 1, "text": text,
	}})
	return c.diagnostics()
}

func (c *testClient) change(path string, version int, text string) {
	c.t.Helper()
	c.notify("textDocument/didChange", map[string]any{
		"textDocument":   map[string]any{"uri": PathToURI(path), "version": version},
		"contentChanges": []map[string]any{{"text": text}},
	})
}

func rpcCode(t *testing.T, err error) int64 {
	t.Helper()
	var rerr *jsonrpc2.Error
	require.ErrorAs(t, err, &rerr)
	return rerr.Code
}

func TestServer_InitializeCapabilities(t *testing.T) {
	c := startServer(t)
	res := c.initialize(t.TempDir())
	assert.Equal(t, int(protocol.TextDocumentSyncKindFull), res.Capabilities.TextDocumentSync.Change)
	assert.True(t, res.Capabilities.TextDocumentSync.OpenClose)
	assert.Equal(t, []string{ExcludeSignatureCommand}, res.Capabilities.ExecuteCommandProvider.Commands)
	assert.Equal(t, []string{string(protocol.QuickFix)}, res.Capabilities.CodeActionProvider.CodeActionKinds)
	require.NotNil(t, res.Capabilities.Workspace)
	assert.True(t, res.Capabilities.Workspace.WorkspaceFolders.Supported)
	assert.Equal(t, "entropyscan", res.ServerInfo.Name)
}

func TestServer_RegistersWatchersWhenSupported(t *testing.T) {
	c := startServer(t)
	c.initializeWith(t.TempDir(), map[string]any{
		"workspace": map[string]any{"didChangeWatchedFiles": map[string]any{"dynamicRegistration": true}},
	})
	req := c.next()
	assert.Equal(t, "client/registerCapability", req.Method)
	assert.False(t, req.Notif)
	var p struct {
		Registrations []struct {
			Method          string `json:"method"`
			RegisterOptions struct {
				Watchers []struct {
					GlobPattern string `json:"globPattern"`
				} `json:"watchers"`
			} `json:"registerOptions"`
		} `json:"registrations"`
	}
	require.NoError(t, json.Unmarshal(*req.Params, &p))
	require.Len(t, p.Registrations, 1)
	assert.Equal(t, "workspace/didChangeWatchedFiles", p.Registrations[0].Method)
	require.Len(t, p.Registrations[0].RegisterOptions.Watchers, 2)
	assert.Equal(t, "**/"+config.TartufoFile, p.Registrations[0].RegisterOptions.Watchers[0].GlobPattern)
}

func TestServer_RequestBeforeInitialize(t *testing.T) {
	c := startServer(t)
	_, err := c.call("textDocument/codeAction", map[string]any{}, nil)
	assert.Equal(t, CodeServerNotInitialized, rpcCode(t, err))
}

func TestServer_PublishesDiagnostics(t *testing.T) {
	root := t.TempDir()
	c := startServer(t)
	c.initialize(root)

	path := filepath.Join(root, "a.txt")
	p := c.open(path, "é🙂 "+highEntropyB64)
	assert.Equal(t, PathToURI(path), string(p.URI))
	require.Len(t, p.Diagnostics, 1)
	d := p.Diagnostics[0]
	assert.Equal(t, protocol.DiagnosticSeverityWarning, d.Severity)
	assert.Equal(t, DiagnosticCode, d.Code)
	assert.Equal(t, "base64", d.Source)
	assert.Equal(t, "String has a high entropy.", d.Message)
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 0, Character: 4},
		End:   protocol.Position{Line: 0, Character: uint32(4 + len(highEntropyB64))},
	}, d.Range)

	sig := signature.Of(highEntropyB64, "a.txt")
	assert.Equal(t, sig, dataSignature(d.Data))
	require.Len(t, d.RelatedInformation, 2)
	assert.Equal(t, "String: "+highEntropyB64, d.RelatedInformation[0].Message)
	assert.Equal(t, "Tartufo Exclusion Signature: "+sig, d.RelatedInformation[1].Message)
}

func TestServer_ChangeAndClose(t *testing.T) {
	root := t.TempDir()
	c := startServer(t)
	c.initialize(root)
	path := filepath.Join(root, "a.txt")
	require.Len(t, c.open(path, highEntropyB64).Diagnostics, 1)

	c.change(path, 2, "clean")
	p := c.diagnostics()
	assert.NotNil(t, p.Diagnostics)
	assert.Empty(t, p.Diagnostics)

	c.change(path, 3, "x\n"+highEntropyB64)
	p = c.diagnostics()
	require.Len(t, p.Diagnostics, 1)
	assert.Equal(t, protocol.Position{Line: 1, Character: 0}, p.Diagnostics[0].Range.Start)
	assert.EqualValues(t, 3, p.Version)

	c.notify("textDocument/didClose", map[string]any{"textDocument": map[string]any{"uri": PathToURI(path)}})
	p = c.diagnostics()
	assert.Equal(t, PathToURI(path), string(p.URI))
	assert.Empty(t, p.Diagnostics)
}

func TestServer_CodeActionAndExcludeCommand(t *testing.T) {
	root := t.TempDir()
	c := startServer(t)
	c.initialize(root)
	path := filepath.Join(root, "a.txt")
	p := c.open(path, highEntropyB64)
	require.Len(t, p.Diagnostics, 1)

	var actions []protocol.CodeAction
	_, err := c.call("textDocument/codeAction", map[string]any{
		"textDocument": map[string]any{"uri": p.URI},
		"range":        p.Diagnostics[0].Range,
		"context":      map[string]any{"diagnostics": p.Diagnostics},
	}, &actions)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, protocol.QuickFix, actions[0].Kind)
	require.NotNil(t, actions[0].Command)
	assert.Equal(t, ExcludeSignatureCommand, actions[0].Command.Command)
	sig := signature.Of(highEntropyB64, "a.txt")
	assert.Equal(t, []any{sig}, actions[0].Command.Arguments)

	before, err := c.call("workspace/executeCommand", map[string]any{
		"command": ExcludeSignatureCommand, "arguments": []any{sig},
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	assert.Empty(t, decodeDiagnostics(t, before[len(before)-1]).Diagnostics)

	cfg, file, err := config.LoadExclusions(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, config.TartufoFile), file)
	assert.Equal(t, []string{sig}, cfg.Signatures)
}

func TestServer_CodeActionIgnoresForeignDiagnostics(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())
	var raw json.RawMessage
	_, err := c.call("textDocument/codeAction", map[string]any{"context": map[string]any{"diagnostics": []map[string]any{
		{"code": "other", "message": "m", "data": map[string]any{"signature": "x"}},
		{"code": DiagnosticCode, "message": "m"},
		{"code": 7, "message": "numeric code"},
	}}}, &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestServer_CodeActionFromRelatedInformation(t *testing.T) {
	d := protocol.Diagnostic{
		Code: DiagnosticCode,
		RelatedInformation: []protocol.DiagnosticRelatedInformation{
			{Message: "String: abc"},
			{Message: "Tartufo Exclusion Signature: deadbeef"},
		},
	}
	actions := codeActions(protocol.CodeActionParams{Context: protocol.CodeActionContext{Diagnostics: []protocol.Diagnostic{d}}})
	require.Len(t, actions, 1)
	assert.Equal(t, []any{"deadbeef"}, actions[0].Command.Arguments)
}

func TestServer_ExecuteCommandValidation(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())
	_, err := c.call("workspace/executeCommand", map[string]any{"command": "other"}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))

	_, err = c.call("workspace/executeCommand", map[string]any{"command": ExcludeSignatureCommand}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))

	_, err = c.call("workspace/executeCommand", map[string]any{"command": ExcludeSignatureCommand, "arguments": []any{42}}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestServer_InvalidParams(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())
	_, err := c.call("textDocument/codeAction", []int{1, 2}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestServer_WatchedFilesReload(t *testing.T) {
	root := t.TempDir()
	c := startServer(t)
	c.initialize(root)
	path := filepath.Join(root, "secrets", "test.txt")
	require.Len(t, c.open(path, highEntropyB64).Diagnostics, 1)

	tartufo := filepath.Join(root, config.TartufoFile)
	toml := "[tool.tartufo]\nexclude-path-patterns = [\"secrets/*.txt\"]\n"
	require.NoError(t, os.WriteFile(tartufo, []byte(toml), 0o644))
	c.notify("workspace/didChangeWatchedFiles", map[string]any{"changes": []map[string]any{{"uri": PathToURI(tartufo), "type": 1}}})
	assert.Empty(t, c.diagnostics().Diagnostics)

	require.NoError(t, os.Remove(tartufo))
	c.notify("workspace/didChangeWatchedFiles", map[string]any{"changes": []map[string]any{}})
	assert.Len(t, c.diagnostics().Diagnostics, 1)
}

func TestServer_WorkspaceFolderChange(t *testing.T) {
	root := t.TempDir()
	c := startServer(t)
	c.initialize(root)
	sub := filepath.Join(root, "sub")
	path := filepath.Join(sub, "a.txt")
	p := c.open(path, highEntropyB64)
	require.Len(t, p.Diagnostics, 1)
	assert.Equal(t, signature.Of(highEntropyB64, "sub/a.txt"), dataSignature(p.Diagnostics[0].Data))

	c.notify("workspace/didChangeWorkspaceFolders", map[string]any{"event": map[string]any{
		"removed": []map[string]any{{"uri": PathToURI(root), "name": "root"}},
		"added":   []map[string]any{{"uri": PathToURI(sub), "name": "sub"}},
	}})
	p = c.diagnostics()
	require.Len(t, p.Diagnostics, 1)
	assert.Equal(t, signature.Of(highEntropyB64, "a.txt"), dataSignature(p.Diagnostics[0].Data))
}

func TestServer_UnknownMethod(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())
	_, err := c.call("textDocument/hover", map[string]any{}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcCode(t, err))
}

func TestServer_ShutdownAndExit(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())
	var raw json.RawMessage
	_, err := c.call("shutdown", nil, &raw)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	_, err = c.call("textDocument/codeAction", map[string]any{}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidRequest), rpcCode(t, err))

	c.notify("exit", nil)
	select {
	case err := <-c.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestServer_ExitWithoutShutdown(t *testing.T) {
	c := startServer(t)
	c.notify("exit", nil)
	select {
	case err := <-c.done:
		assert.ErrorIs(t, err, ErrExitWithoutShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestServer_StreamEndStopsRun(t *testing.T) {
	c := startServer(t)
	require.NoError(t, c.in.Close())
	select {
	case err := <-c.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ContextCancelStopsRun(t *testing.T) {
	serverIn, _ := io.Pipe()
	_, serverOut := io.Pipe()
	srv := NewServer(serverIn, serverOut)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRootFromParams(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("/ws/a"), rootFromParams(protocol.InitializeParams{RootURI: "file:///ws/a", RootPath: "/ws/b"}))
	assert.Equal(t, "/ws/b", rootFromParams(protocol.InitializeParams{RootPath: "/ws/b"}))
	assert.Equal(t, filepath.FromSlash("/ws/c"), rootFromParams(protocol.InitializeParams{
		WorkspaceFolders: []protocol.WorkspaceFolder{{URI: "file:///ws/c", Name: "c"}},
	}))
	assert.Empty(t, rootFromParams(protocol.InitializeParams{}))
}
