// Package lsp implements the caller-discovery backend on top of a language
// server speaking JSON-RPC 2.0 over stdio.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/abramin/upstream/internal/backend"
)

// TextSource supplies document text for textDocument/didOpen.
type TextSource interface {
	Text(ctx context.Context, file string) (string, error)
}

// Config configures a language server client.
type Config struct {
	Command     []string // argv of the server process
	RootDir     string
	LanguageID  string
	InitTimeout time.Duration
	Logger      *slog.Logger
}

// Client is a language server session. It implements
// backend.CallHierarchyProvider, backend.CodeLensProvider and
// backend.ReferenceProvider; capabilities the server does not advertise
// return backend.ErrUnsupported.
type Client struct {
	conn   *jsonrpc2.Conn
	cmd    *exec.Cmd
	docs   TextSource
	cfg    Config
	logger *slog.Logger
	caps   serverCapabilities

	mu     sync.Mutex
	opened map[string]bool // uri -> didOpen sent
}

type serverCapabilities struct {
	CallHierarchy bool
	CodeLens      bool
	ResolveLens   bool
	References    bool
}

// Start launches the configured server process and performs the initialize handshake.
func Start(ctx context.Context, cfg Config, docs TextSource) (*Client, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("no language server command configured")
	}
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.RootDir
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command[0], err)
	}

	c, err := connect(ctx, stdio{ReadCloser: stdout, WriteCloser: stdin}, cfg, docs)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

// connect runs the initialize handshake over an established stream.
func connect(ctx context.Context, rwc io.ReadWriteCloser, cfg Config, docs TextSource) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LanguageID == "" {
		cfg.LanguageID = "csharp"
	}
	c := &Client{
		docs:   docs,
		cfg:    cfg,
		logger: logger,
		opened: make(map[string]bool),
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(c.handle))

	initCtx := ctx
	if cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, cfg.InitTimeout)
		defer cancel()
	}
	if err := c.initialize(initCtx); err != nil {
		c.conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	rootURI := backend.URIFromFile(c.cfg.RootDir)
	params := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"callHierarchy": map[string]any{"dynamicRegistration": false},
				"codeLens":      map[string]any{"dynamicRegistration": false},
				"references":    map[string]any{"dynamicRegistration": false},
				"synchronization": map[string]any{
					"didSave": false,
				},
			},
			"workspace": map[string]any{"workspaceFolders": true},
		},
		"workspaceFolders": []map[string]string{{"uri": rootURI, "name": "root"}},
	}

	var result struct {
		Capabilities struct {
			CallHierarchyProvider json.RawMessage `json:"callHierarchyProvider"`
			ReferencesProvider    json.RawMessage `json:"referencesProvider"`
			CodeLensProvider      *struct {
				ResolveProvider bool `json:"resolveProvider"`
			} `json:"codeLensProvider"`
		} `json:"capabilities"`
	}
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.caps = serverCapabilities{
		CallHierarchy: enabled(result.Capabilities.CallHierarchyProvider),
		References:    enabled(result.Capabilities.ReferencesProvider),
		CodeLens:      result.Capabilities.CodeLensProvider != nil,
	}
	if result.Capabilities.CodeLensProvider != nil {
		c.caps.ResolveLens = result.Capabilities.CodeLensProvider.ResolveProvider
	}
	if err := c.conn.Notify(ctx, "initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	c.logger.Debug("language server initialized",
		slog.Bool("call_hierarchy", c.caps.CallHierarchy),
		slog.Bool("code_lens", c.caps.CodeLens),
		slog.Bool("references", c.caps.References),
	)
	return nil
}

// enabled interprets a "boolean | options" capability value.
func enabled(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	s := string(raw)
	return s != "null" && s != "false"
}

// handle answers server-to-client traffic. Requests get a null result,
// notifications are logged.
func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if req.Notif {
		if req.Method == "window/logMessage" && req.Params != nil {
			var msg struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(*req.Params, &msg); err == nil {
				c.logger.Debug("language server", slog.String("message", msg.Message))
			}
		}
		return nil, nil
	}
	c.logger.Debug("server request answered with null", slog.String("method", req.Method))
	return nil, nil
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type textDocumentPositionParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     backend.Position       `json:"position"`
}

// ensureOpen sends textDocument/didOpen the first time a file is queried.
func (c *Client) ensureOpen(ctx context.Context, file string) (string, error) {
	uri := backend.URIFromFile(file)
	c.mu.Lock()
	done := c.opened[uri]
	c.mu.Unlock()
	if done || c.docs == nil {
		return uri, nil
	}

	text, err := c.docs.Text(ctx, file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": c.cfg.LanguageID,
			"version":    1,
			"text":       text,
		},
	}
	if err := c.conn.Notify(ctx, "textDocument/didOpen", params); err != nil {
		return "", fmt.Errorf("didOpen: %w", err)
	}
	c.mu.Lock()
	c.opened[uri] = true
	c.mu.Unlock()
	return uri, nil
}

// PrepareCallHierarchy implements backend.CallHierarchyProvider.
func (c *Client) PrepareCallHierarchy(ctx context.Context, file string, pos backend.Position) ([]backend.CallHierarchyItem, error) {
	if !c.caps.CallHierarchy {
		return nil, backend.ErrUnsupported
	}
	uri, err := c.ensureOpen(ctx, file)
	if err != nil {
		return nil, err
	}
	var items []backend.CallHierarchyItem
	params := textDocumentPositionParams{TextDocument: textDocumentIdentifier{URI: uri}, Position: pos}
	if err := c.conn.Call(ctx, "textDocument/prepareCallHierarchy", params, &items); err != nil {
		return nil, fmt.Errorf("prepareCallHierarchy: %w", err)
	}
	return items, nil
}

// IncomingCalls implements backend.CallHierarchyProvider.
func (c *Client) IncomingCalls(ctx context.Context, item backend.CallHierarchyItem) ([]backend.IncomingCall, error) {
	if !c.caps.CallHierarchy {
		return nil, backend.ErrUnsupported
	}
	var calls []backend.IncomingCall
	if err := c.conn.Call(ctx, "callHierarchy/incomingCalls", map[string]any{"item": item}, &calls); err != nil {
		return nil, fmt.Errorf("incomingCalls: %w", err)
	}
	return calls, nil
}

// CodeLenses implements backend.CodeLensProvider. Unresolved lenses are
// resolved when the server supports it.
func (c *Client) CodeLenses(ctx context.Context, file string) ([]backend.CodeLens, error) {
	if !c.caps.CodeLens {
		return nil, backend.ErrUnsupported
	}
	uri, err := c.ensureOpen(ctx, file)
	if err != nil {
		return nil, err
	}
	var lenses []backend.CodeLens
	params := map[string]any{"textDocument": textDocumentIdentifier{URI: uri}}
	if err := c.conn.Call(ctx, "textDocument/codeLens", params, &lenses); err != nil {
		return nil, fmt.Errorf("codeLens: %w", err)
	}
	if !c.caps.ResolveLens {
		return lenses, nil
	}
	for i := range lenses {
		if lenses[i].Command != nil {
			continue
		}
		var resolved backend.CodeLens
		if err := c.conn.Call(ctx, "codeLens/resolve", lenses[i], &resolved); err != nil {
			c.logger.Debug("codeLens/resolve failed", slog.Any("error", err))
			continue
		}
		lenses[i] = resolved
	}
	return lenses, nil
}

// References implements backend.ReferenceProvider. The declaration itself is not requested.
func (c *Client) References(ctx context.Context, file string, pos backend.Position) ([]backend.Location, error) {
	if !c.caps.References {
		return nil, backend.ErrUnsupported
	}
	uri, err := c.ensureOpen(ctx, file)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"textDocument": textDocumentIdentifier{URI: uri},
		"position":     pos,
		"context":      map[string]bool{"includeDeclaration": false},
	}
	var locs []backend.Location
	if err := c.conn.Call(ctx, "textDocument/references", params, &locs); err != nil {
		return nil, fmt.Errorf("references: %w", err)
	}
	return locs, nil
}

// Close shuts the server down and waits for the process to exit. A server
// still running when ctx is done is killed.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if err := c.conn.Call(ctx, "shutdown", nil, nil); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := c.conn.Notify(ctx, "exit", nil); err != nil {
		errs = append(errs, fmt.Errorf("exit: %w", err))
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		errs = append(errs, err)
	}
	if c.cmd != nil {
		if err := waitOrKill(ctx, c.cmd); err != nil {
			c.logger.Debug("language server exited", slog.Any("error", err))
		}
	}
	return errors.Join(errs...)
}

// waitOrKill waits for cmd to exit, killing it once ctx is done.
func waitOrKill(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

// stdio joins a process's stdout and stdin into one stream.
type stdio struct {
	io.ReadCloser
	io.WriteCloser
}

func (s stdio) Close() error {
	return errors.Join(s.WriteCloser.Close(), s.ReadCloser.Close())
}
