package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/upstream/internal/backend"
)

type staticDocs map[string]string

func (d staticDocs) Text(_ context.Context, file string) (string, error) {
	text, ok := d[file]
	if !ok {
		return "", errors.New("no such document")
	}
	return text, nil
}

// fakeServer records the methods it receives and answers from canned results.
type fakeServer struct {
	mu      sync.Mutex
	methods []string
	caps    map[string]any
	results map[string]any
}

func (s *fakeServer) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	s.mu.Lock()
	s.methods = append(s.methods, req.Method)
	s.mu.Unlock()
	if req.Method == "initialize" {
		return map[string]any{"capabilities": s.caps}, nil
	}
	if res, ok := s.results[req.Method]; ok {
		return res, nil
	}
	return nil, nil
}

func (s *fakeServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func startPair(t *testing.T, srv *fakeServer, docs TextSource) *Client {
	t.Helper()
	ctx := context.Background()
	clientSide, serverSide := net.Pipe()
	serverConn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(srv.handle))
	t.Cleanup(func() { serverConn.Close() })

	c, err := connect(ctx, clientSide, Config{RootDir: t.TempDir(), InitTimeout: 5 * time.Second}, docs)
	require.NoError(t, err)
	return c
}

func TestClientReferences(t *testing.T) {
	srv := &fakeServer{
		caps: map[string]any{"referencesProvider": true},
		results: map[string]any{
			"textDocument/references": []backend.Location{
				{URI: "file:///src/a.cs", Range: backend.Range{Start: backend.Position{Line: 4, Character: 8}}},
			},
		},
	}
	c := startPair(t, srv, staticDocs{"/src/b.cs": "class B {}"})

	locs, err := c.References(context.Background(), "/src/b.cs", backend.Position{Line: 1, Character: 2})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, 4, locs[0].Range.Start.Line)

	_, err = c.PrepareCallHierarchy(context.Background(), "/src/b.cs", backend.Position{})
	assert.ErrorIs(t, err, backend.ErrUnsupported)
	_, err = c.CodeLenses(context.Background(), "/src/b.cs")
	assert.ErrorIs(t, err, backend.ErrUnsupported)

	// didOpen is sent once per document.
	_, err = c.References(context.Background(), "/src/b.cs", backend.Position{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		count := 0
		for _, m := range srv.seen() {
			if m == "textDocument/didOpen" {
				count++
			}
		}
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClientCallHierarchyAndLenses(t *testing.T) {
	item := backend.CallHierarchyItem{Name: "Place", URI: "file:///src/s.cs"}
	args := []json.RawMessage{
		json.RawMessage(`"file:///src/s.cs"`),
		json.RawMessage(`{"line":3,"character":4}`),
		json.RawMessage(`[{"uri":"file:///src/c.cs","range":{"start":{"line":9,"character":2},"end":{"line":9,"character":7}}}]`),
	}
	srv := &fakeServer{
		caps: map[string]any{
			"callHierarchyProvider": map[string]any{},
			"codeLensProvider":      map[string]any{"resolveProvider": true},
		},
		results: map[string]any{
			"textDocument/prepareCallHierarchy": []backend.CallHierarchyItem{item},
			"callHierarchy/incomingCalls": []backend.IncomingCall{
				{From: backend.CallHierarchyItem{Name: "Caller", URI: "file:///src/c.cs"}, FromRanges: []backend.Range{{Start: backend.Position{Line: 9, Character: 2}}}},
			},
			"textDocument/codeLens": []backend.CodeLens{{Range: backend.Range{Start: backend.Position{Line: 3}}}},
			"codeLens/resolve": backend.CodeLens{
				Range:   backend.Range{Start: backend.Position{Line: 3}},
				Command: &backend.Command{Title: "1 reference", Command: "editor.action.showReferences", Arguments: args},
			},
		},
	}
	c := startPair(t, srv, nil)
	ctx := context.Background()

	items, err := c.PrepareCallHierarchy(ctx, "/src/s.cs", backend.Position{Line: 3, Character: 4})
	require.NoError(t, err)
	require.Len(t, items, 1)

	calls, err := c.IncomingCalls(ctx, items[0])
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "Caller", calls[0].From.Name)

	lenses, err := c.CodeLenses(ctx, "/src/s.cs")
	require.NoError(t, err)
	require.Len(t, lenses, 1)
	require.NotNil(t, lenses[0].Command)
	assert.True(t, backend.IsShowReferences(lenses[0].Command))
	locs, err := backend.DecodeLocations(lenses[0].Command.Arguments[2])
	require.NoError(t, err)
	assert.Len(t, locs, 1)

	_, err = c.References(ctx, "/src/s.cs", backend.Position{})
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestEnabled(t *testing.T) {
	assert.True(t, enabled(json.RawMessage(`true`)))
	assert.True(t, enabled(json.RawMessage(`{"workDoneProgress":true}`)))
	assert.False(t, enabled(json.RawMessage(`false`)))
	assert.False(t, enabled(json.RawMessage(`null`)))
	assert.False(t, enabled(nil))
}

func TestWaitOrKillStopsUnresponsiveServer(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(path, "30")
	require.NoError(t, cmd.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = waitOrKill(ctx, cmd)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotNil(t, cmd.ProcessState, "the process was reaped")
}
