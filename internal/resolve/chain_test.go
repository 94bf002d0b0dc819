package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/upstream/internal/backend"
	"github.com/abramin/upstream/internal/model"
)

type fakeHierarchy struct {
	items []backend.CallHierarchyItem
	calls []backend.IncomingCall
	err   error
}

func (f *fakeHierarchy) PrepareCallHierarchy(context.Context, string, backend.Position) ([]backend.CallHierarchyItem, error) {
	return f.items, f.err
}

func (f *fakeHierarchy) IncomingCalls(context.Context, backend.CallHierarchyItem) ([]backend.IncomingCall, error) {
	return f.calls, nil
}

type fakeLenses struct{ lenses []backend.CodeLens }

func (f *fakeLenses) CodeLenses(context.Context, string) ([]backend.CodeLens, error) {
	return f.lenses, nil
}

type fakeRefs struct {
	locs  []backend.Location
	err   error
	calls int
}

func (f *fakeRefs) References(context.Context, string, backend.Position) ([]backend.Location, error) {
	f.calls++
	return f.locs, f.err
}

type fakeFinder struct{ sites []model.CallSite }

func (f fakeFinder) FindCalls(context.Context, string) ([]model.CallSite, error) {
	return f.sites, nil
}

func loc(uri string, line, char int) backend.Location {
	return backend.Location{URI: uri, Range: backend.Range{Start: backend.Position{Line: line, Character: char}}}
}

var target = Target{Symbol: "Save", Position: model.SourcePosition{File: "/src/Repo.cs", Line: 10, Character: 16}}

func TestResolveCallHierarchyWins(t *testing.T) {
	h := &fakeHierarchy{
		items: []backend.CallHierarchyItem{{Name: "Save"}},
		calls: []backend.IncomingCall{
			{From: backend.CallHierarchyItem{URI: "file:///src/A.cs"}, FromRanges: []backend.Range{{Start: backend.Position{Line: 4, Character: 8}}}},
			{From: backend.CallHierarchyItem{URI: "file:///src/B.cs", SelectionRange: backend.Range{Start: backend.Position{Line: 20, Character: 3}}}},
		},
	}
	refs := &fakeRefs{locs: []backend.Location{loc("file:///src/C.cs", 1, 1)}}
	c := NewChain(backend.Capabilities{CallHierarchy: h, References: refs}, nil, Options{})

	res := c.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelCallHierarchy, res.Strategy)
	require.Len(t, res.Locations, 2)
	assert.Equal(t, 4, res.Locations[0].Line)
	assert.Equal(t, 20, res.Locations[1].Line)
	assert.Zero(t, refs.calls, "lower-ranked strategies are not queried")
}

func TestResolveFallsThroughToReferences(t *testing.T) {
	h := &fakeHierarchy{err: errors.New("server crashed")}
	lenses := &fakeLenses{}
	refs := &fakeRefs{locs: []backend.Location{loc("file:///src/A.cs", 1, 2), loc("file:///src/B.cs", 3, 4), loc("file:///src/C.cs", 5, 6)}}
	c := NewChain(backend.Capabilities{CallHierarchy: h, CodeLens: lenses, References: refs}, nil, Options{})

	res := c.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelReferences, res.Strategy)
	assert.Len(t, res.Locations, 3)
}

func TestResolveCodeLens(t *testing.T) {
	args := []json.RawMessage{
		json.RawMessage(`"file:///src/Repo.cs"`),
		json.RawMessage(`{"line":10,"character":16}`),
		json.RawMessage(`[{"uri":"file:///src/A.cs","range":{"start":{"line":7,"character":2},"end":{"line":7,"character":6}}}]`),
	}
	lenses := &fakeLenses{lenses: []backend.CodeLens{
		{Range: backend.Range{Start: backend.Position{Line: 2}}, Command: &backend.Command{Command: "editor.action.showReferences", Arguments: args}},
		{Range: backend.Range{Start: backend.Position{Line: 9}}, Command: &backend.Command{Command: "dotnet.run"}},
		{Range: backend.Range{Start: backend.Position{Line: 12}}, Command: &backend.Command{Command: "editor.action.showReferences", Arguments: args}},
		{Range: backend.Range{Start: backend.Position{Line: 9}}, Command: &backend.Command{Command: "editor.action.showReferences", Arguments: args[:2]}},
	}}
	c := NewChain(backend.Capabilities{CodeLens: lenses}, nil, Options{})

	res := c.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelCodeLens, res.Strategy)
	require.Len(t, res.Locations, 1)
	assert.Equal(t, 7, res.Locations[0].Line)
}

func TestResolveCodeLensOutOfRange(t *testing.T) {
	args := []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`), json.RawMessage(`[{"uri":"file:///a.cs","range":{"start":{"line":1,"character":1},"end":{"line":1,"character":1}}}]`)}
	lenses := &fakeLenses{lenses: []backend.CodeLens{
		{Range: backend.Range{Start: backend.Position{Line: 14}}, Command: &backend.Command{Command: "editor.action.showReferences", Arguments: args}},
	}}
	c := NewChain(backend.Capabilities{CodeLens: lenses}, nil, Options{})
	res := c.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelFileScanDisabled, res.Strategy)
	assert.Empty(t, res.Locations)
}

func TestResolveFileScan(t *testing.T) {
	finder := fakeFinder{sites: []model.CallSite{
		{SourcePosition: model.SourcePosition{File: "/src/Repo.cs", Line: 10, Character: 16}},
		{SourcePosition: model.SourcePosition{File: "/src/A.cs", Line: 3, Character: 4}},
	}}
	refs := &fakeRefs{err: backend.ErrUnsupported}

	disabled := NewChain(backend.Capabilities{References: refs}, finder, Options{})
	res := disabled.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelFileScanDisabled, res.Strategy)

	res = disabled.Resolve(context.Background(), target, true)
	assert.Equal(t, LabelFileScan, res.Strategy)
	require.Len(t, res.Locations, 1, "the target's own line is excluded")
	assert.Equal(t, "/src/A.cs", res.Locations[0].File)

	enabled := NewChain(backend.Capabilities{}, finder, Options{FileScan: true})
	res = enabled.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelFileScan, res.Strategy)

	empty := NewChain(backend.Capabilities{}, fakeFinder{}, Options{FileScan: true})
	res = empty.Resolve(context.Background(), target, false)
	assert.Equal(t, LabelNoResults, res.Strategy)
}

func TestResolveCancelled(t *testing.T) {
	refs := &fakeRefs{locs: []backend.Location{loc("file:///a.cs", 1, 1)}}
	c := NewChain(backend.Capabilities{References: refs}, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Resolve(ctx, target, false)
	assert.Empty(t, res.Locations)
	assert.Zero(t, refs.calls)
}

func TestReferences(t *testing.T) {
	c := NewChain(backend.Capabilities{}, nil, Options{})
	_, err := c.References(context.Background(), target)
	assert.ErrorIs(t, err, backend.ErrUnsupported)

	refs := &fakeRefs{locs: []backend.Location{loc("file:///a.cs", 1, 1)}}
	c = NewChain(backend.Capabilities{References: refs}, nil, Options{})
	locs, err := c.References(context.Background(), target)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
	assert.Equal(t, []string{LabelReferences}, c.Strategies())
}
