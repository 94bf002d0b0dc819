package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/upstream/internal/model"
	"github.com/abramin/upstream/internal/tree"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleState() tree.State {
	caller := model.NewDeclaration("Place", "Shop.Services", model.SourcePosition{File: "/src/OrderService.cs", Line: 4, Character: 20})
	caller.HTTPAttribute = "[HttpPost]"
	caller.ReferenceLocations = []model.CallSite{{
		SourcePosition: model.SourcePosition{File: "/src/OrderService.cs", Line: 7, Character: 18},
		ReferenceType:  model.RefCall,
	}}
	root := model.NewDeclaration("Save", "Shop.Data", model.SourcePosition{File: "/src/Repo.cs", Line: 4, Character: 20})
	root.Children = []*model.Node{
		model.NewComment("hot path", "/src/OrderService.cs", 4),
		caller,
	}
	return tree.State{
		Trees:    []*model.Node{root},
		Checked:  map[string]bool{caller.Key(): false, root.Key(): true},
		Selected: []string{caller.Key()},
		Expanded: []string{caller.Key(), root.Key()},
	}
}

func TestOpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()

	st, err := Open(tmpDir)
	require.NoError(t, err)

	dir := filepath.Join(tmpDir, DirName)
	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(dir, "session.db"))
	assert.Equal(t, filepath.Join(dir, "session.db"), st.DBPath())

	assert.NoError(t, st.Close())
}

func TestOpenFailsOnUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := Open(file)
	assert.Error(t, err, "a file cannot hold the store directory")
}

func TestLoadSessionEmpty(t *testing.T) {
	st := openTestStore(t)

	state, err := st.LoadSession()
	require.NoError(t, err)
	assert.Empty(t, state.Trees)
	assert.Empty(t, state.Checked)
}

func TestSaveAndLoadSession(t *testing.T) {
	st := openTestStore(t)
	want := sampleState()

	require.NoError(t, st.SaveSession(want))

	got, err := st.LoadSession()
	require.NoError(t, err)

	require.Len(t, got.Trees, 1)
	root := got.Trees[0]
	assert.Equal(t, want.Trees[0].Key(), root.Key())
	require.Len(t, root.Children, 2)
	assert.True(t, root.Children[0].IsComment())

	caller := root.Children[1]
	assert.Equal(t, "[HttpPost]", caller.HTTPAttribute)
	require.Len(t, caller.ReferenceLocations, 1)
	assert.Equal(t, model.RefCall, caller.ReferenceLocations[0].ReferenceType)

	for key, checked := range want.Checked {
		assert.Equal(t, checked, got.Checked[key], key)
	}
	assert.Equal(t, []string{caller.Key()}, got.Selected)
	assert.Len(t, got.Expanded, 2)

	stats, err := st.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TreeCount)
	assert.Equal(t, 2, stats.StateCount)
	assert.False(t, stats.SavedAt.IsZero(), "saved_at was not recorded")
}

func TestSaveSessionReplacesPrevious(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveSession(sampleState()))
	require.NoError(t, st.SaveSession(tree.State{}))

	got, err := st.LoadSession()
	require.NoError(t, err)
	assert.Empty(t, got.Trees)
	assert.Empty(t, got.Checked)
	assert.Empty(t, got.Expanded)
}

func TestRecordAndListSearches(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	first := &SearchRecord{
		Symbol:     "Save",
		Namespace:  "Shop.Data",
		File:       "/src/Repo.cs",
		Line:       4,
		Mode:       SearchModeMethod,
		Strategy:   "Reference Provider",
		StartedAt:  base,
		Duration:   1500 * time.Millisecond,
		Methods:    3,
		References: 5,
	}
	require.NoError(t, st.RecordSearch(first))
	assert.NotEmpty(t, first.ID, "an id is assigned")

	second := &SearchRecord{Symbol: "Order", Mode: SearchModeClass, StartedAt: base.Add(time.Minute), Cancelled: true}
	require.NoError(t, st.RecordSearch(second))

	all, err := st.Searches(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Order", all[0].Symbol, "newest search comes first")
	assert.True(t, all[0].Cancelled)

	got := all[1]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Reference Provider", got.Strategy)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, got.StartedAt.Equal(base), "started_at = %v", got.StartedAt)

	limited, err := st.Searches(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestClearKeepsHistory(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveSession(sampleState()))
	require.NoError(t, st.RecordSearch(&SearchRecord{Symbol: "Save", Mode: SearchModeMethod, StartedAt: time.Now()}))
	require.NoError(t, st.Clear())

	stats, err := st.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TreeCount)

	searches, err := st.Searches(0)
	require.NoError(t, err)
	assert.Len(t, searches, 1, "history survives clear")
}

func TestMetadata(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SetMetadata("root", "/src"))
	require.NoError(t, st.SetMetadata("root", "/other"))
	v, err := st.GetMetadata("root")
	require.NoError(t, err)
	assert.Equal(t, "/other", v)
}

func TestSetProjectShowsInStats(t *testing.T) {
	st := openTestStore(t)

	stats, err := st.GetStats()
	require.NoError(t, err)
	assert.Empty(t, stats.Root)
	assert.Empty(t, stats.Strategies)

	require.NoError(t, st.SetProject("/repo", []string{"Reference Provider", "File Scan"}))
	stats, err = st.GetStats()
	require.NoError(t, err)
	assert.Equal(t, "/repo", stats.Root)
	assert.Equal(t, []string{"Reference Provider", "File Scan"}, stats.Strategies)
}
