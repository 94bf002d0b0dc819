package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/upstream/internal/model"
)

func TestIndentMakesChildOfPrecedingSibling(t *testing.T) {
	x, y, z := decl("X", 2), decl("Y", 3), decl("Z", 4)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, x, y, z))

	moved, err := m.Indent([]string{y.Key()})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	root := m.Trees()[0]
	assert.Equal(t, []string{"X", "Z"}, names(root.Children))
	assert.Equal(t, []string{"Y"}, names(root.Children[0].Children))
	assert.True(t, m.IsExpanded(x.Key()))
	assert.Empty(t, x.Children, "nodes of the previous forest are not modified")
}

func TestIndentContiguousSelection(t *testing.T) {
	x, y, z := decl("X", 2), decl("Y", 3), decl("Z", 4)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, x, y, z))

	moved, err := m.Indent([]string{y.Key(), z.Key()})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	root := m.Trees()[0]
	assert.Equal(t, []string{"X"}, names(root.Children))
	assert.Equal(t, []string{"Y", "Z"}, names(root.Children[0].Children))
}

func TestIndentSkipsCommentAnchors(t *testing.T) {
	x, y := decl("X", 2), decl("Y", 4)
	note := model.NewComment("note", shopFile, 4)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, x, note, y))

	_, err := m.Indent([]string{y.Key()})
	require.NoError(t, err)

	root := m.Trees()[0]
	require.Len(t, root.Children, 2)
	assert.Equal(t, "X", root.Children[0].Name)
	assert.True(t, root.Children[1].IsComment())
	assert.Equal(t, []string{"Y"}, names(root.Children[0].Children))
}

func TestIndentWithoutPrecedingSibling(t *testing.T) {
	x, y := decl("X", 2), decl("Y", 3)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, x, y))
	before := m.Trees()

	_, err := m.Indent([]string{x.Key()})
	assert.ErrorIs(t, err, ErrNoPrecedingSibling)
	assert.Same(t, before[0], m.Trees()[0])

	_, err = m.Indent([]string{"missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutdent(t *testing.T) {
	c := decl("C", 4)
	b := decl("B", 3, c)
	a := decl("A", 2, b)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, a, decl("D", 5)))

	moved, err := m.Outdent([]string{b.Key()})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	root := m.Trees()[0]
	assert.Equal(t, []string{"A", "B", "D"}, names(root.Children))
	assert.Empty(t, root.Children[0].Children)
	assert.Equal(t, []string{"C"}, names(root.Children[1].Children))
}

func TestOutdentNestedSelectionIsBottomUp(t *testing.T) {
	c := decl("C", 4)
	b := decl("B", 3, c)
	a := decl("A", 2, b)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, a))

	moved, err := m.Outdent([]string{b.Key(), c.Key()})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	root := m.Trees()[0]
	assert.Equal(t, []string{"A", "B"}, names(root.Children))
	assert.Equal(t, []string{"C"}, names(root.Children[0].Children))
	assert.Empty(t, root.Children[1].Children)
}

func TestOutdentRootFails(t *testing.T) {
	root := decl("R", 1, decl("A", 2))
	m := New(Options{})
	m.AddCallTree(root)

	_, err := m.Outdent([]string{root.Key()})
	assert.ErrorIs(t, err, ErrNoParent)
}

func TestMove(t *testing.T) {
	build := func() (*Model, []*model.Node) {
		kids := []*model.Node{decl("A", 2), decl("B", 3), decl("C", 4), decl("D", 5)}
		m := New(Options{})
		m.AddCallTree(decl("R", 1, kids...))
		return m, kids
	}

	tests := []struct {
		name  string
		pick  []int
		dir   Direction
		want  []string
		swaps int
	}{
		{"block up", []int{1, 2}, Up, []string{"B", "C", "A", "D"}, 2},
		{"block down", []int{1, 2}, Down, []string{"A", "D", "B", "C"}, 2},
		{"gapped up", []int{1, 3}, Up, []string{"B", "A", "D", "C"}, 2},
		{"first up", []int{0}, Up, []string{"A", "B", "C", "D"}, 0},
		{"last down", []int{3}, Down, []string{"A", "B", "C", "D"}, 0},
		{"top block stays", []int{0, 1}, Up, []string{"A", "B", "C", "D"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, kids := build()
			var keys []string
			for _, i := range tt.pick {
				keys = append(keys, kids[i].Key())
			}
			swaps, err := m.Move(keys, tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.swaps, swaps)
			assert.Equal(t, tt.want, names(m.Trees()[0].Children))
		})
	}
}

func TestMoveRejectsReferenceLocations(t *testing.T) {
	a := decl("A", 2)
	a.ReferenceLocations = []model.CallSite{site(9, 1)}
	m := New(Options{})
	m.AddCallTree(decl("R", 1, a))

	_, err := m.Move([]string{model.ReferenceKey(site(9, 1))}, Up)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRemoveNodePromotesChildren(t *testing.T) {
	b, c := decl("B", 3), decl("C", 4)
	a := decl("A", 2, b, c)
	root := decl("R", 1, a)
	m := New(Options{})
	m.AddCallTree(root)
	require.NoError(t, m.SetChecked(a.Key(), true))
	require.NoError(t, m.SetExpanded(a.Key(), true))
	require.NoError(t, m.SetExpanded(b.Key(), true))
	require.NoError(t, m.SetChecked(c.Key(), false))
	require.NoError(t, m.Select([]string{a.Key()}))

	require.NoError(t, m.RemoveNode(a.Key()))

	assert.Equal(t, []string{"B", "C"}, names(m.Trees()[0].Children))
	for _, state := range []map[string]bool{m.checked, m.selected, m.expanded} {
		assert.NotContains(t, state, a.Key())
	}
	assert.True(t, m.IsExpanded(b.Key()))
	assert.False(t, m.IsChecked(c.Key()))
}

func TestRemoveRootAndReferenceLocation(t *testing.T) {
	a := decl("A", 2)
	a.ReferenceLocations = []model.CallSite{site(6, 1), site(7, 1)}
	root := decl("R", 1, a)
	m := New(Options{})
	m.AddCallTree(root)

	removed, err := m.RemoveSelectedNodes([]string{model.ReferenceKey(site(6, 1)), root.Key()})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	require.Equal(t, 1, m.Len())
	assert.Equal(t, "A", m.Trees()[0].Name)
	assert.Equal(t, []model.CallSite{site(7, 1)}, m.Trees()[0].ReferenceLocations)

	_, err = m.RemoveSelectedNodes([]string{"missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComments(t *testing.T) {
	a := decl("A", 2)
	a.ReferenceLocations = []model.CallSite{site(9, 1)}
	b := decl("B", 3)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, a, b))

	_, err := m.InsertCommentAbove(b.Key(), "   ")
	assert.ErrorIs(t, err, ErrEmptyComment)
	_, err = m.InsertCommentAbove(model.ReferenceKey(site(9, 1)), "x")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	key, err := m.InsertCommentAbove(b.Key(), " check retries ")
	require.NoError(t, err)
	kids := m.Trees()[0].Children
	require.Len(t, kids, 3)
	assert.Equal(t, "check retries", kids[1].CommentText)
	assert.Equal(t, key, kids[1].Key())
	assert.Equal(t, b.Line, kids[1].Line)

	_, err = m.EditComment(b.Key(), "text")
	assert.ErrorIs(t, err, ErrNotComment)
	key, err = m.EditComment(key, "retries are fine")
	require.NoError(t, err)
	assert.Equal(t, "// retries are fine", m.Trees()[0].Children[1].Name)

	assert.ErrorIs(t, m.DeleteComment(a.Key()), ErrNotComment)
	require.NoError(t, m.DeleteComment(key))
	assert.Equal(t, []string{"A", "B"}, names(m.Trees()[0].Children))
}

func TestCommentKeysStayUnique(t *testing.T) {
	b := decl("B", 3)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, decl("A", 2), b))

	first, err := m.InsertCommentAbove(b.Key(), "check")
	require.NoError(t, err)
	_, err = m.InsertCommentAbove(b.Key(), "check")
	assert.ErrorIs(t, err, ErrDuplicateComment)

	second, err := m.InsertCommentAbove(b.Key(), "later")
	require.NoError(t, err)
	_, err = m.EditComment(second, "check")
	assert.ErrorIs(t, err, ErrDuplicateComment)

	require.NoError(t, m.DeleteComment(first))
	kids := m.Trees()[0].Children
	require.Len(t, kids, 3)
	assert.Equal(t, "later", kids[1].CommentText)
}

func TestDeleteCommentRemovesOneOfIdenticalComments(t *testing.T) {
	// Imported documents may carry the same comment twice.
	m := New(Options{})
	m.AddCallTree(decl("R", 1,
		model.NewComment("check", shopFile, 3),
		model.NewComment("check", shopFile, 3),
		decl("B", 3),
	))
	key := model.NewComment("check", shopFile, 3).Key()

	require.NoError(t, m.DeleteComment(key))
	kids := m.Trees()[0].Children
	require.Len(t, kids, 2)
	assert.True(t, kids[0].IsComment())

	edited, err := m.EditComment(key, "checked")
	require.NoError(t, err)
	assert.Equal(t, edited, m.Trees()[0].Children[0].Key())
}

func TestCommentsSurviveRemovalOfParent(t *testing.T) {
	note := model.NewComment("why", shopFile, 3)
	a := decl("A", 2, note, decl("B", 3))
	m := New(Options{})
	m.AddCallTree(decl("R", 1, a))

	require.NoError(t, m.RemoveNode(a.Key()))
	kids := m.Trees()[0].Children
	require.Len(t, kids, 2)
	assert.True(t, kids[0].IsComment())
}

func TestReplaceChildrenKeepsComments(t *testing.T) {
	note := model.NewComment("why", shopFile, 3)
	old := decl("Old", 3)
	a := decl("A", 2, note, old)
	m := New(Options{})
	m.AddCallTree(decl("R", 1, a))
	require.NoError(t, m.SetChecked(old.Key(), false))

	require.NoError(t, m.ReplaceChildren(a.Key(), []*model.Node{decl("New", 7)}))
	kids := m.Trees()[0].Children[0].Children
	require.Len(t, kids, 2)
	assert.True(t, kids[0].IsComment())
	assert.Equal(t, "New", kids[1].Name)
	assert.NotContains(t, m.checked, old.Key())
	assert.True(t, m.IsExpanded(a.Key()))

	assert.ErrorIs(t, m.ReplaceChildren(note.Key(), nil), ErrInvalidTarget)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("Down")
	require.NoError(t, err)
	assert.Equal(t, Down, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
