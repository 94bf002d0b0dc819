package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKeys(t *testing.T) {
	decl := NewDeclaration("GetUser", "App.Services", SourcePosition{File: "/src/UserService.cs", Line: 12, Character: 20})
	assert.Equal(t, "App.Services.GetUser_/src/UserService.cs_12", decl.Key())

	ref := NewReference(CallSite{
		SourcePosition: SourcePosition{File: "/src/UserController.cs", Line: 30, Character: 8},
		ReferenceType:  RefCall,
	})
	assert.Equal(t, "ref_/src/UserController.cs_30_8_call", ref.Key())

	comment := NewComment("check auth", "/src/UserService.cs", 12)
	assert.Equal(t, "comment_check auth_/src/UserService.cs_12", comment.Key())
	assert.Equal(t, "// check auth", comment.Label())
}

func TestReferenceKeyIgnoresAbsentVersusEmptyType(t *testing.T) {
	pos := SourcePosition{File: "a.cs", Line: 1, Character: 2}
	assert.Equal(t, ReferenceKey(CallSite{SourcePosition: pos}), ReferenceKey(CallSite{SourcePosition: pos, ReferenceType: ""}))
}

func TestCloneIsDeep(t *testing.T) {
	root := NewDeclaration("A", "N", SourcePosition{File: "a.cs", Line: 1})
	child := NewDeclaration("B", "N", SourcePosition{File: "b.cs", Line: 2})
	child.ReferenceLocations = []CallSite{{SourcePosition: SourcePosition{File: "b.cs", Line: 5}}}
	root.Children = []*Node{child}

	clone := root.Clone()
	clone.Children[0].Name = "changed"
	clone.Children[0].ReferenceLocations[0].Line = 99

	assert.Equal(t, "B", root.Children[0].Name)
	assert.Equal(t, 5, root.Children[0].ReferenceLocations[0].Line)
}

func TestCountAndKeys(t *testing.T) {
	root := NewDeclaration("A", "N", SourcePosition{File: "a.cs", Line: 1})
	b := NewDeclaration("B", "N", SourcePosition{File: "b.cs", Line: 2})
	b.ReferenceLocations = []CallSite{
		{SourcePosition: SourcePosition{File: "b.cs", Line: 5, Character: 1}, ReferenceType: RefCall},
		{SourcePosition: SourcePosition{File: "b.cs", Line: 6, Character: 1}, ReferenceType: RefCall},
	}
	root.Children = []*Node{b, NewComment("note", "b.cs", 2)}

	require.Equal(t, 5, root.Count())

	keys := Keys([]*Node{root})
	assert.Len(t, keys, 5)
	assert.Contains(t, keys, "ref_b.cs_5_1_call")
}

func TestWalkDepth(t *testing.T) {
	root := NewDeclaration("A", "N", SourcePosition{File: "a.cs"})
	b := NewDeclaration("B", "N", SourcePosition{File: "b.cs"})
	c := NewDeclaration("C", "N", SourcePosition{File: "c.cs"})
	b.Children = []*Node{c}
	root.Children = []*Node{b}

	var names []string
	var depths []int
	Walk([]*Node{root}, func(n *Node, depth int) bool {
		names = append(names, n.Name)
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []string{"A", "B", "C"}, names)
	assert.Equal(t, []int{0, 1, 2}, depths)
}
