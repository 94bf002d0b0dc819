package model

import "fmt"

// ReferenceType tags how a call site refers to the symbol it was found for.
type ReferenceType string

const (
	RefCall          ReferenceType = "call"                // Plain invocation
	RefInstantiation ReferenceType = "new-instantiation"   // new ClassName(...)
	RefParameter     ReferenceType = "parameter-usage"     // Class used as a parameter type
	RefInterface     ReferenceType = "interface-signature" // Class used in an interface member signature
)

// SourcePosition identifies a point in a source file. Line and Character are 0-based.
type SourcePosition struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// String formats the position as file:line:col with 1-based numbers for display.
func (p SourcePosition) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line+1, p.Character+1)
}

// SameLine reports whether two positions point at the same file and line.
func (p SourcePosition) SameLine(other SourcePosition) bool {
	return p.File == other.File && p.Line == other.Line
}

// CallSite is one concrete place a symbol is mentioned.
type CallSite struct {
	SourcePosition
	ReferenceType ReferenceType `json:"referenceType,omitempty"`
}

// MethodDef is a resolved enclosing declaration found while walking upward.
type MethodDef struct {
	Name               string     `json:"name"`
	Namespace          string     `json:"namespace"`
	File               string     `json:"file"`
	Line               int        `json:"line"`
	Character          int        `json:"character"`
	HTTPAttribute      string     `json:"httpAttribute,omitempty"`
	ReferenceLocations []CallSite `json:"referenceLocations"`
}

// Position returns the declaration's source position.
func (d *MethodDef) Position() SourcePosition {
	return SourcePosition{File: d.File, Line: d.Line, Character: d.Character}
}

// QualifiedName returns "namespace.name", the visited-set key used during search.
func (d *MethodDef) QualifiedName() string {
	return QualifiedName(d.Namespace, d.Name)
}

// QualifiedName joins a namespace and a symbol name.
func QualifiedName(namespace, name string) string {
	return namespace + "." + name
}

// IsEntryPoint reports whether the declaration carries an HTTP route marker.
func (d *MethodDef) IsEntryPoint() bool {
	return d.HTTPAttribute != ""
}
