// Package backend defines the capabilities a code-intelligence backend may
// offer for caller discovery. A backend implements any subset of them;
// a missing capability means the matching strategy is unavailable.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/abramin/upstream/internal/model"
)

// ErrUnsupported is returned by a backend that implements a capability
// interface but whose server does not offer it.
var ErrUnsupported = errors.New("capability not supported by backend")

// Position is a 0-based line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range inside the document identified by URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// SourcePosition converts the location's start to a model position.
func (l Location) SourcePosition() model.SourcePosition {
	return model.SourcePosition{
		File:      FileFromURI(l.URI),
		Line:      l.Range.Start.Line,
		Character: l.Range.Start.Character,
	}
}

// CallHierarchyItem is a symbol prepared for call hierarchy queries.
type CallHierarchyItem struct {
	Name           string          `json:"name"`
	Kind           int             `json:"kind"`
	Detail         string          `json:"detail,omitempty"`
	URI            string          `json:"uri"`
	Range          Range           `json:"range"`
	SelectionRange Range           `json:"selectionRange"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// IncomingCall is one caller of a call hierarchy item.
type IncomingCall struct {
	From       CallHierarchyItem `json:"from"`
	FromRanges []Range           `json:"fromRanges"`
}

// Command is a lens or code action command.
type Command struct {
	Title     string            `json:"title"`
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// CodeLens is an annotation attached to a range, typically a reference count.
type CodeLens struct {
	Range   Range           `json:"range"`
	Command *Command        `json:"command,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CallHierarchyProvider returns incoming call edges for a position.
type CallHierarchyProvider interface {
	PrepareCallHierarchy(ctx context.Context, file string, pos Position) ([]CallHierarchyItem, error)
	IncomingCalls(ctx context.Context, item CallHierarchyItem) ([]IncomingCall, error)
}

// CodeLensProvider returns the code lenses of a file.
type CodeLensProvider interface {
	CodeLenses(ctx context.Context, file string) ([]CodeLens, error)
}

// ReferenceProvider returns every reference to the symbol at a position.
type ReferenceProvider interface {
	References(ctx context.Context, file string, pos Position) ([]Location, error)
}

// Capabilities is the set of providers a backend offers. Nil fields are unavailable.
type Capabilities struct {
	CallHierarchy CallHierarchyProvider
	CodeLens      CodeLensProvider
	References    ReferenceProvider
}

// Detect discovers which capability interfaces b implements. A nil b has none.
func Detect(b any) Capabilities {
	var caps Capabilities
	if b == nil {
		return caps
	}
	caps.CallHierarchy, _ = b.(CallHierarchyProvider)
	caps.CodeLens, _ = b.(CodeLensProvider)
	caps.References, _ = b.(ReferenceProvider)
	return caps
}

// IsShowReferences reports whether a lens command opens a reference list.
func IsShowReferences(cmd *Command) bool {
	if cmd == nil {
		return false
	}
	return strings.Contains(strings.ToLower(cmd.Command), "showreferences")
}

// DecodeLocations decodes a JSON array of {uri, range} objects. Entries that
// carry a bare position instead of a range are accepted too.
func DecodeLocations(raw json.RawMessage) ([]Location, error) {
	var items []struct {
		URI      string    `json:"uri"`
		Range    *Range    `json:"range"`
		Position *Position `json:"position"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decoding locations: %w", err)
	}
	locs := make([]Location, 0, len(items))
	for _, it := range items {
		if it.URI == "" {
			continue
		}
		loc := Location{URI: it.URI}
		switch {
		case it.Range != nil:
			loc.Range = *it.Range
		case it.Position != nil:
			loc.Range = Range{Start: *it.Position, End: *it.Position}
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// FileFromURI converts a file:// URI to a local path. Anything else is returned unchanged.
func FileFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	p := u.Path
	// file:///C:/src/x.cs
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// URIFromFile converts a local path to a file:// URI.
func URIFromFile(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
