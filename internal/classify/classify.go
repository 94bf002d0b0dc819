// Package classify decides what a candidate reference line actually is: a call,
// the symbol's own declaration, or noise. It also implements the three-way
// classification used by class impact analysis.
package classify

import (
	"regexp"
	"strings"
	"sync"

	"github.com/abramin/upstream/internal/model"
	"github.com/abramin/upstream/internal/signature"
)

// Kind is the verdict for a candidate call-site line.
type Kind string

const (
	KindCall        Kind = "call"
	KindDeclaration Kind = "declaration"
	KindNotAMatch   Kind = "not-a-match"
)

// parameterScanLines is how far above a reference the parameter-usage check looks.
const parameterScanLines = 5

var patterns sync.Map // symbol -> *regexp.Regexp

// CallPattern returns the compiled `\bsymbol\s*(<...>)?\s*\(` pattern for symbol.
func CallPattern(symbol string) *regexp.Regexp {
	if re, ok := patterns.Load(symbol); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(symbol) + `\s*(?:<[^()]*?>)?\s*\(`)
	actual, _ := patterns.LoadOrStore(symbol, re)
	return actual.(*regexp.Regexp)
}

// Classify decides whether line invokes symbol, declares it, or neither.
func Classify(line, symbol string) Kind {
	t := strings.TrimSpace(line)
	if isComment(t) {
		return KindNotAMatch
	}
	if !CallPattern(symbol).MatchString(t) {
		return KindNotAMatch
	}
	// A one-line method that calls symbol is still a call; only the symbol's
	// own signature counts as a declaration.
	if signature.IsMethodDeclaration(t, symbol, signature.ModePermissive) {
		return KindDeclaration
	}
	return KindCall
}

// CallColumns returns the 0-based columns at which symbol is invoked on line.
func CallColumns(line, symbol string) []int {
	var cols []int
	for _, loc := range CallPattern(symbol).FindAllStringIndex(line, -1) {
		cols = append(cols, loc[0])
	}
	return cols
}

// Usage is the verdict for one raw reference to a class.
type Usage struct {
	Type    model.ReferenceType
	Ignored bool
	// Decl is the signature the verdict was based on, for parameter and
	// interface usages. Kind is signature.KindNone otherwise.
	Decl signature.Declaration
}

var (
	usingRe     = regexp.MustCompile(`^\s*(?:global\s+)?using\s+[\w\.]+(?:\s*=\s*[\w\.<>]+)?\s*;`)
	namespaceRe = regexp.MustCompile(`^\s*namespace\s+`)
)

// ClassifyClassUsage classifies the reference to className on lines[refLine]
// as an instantiation, an interface member signature, a parameter type or
// something to ignore (inheritance clauses, using directives, comments).
func ClassifyClassUsage(lines []string, refLine int, className string) Usage {
	ignored := Usage{Ignored: true, Decl: signature.Declaration{Kind: signature.KindNone}}
	if refLine < 0 || refLine >= len(lines) {
		return ignored
	}
	line := lines[refLine]
	t := strings.TrimSpace(line)
	if isComment(t) || usingRe.MatchString(t) || namespaceRe.MatchString(t) {
		return ignored
	}
	word := wordPattern(className)

	if instantiationPattern(className).MatchString(line) {
		return Usage{Type: model.RefInstantiation, Decl: signature.Declaration{Kind: signature.KindNone}}
	}

	if insideInterface(lines, refLine) {
		if d, text, ok := memberSignature(lines, refLine); ok && word.MatchString(text) {
			return Usage{Type: model.RefInterface, Decl: d}
		}
		return ignored
	}

	if d, ok := parameterSignature(lines, refLine, word); ok {
		return Usage{Type: model.RefParameter, Decl: d}
	}
	return ignored
}

func instantiationPattern(className string) *regexp.Regexp {
	return regexp.MustCompile(`\bnew\s+` + regexp.QuoteMeta(className) + `\s*(?:<[^()]*?>)?\s*[\(\{]`)
}

func wordPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
}

// insideInterface scans upward until a class or interface header is met and
// reports whether the interface came first.
func insideInterface(lines []string, from int) bool {
	for i := from; i >= 0; i-- {
		if _, ok := signature.RecognizeClass(lines[i]); ok {
			return false
		}
		if signature.IsInterfaceDeclaration(lines[i]) {
			return true
		}
	}
	return false
}

// memberSignature finds the interface member signature whose window covers from.
func memberSignature(lines []string, from int) (signature.Declaration, string, bool) {
	for i := from; i >= 0 && i > from-signature.MaxWindowLines; i-- {
		if !signature.LooksLikeSignatureStart(lines[i]) {
			continue
		}
		text, end := signature.Window(lines, i)
		if end < from {
			break
		}
		d := signature.Recognize(text, signature.ModePermissive)
		if d.Kind != signature.KindMethod {
			break
		}
		return signature.Locate(lines, d, i, end), text, true
	}
	return signature.Declaration{}, "", false
}

// parameterSignature looks up to parameterScanLines lines above from for a
// method signature whose parameter list mentions the class, without crossing
// an unmatched open brace.
func parameterSignature(lines []string, from int, word *regexp.Regexp) (signature.Declaration, bool) {
	depth := 0
	for i := from; i >= 0 && i >= from-parameterScanLines; i-- {
		if i < from && crossesOpenBrace(lines[i], &depth) {
			return signature.Declaration{}, false
		}
		if !signature.LooksLikeSignatureStart(lines[i]) {
			continue
		}
		text, end := signature.Window(lines, i)
		if end < from {
			continue
		}
		d := signature.Recognize(text, signature.ModePermissive)
		if d.Kind != signature.KindMethod {
			continue
		}
		if word.MatchString(signature.ParameterList(text)) {
			return signature.Locate(lines, d, i, end), true
		}
		return signature.Declaration{}, false
	}
	return signature.Declaration{}, false
}

// crossesOpenBrace updates the brace depth for a line read bottom-up and
// reports whether it opens a block the reference sits inside.
func crossesOpenBrace(line string, depth *int) bool {
	for i := len(line) - 1; i >= 0; i-- {
		switch line[i] {
		case '}':
			*depth++
		case '{':
			if *depth == 0 {
				return true
			}
			*depth--
		}
	}
	return false
}

func isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "*")
}
