// Package signature recognizes method, class and namespace declarations in
// C#-style source lines using a small, explicit grammar of regular expressions.
//
// Two method grammars exist on purpose. The permissive grammar accepts any
// identifier-like return type and is used for the symbol under the cursor.
// The restrictive grammar only accepts a fixed list of common return types
// and is used when scanning upward through arbitrary code, where a false
// positive would attribute calls to the wrong caller.
package signature

import (
	"regexp"
	"strings"
)

// Mode selects which bare "Type Identifier(" grammar is used.
type Mode int

const (
	ModePermissive  Mode = iota // Any identifier-like return type
	ModeRestrictive             // Return type must be on the allow-list
)

// Kind is what a line of text declares.
type Kind string

const (
	KindNone   Kind = "none"
	KindMethod Kind = "method"
	KindClass  Kind = "class"
)

// MaxWindowLines bounds how many lines a multi-line signature may span.
const MaxWindowLines = 10

// Declaration is the result of recognizing a signature.
type Declaration struct {
	Kind          Kind
	Name          string
	ReturnTypeRaw string
	Line          int // 0-based line of the name, when located in a document
	Character     int // 0-based column of the name, when located in a document
}

const modifiers = `public|private|protected|internal|static|virtual|override|abstract|async|sealed|extern|partial|unsafe|readonly`

const typeToken = `[\w\.]+(?:<[^()]*?>)?(?:\[\])*\??`

const allowedReturnTypes = `void|Task|ValueTask|IActionResult|ActionResult|IResult|JsonResult|HttpResponseMessage|` +
	`string|int|long|short|byte|bool|double|float|decimal|char|object|dynamic|DateTime|DateTimeOffset|TimeSpan|Guid|` +
	`IEnumerable|IList|List|ICollection|IReadOnlyList|IReadOnlyCollection|IQueryable|Dictionary|IDictionary|HashSet|` +
	`String|Int32|Int64|Boolean`

var (
	attributePrefix = `^\s*(?:\[[^\]]*\]\s*)*`

	withModifiersRe = regexp.MustCompile(attributePrefix +
		`(?:(?:` + modifiers + `)\s+)+(` + typeToken + `)\s+(?:\w+\.)*(\w+)\s*(?:<[^()]*?>)?\s*\(`)

	permissiveRe = regexp.MustCompile(attributePrefix +
		`(` + typeToken + `)\s+(?:\w+\.)*(\w+)\s*(?:<[^()]*?>)?\s*\(`)

	restrictiveRe = regexp.MustCompile(attributePrefix +
		`((?:` + allowedReturnTypes + `)(?:<[^()]*?>)?(?:\[\])*\??)\s+(?:\w+\.)*(\w+)\s*(?:<[^()]*?>)?\s*\(`)

	modifierStartRe = regexp.MustCompile(attributePrefix + `(?:` + modifiers + `)\b`)

	classRe = regexp.MustCompile(`^\s*(?:\[[^\]]*\]\s*)*(?:(?:public|private|protected|internal|static|abstract|sealed|partial|unsafe)\s+)*(?:record\s+)?class\s+(\w+)`)

	interfaceRe = regexp.MustCompile(`^\s*(?:(?:public|private|protected|internal|partial)\s+)*interface\s+\w+`)

	namespaceRe = regexp.MustCompile(`^\s*namespace\s+([\w\.]+)`)

	statementKeywordRe = regexp.MustCompile(`^(?:catch|using|if|for|foreach|while|switch|throw|return|var|await|new|else|lock|yield|case|do|goto)\b`)

	httpAttributeRe = regexp.MustCompile(`\[\s*(?:Http(?:Get|Post|Put|Delete|Patch|Head|Options)|Route)\b[^\]]*\]`)
)

// IsNonMethodCode reports whether a line is certainly not a method signature:
// comments, statements starting with a control-flow keyword, lambdas and
// assignments outside of a parameter list. Unlike a plain "contains =>"
// check, expression-bodied members are not rejected.
func IsNonMethodCode(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "//") || strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*") {
		return true
	}
	if statementKeywordRe.MatchString(t) {
		return true
	}
	paren := strings.Index(t, "(")
	if arrow := strings.Index(t, "=>"); arrow >= 0 {
		// This departs from "any arrow means non-method code": an arrow after
		// the parameter list is an expression-bodied member and still counts.
		end := matchingParen(t, paren)
		if paren < 0 || end < 0 || arrow < end {
			return true
		}
	}
	if eq := strings.Index(t, " = "); eq >= 0 && (paren < 0 || eq < paren) {
		return true
	}
	return false
}

// LooksLikeSignatureStart is the loose predicate used to find the first line
// of a possibly multi-line declaration.
func LooksLikeSignatureStart(line string) bool {
	if IsNonMethodCode(line) {
		return false
	}
	return modifierStartRe.MatchString(line) || permissiveRe.MatchString(line)
}

// Recognize decides whether text (a line or a joined signature window)
// declares a class or a method.
func Recognize(text string, mode Mode) Declaration {
	if name, ok := RecognizeClass(text); ok {
		return Declaration{Kind: KindClass, Name: name}
	}
	if IsNonMethodCode(text) {
		return Declaration{Kind: KindNone}
	}
	if m := withModifiersRe.FindStringSubmatch(text); m != nil {
		return Declaration{Kind: KindMethod, ReturnTypeRaw: m[1], Name: m[2]}
	}
	// Bare "Type Identifier(" is only considered when no modifier is present.
	if modifierStartRe.MatchString(text) {
		return Declaration{Kind: KindNone}
	}
	re := restrictiveRe
	if mode == ModePermissive {
		re = permissiveRe
	}
	if m := re.FindStringSubmatch(text); m != nil {
		return Declaration{Kind: KindMethod, ReturnTypeRaw: m[1], Name: m[2]}
	}
	return Declaration{Kind: KindNone}
}

// IsMethodDeclaration reports whether line declares a method named name.
func IsMethodDeclaration(line, name string, mode Mode) bool {
	d := Recognize(strings.TrimSpace(line), mode)
	return d.Kind == KindMethod && d.Name == name
}

// RecognizeClass returns the class name declared on line, if any.
func RecognizeClass(line string) (string, bool) {
	if strings.HasPrefix(strings.TrimSpace(line), "//") {
		return "", false
	}
	m := classRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsInterfaceDeclaration reports whether line opens an interface.
func IsInterfaceDeclaration(line string) bool {
	return interfaceRe.MatchString(line)
}

// Window joins the trimmed lines of a declaration starting at start, up to the
// line holding the close paren matching the first open paren. It returns the
// joined text and the last line included.
func Window(lines []string, start int) (string, int) {
	var parts []string
	depth := 0
	seenParen := false
	end := start
	for i := start; i < len(lines) && i < start+MaxWindowLines; i++ {
		t := strings.TrimSpace(lines[i])
		parts = append(parts, t)
		end = i
		for _, r := range t {
			switch r {
			case '(':
				depth++
				seenParen = true
			case ')':
				depth--
			}
		}
		if seenParen && depth <= 0 {
			break
		}
		if !seenParen && (strings.Contains(t, "{") || strings.Contains(t, ";")) {
			break
		}
	}
	return strings.Join(parts, " "), end
}

// FindNamespace scans upward from the given line and returns the first
// namespace declared, or "" when there is none.
func FindNamespace(lines []string, from int) string {
	if from >= len(lines) {
		from = len(lines) - 1
	}
	for i := from; i >= 0; i-- {
		if m := namespaceRe.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return ""
}

// FindEnclosingMethod scans upward from a call line to the method declaration
// containing it, using the restrictive grammar. It gives up when it reaches a
// class or interface header first.
func FindEnclosingMethod(lines []string, from int) (Declaration, bool) {
	if from >= len(lines) {
		return Declaration{}, false
	}
	for i := from; i >= 0; i-- {
		line := lines[i]
		if _, ok := RecognizeClass(line); ok || IsInterfaceDeclaration(line) {
			return Declaration{}, false
		}
		if !LooksLikeSignatureStart(line) {
			continue
		}
		text, end := Window(lines, i)
		d := Recognize(text, ModeRestrictive)
		if d.Kind != KindMethod {
			continue
		}
		return Locate(lines, d, i, end), true
	}
	return Declaration{}, false
}

// DeclarationAt resolves the declaration under the cursor with the permissive
// grammar. The cursor may sit on an attribute above the declaration or on any
// line of a multi-line signature.
func DeclarationAt(lines []string, line int) (Declaration, bool) {
	if line < 0 || line >= len(lines) {
		return Declaration{}, false
	}
	if name, ok := RecognizeClass(lines[line]); ok {
		d := Declaration{Kind: KindClass, Name: name}
		return Locate(lines, d, line, line), true
	}
	for i := line; i >= 0 && i > line-MaxWindowLines; i-- {
		if !LooksLikeSignatureStart(lines[i]) {
			continue
		}
		text, end := Window(lines, i)
		if end < line {
			break
		}
		if d := Recognize(text, ModePermissive); d.Kind == KindMethod {
			return Locate(lines, d, i, end), true
		}
		break
	}
	// Attribute lines above a declaration.
	for i := line + 1; i < len(lines) && i <= line+5; i++ {
		t := strings.TrimSpace(lines[i])
		if strings.HasPrefix(t, "[") {
			continue
		}
		if name, ok := RecognizeClass(lines[i]); ok {
			return Locate(lines, Declaration{Kind: KindClass, Name: name}, i, i), true
		}
		if LooksLikeSignatureStart(lines[i]) {
			text, end := Window(lines, i)
			if d := Recognize(text, ModePermissive); d.Kind == KindMethod {
				return Locate(lines, d, i, end), true
			}
		}
		break
	}
	return Declaration{}, false
}

// Locate fills in the line and column of the declared name within
// lines[start:end+1]. Every caller that turns a signature window into a
// declaration goes through it, so one method always gets one position.
func Locate(lines []string, d Declaration, start, end int) Declaration {
	d.Line = start
	d.Character = 0
	nameRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(d.Name) + `\b`)
	for i := start; i <= end && i < len(lines); i++ {
		text := lines[i]
		if d.Kind == KindClass {
			if idx := strings.Index(text, "class "+d.Name); idx >= 0 {
				d.Line, d.Character = i, idx+len("class ")
				return d
			}
		}
		// Prefer the occurrence followed by an open paren or generic list.
		for _, loc := range nameRe.FindAllStringIndex(text, -1) {
			rest := strings.TrimLeft(text[loc[1]:], " \t")
			if strings.HasPrefix(rest, "(") || strings.HasPrefix(rest, "<") {
				d.Line, d.Character = i, loc[0]
				return d
			}
		}
	}
	if idx := strings.Index(lines[start], d.Name); idx >= 0 {
		d.Character = idx
	}
	return d
}

// ParameterList returns the text between the first open paren of text and its
// matching close paren. Unbalanced input yields everything after the paren.
func ParameterList(text string) string {
	open := strings.Index(text, "(")
	if open < 0 {
		return ""
	}
	end := matchingParen(text, open)
	if end < 0 {
		return text[open+1:]
	}
	return text[open+1 : end]
}

// matchingParen returns the index of the paren closing the one at open, or -1.
func matchingParen(text string, open int) int {
	if open < 0 {
		return -1
	}
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// FindHTTPAttribute scans the five lines above a declaration through the
// declaration line for an HTTP route attribute and returns it.
func FindHTTPAttribute(lines []string, declLine int) string {
	start := declLine - 5
	if start < 0 {
		start = 0
	}
	for i := start; i <= declLine && i < len(lines); i++ {
		if m := httpAttributeRe.FindString(lines[i]); m != "" {
			return m
		}
	}
	return ""
}
