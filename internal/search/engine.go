// Package search walks upward from a symbol to its callers, their callers and
// so on, until it reaches HTTP entry points or runs out of callers, and builds
// the resulting call tree.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abramin/upstream/internal/classify"
	"github.com/abramin/upstream/internal/model"
	"github.com/abramin/upstream/internal/resolve"
	"github.com/abramin/upstream/internal/signature"
)

var tracer = otel.Tracer("github.com/abramin/upstream/internal/search")

var (
	// ErrNoSymbol is returned when no method or class can be found at a cursor position.
	ErrNoSymbol = errors.New("no method or class declaration at position")
	// ErrNoEnclosingMethod is returned when a reference is not inside any method.
	ErrNoEnclosingMethod = errors.New("reference is not inside a method")
)

// Documents gives line access to source files.
type Documents interface {
	Lines(ctx context.Context, file string) ([]string, error)
}

// Resolver finds raw caller locations for a symbol.
type Resolver interface {
	Resolve(ctx context.Context, t resolve.Target, force bool) resolve.Result
	References(ctx context.Context, t resolve.Target) ([]model.SourcePosition, error)
}

// Observer receives progress while a search runs. Refresh gets a private deep
// copy of the tree built so far.
type Observer interface {
	Refresh(root *model.Node)
	Summary(s Summary)
}

// Summary is reported once per top-level search.
type Summary struct {
	Symbol     string
	References int // call sites across all resolved methods
	Methods    int // distinct caller methods
	Strategy   string
	Duration   time.Duration
	Cancelled  bool
}

// Request identifies the symbol to search from.
type Request struct {
	Symbol        string
	Namespace     string
	Position      model.SourcePosition
	HTTPAttribute string
	Class         bool // run class impact analysis instead of an upstream search
	ForceFileScan bool
}

// Result is a finished (or cancelled) search.
type Result struct {
	Tree     *model.Node
	Strategy string
	Summary  Summary
}

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	// Layer labels a declaration by its file path. Optional.
	Layer func(file string) string
}

// Engine runs upstream searches. It holds no per-search state and may be reused.
type Engine struct {
	resolver Resolver
	docs     Documents
	layer    func(string) string
	logger   *slog.Logger
}

// New creates an Engine.
func New(resolver Resolver, docs Documents, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	layer := opts.Layer
	if layer == nil {
		layer = func(string) string { return "" }
	}
	return &Engine{resolver: resolver, docs: docs, layer: layer, logger: logger}
}

// run is the state of one top-level search. The visited set lives exactly as
// long as the run.
type run struct {
	e       *Engine
	obs     Observer
	force   bool
	visited map[string]struct{}
	root    *model.Node
}

// Search builds the upstream call tree for req. Cancellation is not an error:
// the partial tree built so far is returned.
func (e *Engine) Search(ctx context.Context, req Request, obs Observer) (*Result, error) {
	if req.Symbol == "" {
		return nil, ErrNoSymbol
	}
	if obs == nil {
		obs = nopObserver{}
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Engine.Search",
		trace.WithAttributes(
			attribute.String("symbol", model.QualifiedName(req.Namespace, req.Symbol)),
			attribute.Bool("force_file_scan", req.ForceFileScan),
		))
	defer span.End()

	root := model.NewDeclaration(req.Symbol, req.Namespace, req.Position)
	root.HTTPAttribute = req.HTTPAttribute
	root.Layer = e.layer(req.Position.File)

	r := &run{e: e, obs: obs, force: req.ForceFileScan, visited: make(map[string]struct{}), root: root}
	strategy := r.search(ctx, root, 0)

	sum := summarize(root)
	sum.Symbol = root.QualifiedName()
	sum.Strategy = strategy
	sum.Duration = time.Since(start)
	sum.Cancelled = ctx.Err() != nil
	obs.Summary(sum)
	recordSearch(modeMethod, sum)
	span.SetAttributes(
		attribute.String("strategy", strategy),
		attribute.Int("methods", sum.Methods),
		attribute.Int("references", sum.References),
	)
	e.logger.Info("search complete",
		slog.String("symbol", sum.Symbol),
		slog.String("strategy", strategy),
		slog.Int("methods", sum.Methods),
		slog.Int("references", sum.References),
		slog.Duration("duration", sum.Duration),
		slog.Bool("cancelled", sum.Cancelled),
	)
	return &Result{Tree: root, Strategy: strategy, Summary: sum}, nil
}

// search expands node in place with its callers and recurses into each one
// that is not an entry point. It returns the label of the strategy that
// produced node's callers.
func (r *run) search(ctx context.Context, node *model.Node, depth int) string {
	if ctx.Err() != nil {
		return ""
	}
	key := node.QualifiedName()
	if _, seen := r.visited[key]; seen {
		r.e.logger.Debug("cycle detected, leaving leaf", slog.String("symbol", key), slog.Int("depth", depth))
		return ""
	}
	r.visited[key] = struct{}{}

	res := r.e.resolver.Resolve(ctx, resolve.Target{Symbol: node.Name, Position: node.Position()}, r.force)
	if len(res.Locations) == 0 {
		return res.Strategy
	}

	defs := r.e.collectCallers(ctx, node, res.Locations)
	children := make([]*model.Node, 0, len(defs))
	for _, def := range defs {
		child := model.NewDeclarationFromDef(def)
		child.Layer = r.e.layer(def.File)
		children = append(children, child)
	}
	node.Children = append(node.Children, children...)
	r.refresh()

	for _, child := range children {
		if ctx.Err() != nil {
			break
		}
		if child.HTTPAttribute != "" {
			continue // entry point: top of the request's call chain
		}
		r.search(ctx, child, depth+1)
		r.refresh()
	}
	return res.Strategy
}

func (r *run) refresh() {
	r.obs.Refresh(r.root.Clone())
}

// collectCallers turns raw locations into enclosing method definitions,
// collapsing several call sites inside one method into a single MethodDef.
func (e *Engine) collectCallers(ctx context.Context, target *model.Node, locs []model.SourcePosition) []*model.MethodDef {
	self := target.Position()
	byID := make(map[string]*model.MethodDef)
	var order []*model.MethodDef

	for _, loc := range locs {
		if ctx.Err() != nil {
			break
		}
		if loc == self {
			continue
		}
		lines, err := e.docs.Lines(ctx, loc.File)
		if err != nil {
			e.logger.Debug("dropping candidate, document unreadable", slog.String("file", loc.File), slog.Any("error", err))
			continue
		}
		if loc.Line < 0 || loc.Line >= len(lines) {
			continue
		}
		if kind := classify.Classify(lines[loc.Line], target.Name); kind != classify.KindCall {
			e.logger.Debug("dropping candidate", slog.String("at", loc.String()), slog.String("kind", string(kind)))
			continue
		}
		decl, ok := signature.FindEnclosingMethod(lines, loc.Line)
		if !ok {
			e.logger.Debug("dropping candidate, no enclosing method", slog.String("at", loc.String()))
			continue
		}

		def := e.methodDef(byID, &order, lines, loc.File, decl)
		cs := model.CallSite{SourcePosition: loc, ReferenceType: model.RefCall}
		if cs.SourcePosition != def.Position() {
			def.ReferenceLocations = append(def.ReferenceLocations, cs)
		}
	}
	return order
}

// methodDef returns the MethodDef for decl, creating it on first sight.
func (e *Engine) methodDef(byID map[string]*model.MethodDef, order *[]*model.MethodDef, lines []string, file string, decl signature.Declaration) *model.MethodDef {
	ns := signature.FindNamespace(lines, decl.Line)
	id := fmt.Sprintf("%s@%s:%d", model.QualifiedName(ns, decl.Name), file, decl.Line)
	if def, ok := byID[id]; ok {
		return def
	}
	def := &model.MethodDef{
		Name:          decl.Name,
		Namespace:     ns,
		File:          file,
		Line:          decl.Line,
		Character:     decl.Character,
		HTTPAttribute: signature.FindHTTPAttribute(lines, decl.Line),
	}
	byID[id] = def
	*order = append(*order, def)
	return def
}

// AnalyzeClass finds the methods that instantiate the class, take it as a
// parameter or mention it in an interface member. The tree is one level deep.
func (e *Engine) AnalyzeClass(ctx context.Context, req Request, obs Observer) (*Result, error) {
	if req.Symbol == "" {
		return nil, ErrNoSymbol
	}
	if obs == nil {
		obs = nopObserver{}
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Engine.AnalyzeClass",
		trace.WithAttributes(attribute.String("class", model.QualifiedName(req.Namespace, req.Symbol))))
	defer span.End()

	root := model.NewDeclaration(req.Symbol, req.Namespace, req.Position)
	root.IsClass = true
	root.Layer = e.layer(req.Position.File)

	strategy := resolve.LabelNoResults
	refs, err := e.resolver.References(ctx, resolve.Target{Symbol: req.Symbol, Position: req.Position})
	if err != nil {
		e.logger.Debug("class references unavailable", slog.String("class", req.Symbol), slog.Any("error", err))
	}
	if len(refs) > 0 {
		strategy = resolve.LabelReferences
	}

	byID := make(map[string]*model.MethodDef)
	var order []*model.MethodDef
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		lines, err := e.docs.Lines(ctx, ref.File)
		if err != nil || ref.Line < 0 || ref.Line >= len(lines) {
			continue
		}
		usage := classify.ClassifyClassUsage(lines, ref.Line, req.Symbol)
		if usage.Ignored {
			continue
		}
		decl := usage.Decl
		if decl.Kind != signature.KindMethod {
			var ok bool
			if decl, ok = signature.FindEnclosingMethod(lines, ref.Line); !ok {
				continue
			}
		}
		def := e.methodDef(byID, &order, lines, ref.File, decl)
		def.ReferenceLocations = append(def.ReferenceLocations, model.CallSite{SourcePosition: ref, ReferenceType: usage.Type})
	}

	for _, def := range order {
		child := model.NewDeclarationFromDef(def)
		child.Layer = e.layer(def.File)
		root.Children = append(root.Children, child)
	}
	obs.Refresh(root.Clone())

	sum := summarize(root)
	sum.Symbol = root.QualifiedName()
	sum.Strategy = strategy
	sum.Duration = time.Since(start)
	sum.Cancelled = ctx.Err() != nil
	obs.Summary(sum)
	recordSearch(modeClass, sum)
	return &Result{Tree: root, Strategy: strategy, Summary: sum}, nil
}

// SearchFromCursor resolves the declaration at file:line and runs the
// matching search: class impact analysis for classes, upstream search for
// methods. A cursor inside a method body searches from that method.
func (e *Engine) SearchFromCursor(ctx context.Context, file string, line int, force bool, obs Observer) (*Result, error) {
	req, err := e.CursorRequest(ctx, file, line, force)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, req, obs)
}

// CursorRequest resolves the declaration at file:line into a request without
// searching. Class declarations yield a request with Class set.
func (e *Engine) CursorRequest(ctx context.Context, file string, line int, force bool) (Request, error) {
	lines, err := e.docs.Lines(ctx, file)
	if err != nil {
		return Request{}, fmt.Errorf("reading %s: %w", file, err)
	}
	decl, ok := signature.DeclarationAt(lines, line)
	if !ok {
		decl, ok = signature.FindEnclosingMethod(lines, line)
	}
	if !ok {
		return Request{}, fmt.Errorf("%s:%d: %w", file, line+1, ErrNoSymbol)
	}
	req := Request{
		Symbol:        decl.Name,
		Namespace:     signature.FindNamespace(lines, decl.Line),
		Position:      model.SourcePosition{File: file, Line: decl.Line, Character: decl.Character},
		ForceFileScan: force,
	}
	if decl.Kind == signature.KindClass {
		req.Class = true
		return req, nil
	}
	req.HTTPAttribute = signature.FindHTTPAttribute(lines, decl.Line)
	return req, nil
}

// SearchFromReference re-roots a search at the method enclosing a call site.
func (e *Engine) SearchFromReference(ctx context.Context, cs model.CallSite, force bool, obs Observer) (*Result, error) {
	req, err := e.ReferenceRequest(ctx, cs, force)
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, req, obs)
}

// ReferenceRequest builds the request for the method enclosing a call site.
func (e *Engine) ReferenceRequest(ctx context.Context, cs model.CallSite, force bool) (Request, error) {
	lines, err := e.docs.Lines(ctx, cs.File)
	if err != nil {
		return Request{}, fmt.Errorf("reading %s: %w", cs.File, err)
	}
	decl, ok := signature.FindEnclosingMethod(lines, cs.Line)
	if !ok {
		return Request{}, fmt.Errorf("%s: %w", cs.String(), ErrNoEnclosingMethod)
	}
	return Request{
		Symbol:        decl.Name,
		Namespace:     signature.FindNamespace(lines, decl.Line),
		Position:      model.SourcePosition{File: cs.File, Line: decl.Line, Character: decl.Character},
		HTTPAttribute: signature.FindHTTPAttribute(lines, decl.Line),
		ForceFileScan: force,
	}, nil
}

// Run dispatches req to AnalyzeClass or Search.
func (e *Engine) Run(ctx context.Context, req Request, obs Observer) (*Result, error) {
	if req.Class {
		return e.AnalyzeClass(ctx, req, obs)
	}
	return e.Search(ctx, req, obs)
}

// Root returns the placeholder node a request's result tree will replace.
// It has the same key as the finished tree's root.
func (r Request) Root() *model.Node {
	n := model.NewDeclaration(r.Symbol, r.Namespace, r.Position)
	n.IsClass = r.Class
	n.HTTPAttribute = r.HTTPAttribute
	return n
}

// RequestFor builds a request that searches again from an existing declaration node.
func RequestFor(n *model.Node, force bool) Request {
	return Request{
		Symbol:        n.Name,
		Namespace:     n.Namespace,
		Position:      n.Position(),
		HTTPAttribute: n.HTTPAttribute,
		Class:         n.IsClass,
		ForceFileScan: force,
	}
}

// summarize counts distinct caller methods and their call sites below root.
func summarize(root *model.Node) Summary {
	var s Summary
	seen := make(map[string]struct{})
	model.Walk(root.Children, func(n *model.Node, _ int) bool {
		if !n.IsDeclaration() {
			return true
		}
		s.References += len(n.ReferenceLocations)
		if _, ok := seen[n.Key()]; !ok {
			seen[n.Key()] = struct{}{}
			s.Methods++
		}
		return true
	})
	return s
}

type nopObserver struct{}

func (nopObserver) Refresh(*model.Node) {}
func (nopObserver) Summary(Summary)     {}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnRefresh func(root *model.Node)
	OnSummary func(s Summary)
}

func (o ObserverFuncs) Refresh(root *model.Node) {
	if o.OnRefresh != nil {
		o.OnRefresh(root)
	}
}

func (o ObserverFuncs) Summary(s Summary) {
	if o.OnSummary != nil {
		o.OnSummary(s)
	}
}
