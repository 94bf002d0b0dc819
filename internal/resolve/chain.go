// Package resolve asks the code-intelligence backend for the callers of a
// symbol using a ranked chain of strategies. A strategy that fails or finds
// nothing falls through to the next one; no failure is fatal.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abramin/upstream/internal/backend"
	"github.com/abramin/upstream/internal/model"
)

// Strategy labels reported to the user.
const (
	LabelCallHierarchy    = "Call Hierarchy"
	LabelCodeLens         = "Code Lens"
	LabelReferences       = "Reference Provider"
	LabelFileScan         = "File Scan"
	LabelNoResults        = "No results"
	LabelFileScanDisabled = "No results (file scan disabled)"
)

// lensWindow is how many lines a code lens may sit away from the target.
const lensWindow = 3

var tracer = otel.Tracer("github.com/abramin/upstream/internal/resolve")

// Target is the symbol whose callers are wanted, positioned at its name.
type Target struct {
	Symbol   string
	Position model.SourcePosition
}

// Result is the outcome of a resolution. Strategy names the strategy that
// produced Locations, or explains why there are none.
type Result struct {
	Locations []model.SourcePosition
	Strategy  string
}

// Strategy is one way of discovering callers.
type Strategy interface {
	Name() string
	Callers(ctx context.Context, t Target) ([]model.SourcePosition, error)
}

// CallFinder is the textual fallback scanner.
type CallFinder interface {
	FindCalls(ctx context.Context, symbol string) ([]model.CallSite, error)
}

// Options configures a Chain.
type Options struct {
	FileScan bool // run the textual scan without being forced
	Logger   *slog.Logger
}

// Chain runs strategies in priority order.
type Chain struct {
	strategies []Strategy
	fileScan   Strategy
	references backend.ReferenceProvider
	opts       Options
	logger     *slog.Logger
}

// NewChain builds the standard chain from the backend's capabilities. finder
// may be nil, in which case the file scan is never available.
func NewChain(caps backend.Capabilities, finder CallFinder, opts Options) *Chain {
	var strategies []Strategy
	if caps.CallHierarchy != nil {
		strategies = append(strategies, callHierarchyStrategy{caps.CallHierarchy})
	}
	if caps.CodeLens != nil {
		strategies = append(strategies, codeLensStrategy{caps.CodeLens})
	}
	if caps.References != nil {
		strategies = append(strategies, referenceStrategy{caps.References})
	}
	c := NewCustomChain(strategies, nil, opts)
	if finder != nil {
		c.fileScan = fileScanStrategy{finder}
	}
	return c
}

// NewCustomChain builds a chain from explicit strategies, mainly for tests.
func NewCustomChain(strategies []Strategy, fileScan Strategy, opts Options) *Chain {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{strategies: strategies, fileScan: fileScan, opts: opts, logger: logger}
	for _, s := range strategies {
		if rs, ok := s.(referenceStrategy); ok {
			c.references = rs.p
		}
	}
	return c
}

// Resolve returns the callers found by the first strategy with a non-empty
// answer. The file scan runs only when enabled or when force is set, and it
// never reports the target's own line.
func (c *Chain) Resolve(ctx context.Context, t Target, force bool) Result {
	ctx, span := tracer.Start(ctx, "resolve.Chain.Resolve",
		trace.WithAttributes(
			attribute.String("symbol", t.Symbol),
			attribute.String("file", t.Position.File),
			attribute.Int("line", t.Position.Line),
			attribute.Bool("force_file_scan", force),
		))
	defer span.End()

	for _, s := range c.strategies {
		if locs := c.attempt(ctx, s, t); len(locs) > 0 {
			span.SetAttributes(attribute.String("strategy", s.Name()), attribute.Int("locations", len(locs)))
			return Result{Locations: locs, Strategy: s.Name()}
		}
	}

	scanEnabled := c.opts.FileScan || force
	if c.fileScan != nil && scanEnabled {
		var own []model.SourcePosition
		for _, loc := range c.attempt(ctx, c.fileScan, t) {
			if loc.SameLine(t.Position) {
				continue
			}
			own = append(own, loc)
		}
		if len(own) > 0 {
			span.SetAttributes(attribute.String("strategy", LabelFileScan), attribute.Int("locations", len(own)))
			return Result{Locations: own, Strategy: LabelFileScan}
		}
	}

	label := LabelNoResults
	if !scanEnabled {
		label = LabelFileScanDisabled
	}
	span.SetAttributes(attribute.String("strategy", label))
	return Result{Strategy: label}
}

// attempt runs one strategy, absorbing its failure.
func (c *Chain) attempt(ctx context.Context, s Strategy, t Target) []model.SourcePosition {
	if ctx.Err() != nil {
		return nil
	}
	start := time.Now()
	locs, err := s.Callers(ctx, t)
	strategyLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, backend.ErrUnsupported):
		recordAttempt(s.Name(), outcomeUnavailable)
		return nil
	case err != nil:
		recordAttempt(s.Name(), outcomeError)
		c.logger.Debug("strategy failed, falling through",
			slog.String("strategy", s.Name()),
			slog.String("symbol", t.Symbol),
			slog.Any("error", err),
		)
		return nil
	case len(locs) == 0:
		recordAttempt(s.Name(), outcomeEmpty)
		return nil
	}
	recordAttempt(s.Name(), outcomeHit)
	return locs
}

// References runs only the reference provider. It is the single query used by
// class impact analysis.
func (c *Chain) References(ctx context.Context, t Target) ([]model.SourcePosition, error) {
	if c.references == nil {
		return nil, backend.ErrUnsupported
	}
	ctx, span := tracer.Start(ctx, "resolve.Chain.References",
		trace.WithAttributes(attribute.String("symbol", t.Symbol)))
	defer span.End()
	return referenceStrategy{c.references}.Callers(ctx, t)
}

// Strategies returns the names of the configured strategies in order.
func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies)+1)
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	if c.fileScan != nil {
		names = append(names, c.fileScan.Name())
	}
	return names
}

func toBackend(p model.SourcePosition) backend.Position {
	return backend.Position{Line: p.Line, Character: p.Character}
}

type callHierarchyStrategy struct{ p backend.CallHierarchyProvider }

func (callHierarchyStrategy) Name() string { return LabelCallHierarchy }

// Callers takes each incoming call's first call-site range, or the caller's
// own range when the server gives none.
func (s callHierarchyStrategy) Callers(ctx context.Context, t Target) ([]model.SourcePosition, error) {
	items, err := s.p.PrepareCallHierarchy(ctx, t.Position.File, toBackend(t.Position))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	calls, err := s.p.IncomingCalls(ctx, items[0])
	if err != nil {
		return nil, err
	}
	locs := make([]model.SourcePosition, 0, len(calls))
	for _, call := range calls {
		r := call.From.SelectionRange
		if len(call.FromRanges) > 0 {
			r = call.FromRanges[0]
		}
		locs = append(locs, backend.Location{URI: call.From.URI, Range: r}.SourcePosition())
	}
	return locs, nil
}

type codeLensStrategy struct{ p backend.CodeLensProvider }

func (codeLensStrategy) Name() string { return LabelCodeLens }

// Callers reads the reference list embedded in the "show references" lens
// closest to the target.
func (s codeLensStrategy) Callers(ctx context.Context, t Target) ([]model.SourcePosition, error) {
	lenses, err := s.p.CodeLenses(ctx, t.Position.File)
	if err != nil {
		return nil, err
	}
	best, bestDist := -1, lensWindow+1
	for i, lens := range lenses {
		dist := lens.Range.Start.Line - t.Position.Line
		if dist < 0 {
			dist = -dist
		}
		if dist > lensWindow || dist >= bestDist {
			continue
		}
		if !backend.IsShowReferences(lens.Command) || len(lens.Command.Arguments) < 3 {
			continue
		}
		best, bestDist = i, dist
	}
	if best < 0 {
		return nil, nil
	}
	decoded, err := backend.DecodeLocations(lenses[best].Command.Arguments[2])
	if err != nil {
		return nil, err
	}
	locs := make([]model.SourcePosition, 0, len(decoded))
	for _, l := range decoded {
		locs = append(locs, l.SourcePosition())
	}
	return locs, nil
}

type referenceStrategy struct{ p backend.ReferenceProvider }

func (referenceStrategy) Name() string { return LabelReferences }

func (s referenceStrategy) Callers(ctx context.Context, t Target) ([]model.SourcePosition, error) {
	refs, err := s.p.References(ctx, t.Position.File, toBackend(t.Position))
	if err != nil {
		return nil, err
	}
	locs := make([]model.SourcePosition, 0, len(refs))
	for _, r := range refs {
		locs = append(locs, r.SourcePosition())
	}
	return locs, nil
}

type fileScanStrategy struct{ finder CallFinder }

func (fileScanStrategy) Name() string { return LabelFileScan }

func (s fileScanStrategy) Callers(ctx context.Context, t Target) ([]model.SourcePosition, error) {
	sites, err := s.finder.FindCalls(ctx, t.Symbol)
	if err != nil {
		return nil, err
	}
	locs := make([]model.SourcePosition, 0, len(sites))
	for _, cs := range sites {
		locs = append(locs, cs.SourcePosition)
	}
	return locs, nil
}
