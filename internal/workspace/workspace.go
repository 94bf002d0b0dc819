// Package workspace wires configuration, the caller-discovery backend, the
// search engine, the call tree session and its persistence into one handle
// shared by the CLI and the HTTP adapter.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/abramin/upstream/internal/backend"
	"github.com/abramin/upstream/internal/config"
	"github.com/abramin/upstream/internal/lsp"
	"github.com/abramin/upstream/internal/model"
	"github.com/abramin/upstream/internal/resolve"
	"github.com/abramin/upstream/internal/scan"
	"github.com/abramin/upstream/internal/search"
	"github.com/abramin/upstream/internal/source"
	"github.com/abramin/upstream/internal/store"
	"github.com/abramin/upstream/internal/tree"
)

// Options configures Open.
type Options struct {
	Logger *slog.Logger
	// Backend replaces the configured language server. It may implement any
	// subset of the backend capability interfaces.
	Backend any
}

// Workspace is an open project.
type Workspace struct {
	cfg     *config.Config
	root    string
	docs    *source.Cache
	client  *lsp.Client
	chain   *resolve.Chain
	engine  *search.Engine
	session *tree.Session
	store   *store.Store
	logger  *slog.Logger
}

// Open builds a workspace rooted at dir and restores the saved session. A
// language server that fails to start is logged and skipped: searches then
// rely on the file scan.
func Open(ctx context.Context, cfg *config.Config, dir string, opts Options) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	docs, err := source.NewCache(cfg.Cache.Documents)
	if err != nil {
		return nil, err
	}

	w := &Workspace{cfg: cfg, root: root, docs: docs, logger: logger}

	var b any
	switch {
	case opts.Backend != nil:
		b = opts.Backend
	case len(cfg.Backend.Command) > 0:
		client, err := lsp.Start(ctx, lsp.Config{
			Command:     cfg.Backend.Command,
			RootDir:     root,
			LanguageID:  cfg.Backend.LanguageID,
			InitTimeout: cfg.Backend.InitTimeout,
			Logger:      logger,
		}, docs)
		if err != nil {
			logger.Warn("language server unavailable, continuing without it",
				slog.Any("command", cfg.Backend.Command),
				slog.Any("error", err),
			)
			break
		}
		w.client = client
		b = client
	}

	scanner := scan.New(root, scan.Options{
		Include:    cfg.Search.Include,
		ExcludeDir: cfg.IsExcludedDir,
		Workers:    cfg.Search.ScanWorkers,
	})
	w.chain = resolve.NewChain(backend.Detect(b), scanner, resolve.Options{
		FileScan: cfg.Search.FileScan,
		Logger:   logger,
	})
	w.engine = search.New(w.chain, docs, search.Options{
		Logger: logger,
		Layer:  func(file string) string { return cfg.GetLayerForFile(relPath(root, file)) },
	})

	st, err := store.Open(root)
	if err != nil {
		w.closeClient(ctx)
		return nil, err
	}
	w.store = st
	if err := st.SetProject(root, w.chain.Strategies()); err != nil {
		w.closeClient(ctx)
		st.Close()
		return nil, fmt.Errorf("recording project: %w", err)
	}
	state, err := st.LoadSession()
	if err != nil {
		w.closeClient(ctx)
		st.Close()
		return nil, fmt.Errorf("loading session: %w", err)
	}

	m := tree.New(tree.Options{Logger: logger, VerbosePrune: cfg.Prune.Verbose})
	m.Restore(state)
	w.session = tree.NewSession(m)

	logger.Debug("workspace open",
		slog.String("root", root),
		slog.Any("strategies", w.chain.Strategies()),
		slog.Int("trees", len(state.Trees)),
	)
	return w, nil
}

// Root returns the absolute project directory.
func (w *Workspace) Root() string { return w.root }

// Config returns the active configuration.
func (w *Workspace) Config() *config.Config { return w.cfg }

// Strategies names the caller-discovery strategies available in order.
func (w *Workspace) Strategies() []string { return w.chain.Strategies() }

// Session returns the tree session for direct reads.
func (w *Workspace) Session() *tree.Session { return w.session }

// Search starts an upstream search (or class impact analysis) from the
// declaration at file:line. progress, if not nil, receives the summary.
func (w *Workspace) Search(ctx context.Context, file string, line int, force bool, progress func(search.Summary)) (*search.Result, error) {
	// Re-read the cursor file: a save within one mtime tick keeps the cached copy.
	path := w.abs(file)
	w.docs.Invalidate(path)
	req, err := w.engine.CursorRequest(ctx, path, line, force)
	if err != nil {
		return nil, err
	}
	mode := store.SearchModeMethod
	if req.Class {
		mode = store.SearchModeClass
	}
	return w.run(ctx, req, mode, progress)
}

// SearchFromReference re-roots a search at the method enclosing the call site
// with the given key.
func (w *Workspace) SearchFromReference(ctx context.Context, key string, force bool, progress func(search.Summary)) (*search.Result, error) {
	n, err := w.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if !n.IsReference() {
		return nil, fmt.Errorf("%w: %s is not a call site", tree.ErrInvalidTarget, key)
	}
	req, err := w.engine.ReferenceRequest(ctx, n.CallSite(), force)
	if err != nil {
		return nil, err
	}
	return w.run(ctx, req, store.SearchModeReference, progress)
}

// run adds a placeholder root, streams refreshes into it through the session
// and records the finished search.
func (w *Workspace) run(ctx context.Context, req search.Request, mode store.SearchMode, progress func(search.Summary)) (*search.Result, error) {
	placeholder := req.Root()
	key := placeholder.Key()
	if err := w.session.Do(ctx, func(m *tree.Model) error {
		if !m.AddCallTree(placeholder) {
			return fmt.Errorf("%w: %s", tree.ErrDuplicateTree, placeholder.Label())
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Partial results stay in the forest when the search is cancelled.
	writeCtx := context.WithoutCancel(ctx)
	replace := func(root *model.Node) {
		err := w.session.Do(writeCtx, func(m *tree.Model) error { return m.ReplaceTree(key, root) })
		if err != nil {
			w.logger.Debug("dropping refresh", slog.String("root", key), slog.Any("error", err))
		}
	}
	obs := search.ObserverFuncs{OnRefresh: replace, OnSummary: progress}

	started := time.Now()
	res, err := w.engine.Run(ctx, req, obs)
	if err != nil {
		return nil, err
	}
	replace(res.Tree)

	w.record(req, mode, started, res.Summary)
	if err := w.Save(writeCtx); err != nil {
		return res, err
	}
	return res, nil
}

// Exhaustive searches again from the declaration with the given key with the
// file scan forced, and replaces its callers with the result.
func (w *Workspace) Exhaustive(ctx context.Context, key string, progress func(search.Summary)) (*search.Result, error) {
	n, err := w.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if !n.IsDeclaration() {
		return nil, fmt.Errorf("%w: %s is not a declaration", tree.ErrInvalidTarget, key)
	}
	req := search.RequestFor(n, true)
	started := time.Now()
	res, err := w.engine.Run(ctx, req, search.ObserverFuncs{OnSummary: progress})
	if err != nil {
		return nil, err
	}
	writeCtx := context.WithoutCancel(ctx)
	if err := w.session.Do(writeCtx, func(m *tree.Model) error {
		return m.ReplaceChildren(key, res.Tree.Children)
	}); err != nil {
		return nil, err
	}
	w.record(req, store.SearchModeExhaustive, started, res.Summary)
	return res, w.Save(writeCtx)
}

// AddLine adds the declaration at file:line as a root with no callers.
func (w *Workspace) AddLine(ctx context.Context, file string, line int) (*model.Node, error) {
	req, err := w.engine.CursorRequest(ctx, w.abs(file), line, false)
	if err != nil {
		return nil, err
	}
	n := req.Root()
	n.Layer = w.cfg.GetLayerForFile(relPath(w.root, n.File))
	if err := w.Update(ctx, func(m *tree.Model) error {
		if !m.AddBareItem(n) {
			return fmt.Errorf("%w: %s", tree.ErrDuplicateTree, n.Label())
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return n, nil
}

// Update applies a mutation through the session and persists the result.
func (w *Workspace) Update(ctx context.Context, fn func(*tree.Model) error) error {
	if err := w.session.Do(ctx, fn); err != nil {
		return err
	}
	return w.Save(ctx)
}

// View runs a read-only function against the model.
func (w *Workspace) View(ctx context.Context, fn func(*tree.Model)) error {
	return w.session.View(ctx, fn)
}

// Save persists the current forest and state.
func (w *Workspace) Save(ctx context.Context) error {
	var st tree.State
	if err := w.session.View(ctx, func(m *tree.Model) { st = m.Snapshot() }); err != nil {
		return err
	}
	if err := w.store.SaveSession(st); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear drops every tree and its saved state.
func (w *Workspace) Clear(ctx context.Context) error {
	if err := w.session.Do(ctx, func(m *tree.Model) error {
		m.Clear()
		return nil
	}); err != nil {
		return err
	}
	return w.store.Clear()
}

// History returns recent searches, newest first.
func (w *Workspace) History(limit int) ([]store.SearchRecord, error) {
	return w.store.Searches(limit)
}

// Stats returns counts of the persisted session.
func (w *Workspace) Stats() (*store.Stats, error) {
	return w.store.GetStats()
}

// Close stops the session and releases the backend and the database.
func (w *Workspace) Close(ctx context.Context) error {
	w.session.Close()
	return errors.Join(w.closeClient(ctx), w.store.Close())
}

func (w *Workspace) closeClient(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return w.client.Close(ctx)
}

func (w *Workspace) find(ctx context.Context, key string) (*model.Node, error) {
	var (
		n          *model.Node
		ok         bool
		suggestion string
	)
	if err := w.session.View(ctx, func(m *tree.Model) {
		if n, ok = m.Find(key); !ok {
			suggestion, _ = m.Suggest(key)
		}
	}); err != nil {
		return nil, err
	}
	if !ok {
		return nil, NotFoundError(key, suggestion)
	}
	return n, nil
}

func (w *Workspace) record(req search.Request, mode store.SearchMode, started time.Time, sum search.Summary) {
	rec := &store.SearchRecord{
		Symbol:     req.Symbol,
		Namespace:  req.Namespace,
		File:       req.Position.File,
		Line:       req.Position.Line,
		Mode:       mode,
		Strategy:   sum.Strategy,
		StartedAt:  started,
		Duration:   sum.Duration,
		Methods:    sum.Methods,
		References: sum.References,
		Cancelled:  sum.Cancelled,
	}
	if err := w.store.RecordSearch(rec); err != nil {
		w.logger.Warn("recording search history", slog.Any("error", err))
	}
}

func (w *Workspace) abs(file string) string {
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	return filepath.Join(w.root, file)
}

func relPath(root, file string) string {
	if rel, err := filepath.Rel(root, file); err == nil {
		return rel
	}
	return file
}

// RequireKeys fails on the first key missing from m, with a suggestion of
// the closest existing key. Run it inside a mutation to reject a batch before
// anything changes.
func RequireKeys(m *tree.Model, keys []string) error {
	for _, k := range keys {
		if _, ok := m.Find(k); !ok {
			suggestion, _ := m.Suggest(k)
			return NotFoundError(k, suggestion)
		}
	}
	return nil
}

// NotFoundError wraps tree.ErrNotFound with a suggestion of the closest key.
func NotFoundError(key, suggestion string) error {
	if suggestion == "" {
		return fmt.Errorf("%w: %s", tree.ErrNotFound, key)
	}
	return fmt.Errorf("%w: %s (did you mean %s?)", tree.ErrNotFound, key, suggestion)
}
