// Package scan is the textual fallback for caller discovery: it searches every
// source file in the workspace for lines that look like a call to a symbol.
package scan

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/abramin/upstream/internal/classify"
	"github.com/abramin/upstream/internal/model"
)

// Options configures which files are scanned.
type Options struct {
	Include []string // file name globs, e.g. "*.cs"
	// ExcludeDir reports whether a directory is never descended into.
	// Hidden directories are always skipped.
	ExcludeDir func(dir string) bool
	Workers    int
}

// Scanner finds textual call sites below a root directory.
type Scanner struct {
	root string
	opts Options
}

// New creates a scanner for root.
func New(root string, opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if len(opts.Include) == 0 {
		opts.Include = []string{"*.cs"}
	}
	if opts.ExcludeDir == nil {
		opts.ExcludeDir = func(string) bool { return false }
	}
	return &Scanner{root: root, opts: opts}
}

// Files lists the source files the scanner would read, sorted by path.
// Paths are absolute when root is.
func (s *Scanner) Files() ([]string, error) {
	gi := loadGitignore(s.root)
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		name := d.Name()
		if d.IsDir() {
			if path == s.root {
				return nil
			}
			if strings.HasPrefix(name, ".") || s.opts.ExcludeDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !s.included(name) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (s *Scanner) included(name string) bool {
	for _, pattern := range s.opts.Include {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// FindCalls returns every position where symbol appears followed by an
// optional generic argument list and an open paren. Results are sorted by
// file, line and column so repeated scans agree.
func (s *Scanner) FindCalls(ctx context.Context, symbol string) ([]model.CallSite, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []model.CallSite
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, file := range files {
		g.Go(func() error {
			found, err := scanFile(gctx, file, symbol)
			if err != nil {
				return nil // unreadable files are skipped
			}
			if len(found) == 0 {
				return nil
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	return results, nil
}

func scanFile(ctx context.Context, file, symbol string) ([]model.CallSite, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []model.CallSite
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 0; sc.Scan(); line++ {
		if line%512 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := sc.Text()
		if !strings.Contains(text, symbol) {
			continue
		}
		for _, col := range classify.CallColumns(text, symbol) {
			found = append(found, model.CallSite{
				SourcePosition: model.SourcePosition{File: file, Line: line, Character: col},
				ReferenceType:  model.RefCall,
			})
		}
	}
	return found, sc.Err()
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
