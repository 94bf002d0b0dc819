// Package source provides cached, line-oriented access to source files.
package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the number of documents kept when no size is configured.
const DefaultSize = 256

type document struct {
	text  string
	lines []string
	mod   int64 // modification time in nanoseconds when read
}

// Cache reads files through an LRU keyed by path. Entries are re-read when the
// file's modification time changes.
type Cache struct {
	docs *lru.Cache[string, *document]
}

// NewCache creates a cache holding up to size documents.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	docs, err := lru.New[string, *document](size)
	if err != nil {
		return nil, fmt.Errorf("creating document cache: %w", err)
	}
	return &Cache{docs: docs}, nil
}

// Lines returns the file split into lines. Line endings are stripped.
func (c *Cache) Lines(ctx context.Context, file string) ([]string, error) {
	doc, err := c.load(ctx, file)
	if err != nil {
		return nil, err
	}
	return doc.lines, nil
}

// Text returns the full file contents.
func (c *Cache) Text(ctx context.Context, file string) (string, error) {
	doc, err := c.load(ctx, file)
	if err != nil {
		return "", err
	}
	return doc.text, nil
}

// Line returns a single 0-based line, or "" when out of range.
func (c *Cache) Line(ctx context.Context, file string, line int) (string, error) {
	lines, err := c.Lines(ctx, file)
	if err != nil {
		return "", err
	}
	if line < 0 || line >= len(lines) {
		return "", nil
	}
	return lines[line], nil
}

// Invalidate drops a cached document.
func (c *Cache) Invalidate(file string) {
	c.docs.Remove(file)
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	return c.docs.Len()
}

func (c *Cache) load(ctx context.Context, file string) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	mod := info.ModTime().UnixNano()
	if doc, ok := c.docs.Get(file); ok && doc.mod == mod {
		return doc, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	text := string(data)
	doc := &document{text: text, lines: SplitLines(text), mod: mod}
	c.docs.Add(file, doc)
	return doc, nil
}

// SplitLines splits text on LF, tolerating CRLF endings.
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
