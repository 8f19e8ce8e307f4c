// Package treeadapter parses HTML into a queryable DOM and offloads that
// CPU-bound work onto a worker pool, so the coordinator's cooperative loop
// never blocks on parsing. The default backend is goquery,
// the same CSS-selector library the wider retrieval pack reaches for
// (gopherseo, docs-crawler) when it needs DOM traversal.
package treeadapter

import (
	"context"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Element is a single DOM node, queryable relative to itself.
type Element interface {
	Find(selector string) (Element, bool)
	FindAll(selector string) []Element
	Text() string
	Attribute(name string) (string, bool)
}

// Tree is a parsed document, the root for selector queries.
type Tree interface {
	Find(selector string) (Element, bool)
	FindAll(selector string) []Element
	Text() string
	Attribute(name string) (string, bool)
	// XPath returns elements matching query, or nil if the backend does
	// not support XPath (contract allows unsupported adapters to return
	// empty rather than error).
	XPath(query string) []Element
}

// Adapter parses HTML strings into a Tree, offloading the parse to an
// internal worker pool sized to GOMAXPROCS.
type Adapter struct {
	pool *pool
}

// New creates an Adapter with its own worker pool.
func New() *Adapter {
	return &Adapter{pool: newPool(0)}
}

// Parse blocks the caller's goroutine until a worker has parsed html,
// or ctx is done first.
func (a *Adapter) Parse(ctx context.Context, html string) (Tree, error) {
	type result struct {
		tree Tree
		err  error
	}
	resultCh := make(chan result, 1)
	a.pool.submit(func() {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{tree: &goqueryTree{sel: doc.Selection}}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.tree, r.err
	}
}

// Close releases the worker pool. Safe to call once per Adapter.
func (a *Adapter) Close() { a.pool.close() }

var (
	defaultOnce    sync.Once
	defaultAdapter *Adapter
)

// Default returns the process-wide lazily-initialized Adapter instance.
// It holds no mutable per-parse state, so it is
// safe to share across concurrent scans.
func Default() *Adapter {
	defaultOnce.Do(func() {
		defaultAdapter = New()
	})
	return defaultAdapter
}

type goqueryTree struct {
	sel *goquery.Selection
}

func (t *goqueryTree) Find(selector string) (Element, bool) {
	sel := t.sel.Find(selector).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return &goqueryElement{sel: sel}, true
}

func (t *goqueryTree) FindAll(selector string) []Element {
	return collect(t.sel.Find(selector))
}

func (t *goqueryTree) Text() string { return t.sel.Text() }

func (t *goqueryTree) Attribute(name string) (string, bool) {
	return t.sel.Attr(name)
}

// XPath is unsupported by the goquery backend; per contract this returns
// an empty result rather than an error.
func (t *goqueryTree) XPath(string) []Element { return nil }

type goqueryElement struct {
	sel *goquery.Selection
}

func (e *goqueryElement) Find(selector string) (Element, bool) {
	sel := e.sel.Find(selector).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return &goqueryElement{sel: sel}, true
}

func (e *goqueryElement) FindAll(selector string) []Element {
	return collect(e.sel.Find(selector))
}

func (e *goqueryElement) Text() string { return e.sel.Text() }

func (e *goqueryElement) Attribute(name string) (string, bool) {
	return e.sel.Attr(name)
}

func collect(sel *goquery.Selection) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &goqueryElement{sel: s})
	})
	return out
}
