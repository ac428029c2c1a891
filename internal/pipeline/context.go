// Package pipeline turns raw fetched content into processed text, links,
// and metadata. A pipeline is an ordered chain of stages dispatched over a
// mutable context; per-MIME-type pipelines share the dispatch machinery and
// the charset-aware decode step.
package pipeline

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Context is the mutable state a single dispatch run owns exclusively. It
// is never shared across concurrent page processing.
type Context struct {
	// Content is the working text form, mutated in place by stages.
	Content string
	// SourceURL is the page the content came from.
	SourceURL string
	// Metadata accumulates extracted fields such as title and description.
	Metadata map[string]any
	// Errors collects every stage failure; nothing here aborts the crawl.
	Errors []error
	// Options tune this invocation.
	Options scraper.ProcessOptions

	links    []string
	linkSeen map[string]struct{}

	renderer scraper.Renderer
	doc      *goquery.Document
}

// NewContext builds the context for one pipeline run.
func NewContext(sourceURL, content string, opts scraper.ProcessOptions) *Context {
	return &Context{
		Content:   content,
		SourceURL: sourceURL,
		Metadata:  map[string]any{},
		Options:   opts,
		linkSeen:  map[string]struct{}{},
	}
}

// AddLink records a discovered link, preserving first-seen order and
// dropping duplicates and empties.
func (c *Context) AddLink(link string) {
	if link == "" {
		return
	}
	if _, dup := c.linkSeen[link]; dup {
		return
	}
	c.linkSeen[link] = struct{}{}
	c.links = append(c.links, link)
}

// Links returns the ordered, de-duplicated links recorded so far.
func (c *Context) Links() []string {
	return c.links
}

// AddError appends a stage error. Fail-open stages call this and proceed.
func (c *Context) AddError(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

// SetMeta records a metadata field, ignoring empty string values.
func (c *Context) SetMeta(key string, value any) {
	if s, ok := value.(string); ok && s == "" {
		return
	}
	c.Metadata[key] = value
}
