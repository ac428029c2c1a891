package pipeline

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/docharvest/docharvest/internal/scraper"
)

// HTML processes text/html and XHTML pages: optional headless rendering,
// DOM parsing, metadata and link extraction, and text conversion.
type HTML struct {
	stages   []Stage
	renderer scraper.Renderer
}

// NewHTML builds the HTML pipeline. The renderer may be nil, in which case
// render modes degrade to never.
func NewHTML(renderer scraper.Renderer, logger *zap.Logger) *HTML {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTML{
		renderer: renderer,
		stages: []Stage{
			renderStage(logger),
			parseHTMLStage(),
			htmlMetadataStage(),
			htmlLinksStage(),
			htmlTextStage(),
		},
	}
}

func (h *HTML) CanProcess(mimeType string) bool {
	return mimeMatches(mimeType, []string{"text/html", "application/xhtml+xml"}, nil)
}

func (h *HTML) Process(ctx context.Context, raw scraper.RawContent, opts scraper.ProcessOptions) (scraper.ProcessedContent, error) {
	return runChain(ctx, h.stages, raw, opts, h.renderer), nil
}

// Close shuts down the attached renderer when it owns resources.
func (h *HTML) Close() error {
	if c, ok := h.renderer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// parseHTMLStage builds the DOM every later stage reads. A document that
// cannot be parsed stops the chain.
func parseHTMLStage() Stage {
	return NewStage("parse", func(_ context.Context, pc *Context, proceed func() error) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(pc.Content))
		if err != nil {
			return err
		}
		pc.doc = doc
		return proceed()
	})
}

func htmlMetadataStage() Stage {
	return NewStage("metadata", func(_ context.Context, pc *Context, proceed func() error) error {
		doc := pc.doc
		pc.SetMeta("title", strings.TrimSpace(doc.Find("title").First().Text()))
		if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			pc.SetMeta("description", strings.TrimSpace(desc))
		}
		if lang, ok := doc.Find("html").Attr("lang"); ok {
			pc.SetMeta("language", strings.TrimSpace(lang))
		}
		if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
			pc.SetMeta("canonical", strings.TrimSpace(canonical))
		}
		return proceed()
	})
}

func htmlLinksStage() Stage {
	return NewStage("links", func(_ context.Context, pc *Context, proceed func() error) error {
		pc.doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			href = strings.TrimSpace(href)
			if href == "" || strings.HasPrefix(href, "#") {
				return
			}
			lower := strings.ToLower(href)
			for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
				if strings.HasPrefix(lower, scheme) {
					return
				}
			}
			pc.AddLink(href)
		})
		return proceed()
	})
}

// htmlTextStage converts the DOM into plain text, dropping non-content
// subtrees and inserting line breaks at block boundaries.
func htmlTextStage() Stage {
	return NewStage("text", func(_ context.Context, pc *Context, proceed func() error) error {
		var b strings.Builder
		for _, node := range pc.doc.Selection.Nodes {
			writeNodeText(&b, node)
		}
		pc.Content = tidyText(b.String())
		return proceed()
	})
}

var skipTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
	"head": {}, "iframe": {}, "svg": {}, "nav": {},
}

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "header": {},
	"footer": {}, "main": {}, "aside": {}, "blockquote": {}, "pre": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"ul": {}, "ol": {}, "li": {}, "dl": {}, "dt": {}, "dd": {},
	"table": {}, "tr": {}, "figure": {}, "figcaption": {}, "br": {}, "hr": {},
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		if _, skip := skipTags[n.Data]; skip {
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
	if n.Type == html.ElementNode {
		if _, block := blockTags[n.Data]; block {
			b.WriteString("\n")
		}
	}
}

// tidyText trims every line and collapses runs of blank lines into one.
func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
