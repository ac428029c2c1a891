package pipeline

import (
	"context"
	"strings"

	"github.com/docharvest/docharvest/internal/scraper"
)

// normalizeMime strips parameters and lowercases a Content-Type value, so
// "Text/HTML; charset=ISO-8859-1" compares as "text/html".
func normalizeMime(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// mimeMatches reports whether the normalized type appears in the exact list
// or carries one of the suffixes ("+json" style structured syntax names).
func mimeMatches(mimeType string, exact []string, suffixes []string) bool {
	m := normalizeMime(mimeType)
	if m == "" {
		return false
	}
	for _, e := range exact {
		if m == e {
			return true
		}
	}
	for _, s := range suffixes {
		if strings.HasSuffix(m, s) {
			return true
		}
	}
	return false
}

// runChain decodes the raw bytes, builds the context, dispatches the stage
// chain, and assembles the processed result from the final context state.
func runChain(ctx context.Context, stages []Stage, raw scraper.RawContent, opts scraper.ProcessOptions, renderer scraper.Renderer) scraper.ProcessedContent {
	text, decErr := decode(raw)
	pc := NewContext(raw.SourceURL, text, opts)
	pc.renderer = renderer
	if decErr != nil {
		pc.AddError(&scraper.StageError{Stage: "decode", Err: decErr})
	}
	Run(ctx, stages, pc)
	return scraper.ProcessedContent{
		TextContent: pc.Content,
		Metadata:    pc.Metadata,
		Links:       pc.Links(),
		Errors:      pc.Errors,
	}
}
