package pipeline

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/scraper"
)

// renderThreshold is the static-HTML size below which a page carrying SPA
// markers is assumed to build its content client side.
const renderThreshold = 2048

var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
}

var rootSelectors = []string{"#root", "#app", "#__next", "[data-reactroot]"}

// needsRender inspects static HTML for signals that the useful content is
// assembled by JavaScript. A marker alone is not enough: server-rendered
// apps keep their mount point, so an empty mount element is the strongest
// signal, with a size threshold as fallback.
func needsRender(content string) bool {
	if strings.TrimSpace(content) == "" {
		return true
	}
	lower := strings.ToLower(content)
	marked := false
	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			marked = true
			break
		}
	}
	if !marked {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return true
	}
	for _, sel := range rootSelectors {
		root := doc.Find(sel).First()
		if root.Length() == 0 {
			continue
		}
		return strings.TrimSpace(root.Text()) == ""
	}
	return len(content) < renderThreshold
}

// renderStage replaces the static HTML with a headless-rendered snapshot
// when the options call for one. Render failures keep the static HTML and
// continue the chain.
func renderStage(logger *zap.Logger) Stage {
	return NewStage("render", func(ctx context.Context, pc *Context, proceed func() error) error {
		mode := pc.Options.RenderMode
		if mode == "" {
			mode = scraper.RenderNever
		}
		if mode == scraper.RenderNever || pc.renderer == nil {
			return proceed()
		}
		if mode == scraper.RenderAuto && !needsRender(pc.Content) {
			return proceed()
		}
		res, err := pc.renderer.Render(ctx, pc.SourceURL)
		if err != nil {
			logger.Warn("headless render failed, keeping static HTML",
				zap.String("url", pc.SourceURL),
				zap.Error(err))
			pc.AddError(&scraper.StageError{Stage: "render", Err: err})
			return proceed()
		}
		pc.Content = res.HTML
		pc.SetMeta("rendered", true)
		if res.FinalURL != "" && res.FinalURL != pc.SourceURL {
			pc.SetMeta("final_url", res.FinalURL)
		}
		return proceed()
	})
}
