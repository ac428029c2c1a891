package pipeline

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Markdown processes Markdown and plain-text documents: YAML frontmatter,
// a title from the first ATX heading, and link extraction. The body text
// is kept as-is.
type Markdown struct {
	stages []Stage
}

func NewMarkdown(logger *zap.Logger) *Markdown {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Markdown{
		stages: []Stage{
			markdownFrontmatterStage(logger),
			markdownTitleStage(),
			markdownLinksStage(),
		},
	}
}

func (m *Markdown) CanProcess(mimeType string) bool {
	return mimeMatches(mimeType, []string{"text/markdown", "text/x-markdown", "text/plain"}, nil)
}

func (m *Markdown) Process(ctx context.Context, raw scraper.RawContent, opts scraper.ProcessOptions) (scraper.ProcessedContent, error) {
	return runChain(ctx, m.stages, raw, opts, nil), nil
}

func (m *Markdown) Close() error { return nil }

var frontmatterRe = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---(?:\r?\n|\z)`)

// markdownFrontmatterStage lifts YAML frontmatter fields into metadata and
// strips the block from the body. A block that fails to parse stays in the
// body and the error is recorded.
func markdownFrontmatterStage(logger *zap.Logger) Stage {
	return NewStage("frontmatter", func(_ context.Context, pc *Context, proceed func() error) error {
		m := frontmatterRe.FindStringSubmatch(pc.Content)
		if m == nil {
			return proceed()
		}
		fields := map[string]any{}
		if err := yaml.Unmarshal([]byte(m[1]), &fields); err != nil {
			logger.Warn("frontmatter did not parse, keeping it in the body",
				zap.String("url", pc.SourceURL),
				zap.Error(err))
			pc.AddError(&scraper.StageError{Stage: "frontmatter", Err: err})
			return proceed()
		}
		for k, v := range fields {
			pc.SetMeta(strings.ToLower(k), v)
		}
		pc.Content = pc.Content[len(m[0]):]
		return proceed()
	})
}

var atxTitleRe = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*#*[ \t]*$`)

// markdownTitleStage falls back to the first ATX heading when frontmatter
// did not provide a title.
func markdownTitleStage() Stage {
	return NewStage("title", func(_ context.Context, pc *Context, proceed func() error) error {
		if _, ok := pc.Metadata["title"]; !ok {
			if m := atxTitleRe.FindStringSubmatch(pc.Content); m != nil {
				pc.SetMeta("title", strings.TrimSpace(m[1]))
			}
		}
		return proceed()
	})
}

var (
	mdInlineLinkRe = regexp.MustCompile(`(!?)\[[^\]]*\]\(([^)\s]+)(?:[ \t]+"[^"]*")?\)`)
	mdRefLinkRe    = regexp.MustCompile(`(?m)^[ \t]*\[[^\]]+\]:[ \t]*(\S+)`)
	mdAutolinkRe   = regexp.MustCompile(`<(https?://[^>\s]+)>`)
)

func markdownLinksStage() Stage {
	return NewStage("links", func(_ context.Context, pc *Context, proceed func() error) error {
		for _, m := range mdInlineLinkRe.FindAllStringSubmatch(pc.Content, -1) {
			if m[1] == "!" {
				continue
			}
			addMarkdownLink(pc, m[2])
		}
		for _, m := range mdRefLinkRe.FindAllStringSubmatch(pc.Content, -1) {
			addMarkdownLink(pc, m[1])
		}
		for _, m := range mdAutolinkRe.FindAllStringSubmatch(pc.Content, -1) {
			addMarkdownLink(pc, m[1])
		}
		return proceed()
	})
}

func addMarkdownLink(pc *Context, raw string) {
	raw = strings.Trim(strings.TrimSpace(raw), "<>")
	if raw == "" || strings.HasPrefix(raw, "#") {
		return
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "javascript:") {
		return
	}
	pc.AddLink(raw)
}
