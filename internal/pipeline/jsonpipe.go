package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/scraper"
)

// JSON processes JSON documents: validation, shape metadata, links pulled
// from string values, and a pretty-printed canonical body.
type JSON struct {
	stages []Stage
}

func NewJSON(logger *zap.Logger) *JSON {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSON{
		stages: []Stage{
			jsonValidateStage(logger),
			jsonMetadataStage(),
			jsonLinksStage(),
			jsonCanonicalStage(),
		},
	}
}

func (j *JSON) CanProcess(mimeType string) bool {
	return mimeMatches(mimeType, []string{"application/json", "text/json"}, []string{"+json"})
}

func (j *JSON) Process(ctx context.Context, raw scraper.RawContent, opts scraper.ProcessOptions) (scraper.ProcessedContent, error) {
	return runChain(ctx, j.stages, raw, opts, nil), nil
}

func (j *JSON) Close() error { return nil }

// jsonValidateStage stops the chain for malformed documents. Later stages
// assume a parseable root.
func jsonValidateStage(logger *zap.Logger) Stage {
	return NewStage("validate", func(_ context.Context, pc *Context, proceed func() error) error {
		if !gjson.Valid(pc.Content) {
			logger.Warn("malformed JSON document", zap.String("url", pc.SourceURL))
			return errors.New("invalid JSON document")
		}
		return proceed()
	})
}

func jsonMetadataStage() Stage {
	return NewStage("metadata", func(_ context.Context, pc *Context, proceed func() error) error {
		root := gjson.Parse(pc.Content)
		switch {
		case root.IsArray():
			pc.SetMeta("kind", "array")
			pc.SetMeta("members", countMembers(root))
		case root.IsObject():
			pc.SetMeta("kind", "object")
			pc.SetMeta("members", countMembers(root))
			for _, key := range []string{"title", "name", "description"} {
				if v := root.Get(key); v.Type == gjson.String {
					pc.SetMeta(key, v.String())
				}
			}
		default:
			pc.SetMeta("kind", "scalar")
		}
		return proceed()
	})
}

func countMembers(root gjson.Result) int {
	n := 0
	root.ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n
}

// jsonLinksStage walks every string value and records the http(s) ones.
func jsonLinksStage() Stage {
	return NewStage("links", func(_ context.Context, pc *Context, proceed func() error) error {
		collectJSONLinks(pc, gjson.Parse(pc.Content))
		return proceed()
	})
}

func collectJSONLinks(pc *Context, v gjson.Result) {
	switch {
	case v.IsArray() || v.IsObject():
		v.ForEach(func(_, child gjson.Result) bool {
			collectJSONLinks(pc, child)
			return true
		})
	case v.Type == gjson.String:
		s := v.String()
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			pc.AddLink(s)
		}
	}
}

func jsonCanonicalStage() Stage {
	return NewStage("canonicalize", func(_ context.Context, pc *Context, proceed func() error) error {
		if pretty := gjson.Get(pc.Content, "@pretty"); pretty.Exists() {
			pc.Content = strings.TrimSpace(pretty.Raw)
		}
		return proceed()
	})
}
