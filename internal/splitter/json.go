package splitter

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/docharvest/docharvest/internal/scraper"
)

// SplitJSON chunks a JSON document along top-level member boundaries. An
// array splits into arrays over disjoint ordered sub-slices; an object
// splits into objects whose key sets partition the original keys with
// insertion order preserved. Every chunk parses independently and member
// raw text is preserved exactly. Scalars and single-member containers have
// no boundary to split on and come back as one chunk regardless of budget.
func SplitJSON(content string, opts Options) ([]Chunk, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if content == "" {
		return []Chunk{{}}, nil
	}
	if len(content) <= opts.MaxChunkSize {
		return []Chunk{{Content: content}}, nil
	}

	trimmed := strings.TrimSpace(content)
	if !gjson.Valid(trimmed) {
		return nil, &scraper.SplitError{Reason: "invalid JSON document"}
	}
	root := gjson.Parse(trimmed)

	var members []string
	var opener, closer string
	switch {
	case root.IsArray():
		opener, closer = "[", "]"
		root.ForEach(func(_, value gjson.Result) bool {
			members = append(members, value.Raw)
			return true
		})
	case root.IsObject():
		opener, closer = "{", "}"
		root.ForEach(func(key, value gjson.Result) bool {
			members = append(members, key.Raw+":"+value.Raw)
			return true
		})
	default:
		// A scalar cannot be split and stay valid JSON.
		return []Chunk{{Content: content}}, nil
	}
	if len(members) <= 1 {
		return []Chunk{{Content: content}}, nil
	}

	overhead := len(opener) + len(closer)
	var chunks []Chunk
	var cur []string
	curSize := overhead
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, Chunk{
				Content:  opener + strings.Join(cur, ",") + closer,
				Metadata: map[string]any{"kind": "json", "members": len(cur)},
			})
			cur = nil
			curSize = overhead
		}
	}
	for _, member := range members {
		need := overhead + len(member)
		if need > opts.MaxChunkSize {
			return nil, &scraper.MinimumChunkSizeError{Unit: "JSON member", Need: need, Budget: opts.MaxChunkSize}
		}
		add := len(member)
		if len(cur) > 0 {
			add++ // separating comma
		}
		if curSize+add > opts.MaxChunkSize {
			flush()
			add = len(member)
		}
		cur = append(cur, member)
		curSize += add
	}
	flush()
	return chunks, nil
}

// looksLikeJSON sniffs for a parseable JSON document.
func looksLikeJSON(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[':
		return gjson.Valid(trimmed)
	default:
		return false
	}
}
