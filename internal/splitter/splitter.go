// Package splitter cuts content into chunks that respect a byte budget,
// splitting along the largest structural boundary the content offers: rows
// for Markdown tables, top-level members for JSON, blocks and lines for
// everything else. Every row, member, and character survives splitting in
// order; table and JSON chunks additionally carry the decoration (header
// row, enclosing brackets) that keeps each chunk parseable on its own,
// while plain text reproduces byte for byte when chunks are concatenated.
package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Options control chunking.
type Options struct {
	// MaxChunkSize is the chunk budget in bytes. It must be positive.
	MaxChunkSize int
}

func (o Options) validate() error {
	if o.MaxChunkSize <= 0 {
		return &scraper.SplitError{Reason: "max chunk size must be positive"}
	}
	return nil
}

// Chunk is one emitted piece of content.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// Split chunks content, sniffing its shape: valid JSON documents and
// Markdown tables get structural treatment, anything else splits as text.
// Content that fits the budget comes back as a single verbatim chunk, and
// empty input yields exactly one empty chunk.
func Split(content string, opts Options) ([]Chunk, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if content == "" {
		return []Chunk{{}}, nil
	}
	if len(content) <= opts.MaxChunkSize {
		return []Chunk{{Content: content}}, nil
	}
	switch {
	case looksLikeJSON(content):
		return SplitJSON(content, opts)
	case looksLikeTable(content):
		return SplitTable(content, opts)
	default:
		return SplitText(content, opts)
	}
}

// SplitText chunks generic text greedily along blank-line block boundaries,
// descending to line boundaries and finally rune-safe byte windows for
// oversized atoms. Separators stay attached to the preceding piece, so the
// concatenation of all chunk contents is byte-identical to the input.
func SplitText(content string, opts Options) ([]Chunk, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if content == "" {
		return []Chunk{{}}, nil
	}
	if len(content) <= opts.MaxChunkSize {
		return []Chunk{{Content: content}}, nil
	}

	var atoms []string
	for _, block := range strings.SplitAfter(content, "\n\n") {
		atoms = append(atoms, explode(block, opts.MaxChunkSize)...)
	}

	var chunks []Chunk
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, Chunk{Content: cur.String()})
			cur.Reset()
		}
	}
	for _, atom := range atoms {
		if cur.Len()+len(atom) > opts.MaxChunkSize {
			flush()
		}
		cur.WriteString(atom)
	}
	flush()
	return chunks, nil
}

// explode breaks an oversized piece along progressively smaller boundaries
// until every fragment fits the budget. All bytes are preserved in order.
func explode(s string, maxSize int) []string {
	if len(s) <= maxSize {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	lines := strings.SplitAfter(s, "\n")
	if len(lines) > 1 {
		var out []string
		for _, line := range lines {
			out = append(out, explode(line, maxSize)...)
		}
		return out
	}
	return runeWindows(s, maxSize)
}

// runeWindows hard-splits a single oversized line at the largest cut that
// does not land inside a UTF-8 sequence.
func runeWindows(s string, maxSize int) []string {
	var out []string
	for len(s) > maxSize {
		cut := maxSize
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			// Not valid UTF-8 at all; cut on the raw byte boundary.
			cut = maxSize
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
