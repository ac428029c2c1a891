package splitter

import (
	"regexp"
	"strings"

	"github.com/docharvest/docharvest/internal/scraper"
)

var separatorRowRe = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)

// SplitTable chunks a Markdown table along row boundaries. Every chunk
// restates the verbatim header row plus a normalized separator row (one
// `|---|` cell per header column); the decoration counts against each
// chunk's budget. Data rows are never split and reproduce exactly, in
// order, when chunks are concatenated.
func SplitTable(content string, opts Options) ([]Chunk, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if content == "" {
		// No header means no decoration to add.
		return []Chunk{{}}, nil
	}
	if len(content) <= opts.MaxChunkSize {
		return []Chunk{{Content: content}}, nil
	}

	header, rows := parseTable(content)
	if header == "" {
		return SplitText(content, opts)
	}
	decoration := header + "\n" + separatorRow(countColumns(header)) + "\n"
	if len(rows) == 0 {
		return nil, &scraper.MinimumChunkSizeError{
			Unit:   "table header",
			Need:   len(content),
			Budget: opts.MaxChunkSize,
		}
	}

	var chunks []Chunk
	var cur strings.Builder
	curRows := 0
	flush := func() {
		if curRows > 0 {
			chunks = append(chunks, Chunk{
				Content:  cur.String(),
				Metadata: map[string]any{"kind": "table", "rows": curRows},
			})
			cur.Reset()
			curRows = 0
		}
	}
	for _, row := range rows {
		need := len(decoration) + len(row)
		if need > opts.MaxChunkSize {
			return nil, &scraper.MinimumChunkSizeError{Unit: "table row", Need: need, Budget: opts.MaxChunkSize}
		}
		if curRows > 0 && cur.Len()+1+len(row) > opts.MaxChunkSize {
			flush()
		}
		if curRows == 0 {
			cur.WriteString(decoration)
		} else {
			cur.WriteString("\n")
		}
		cur.WriteString(row)
		curRows++
	}
	flush()
	return chunks, nil
}

// parseTable pulls the header row and the data rows out of the table text.
// An existing separator row after the header is consumed; it is regenerated
// per chunk in normalized form.
func parseTable(content string) (header string, rows []string) {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if header == "" {
			header = line
			continue
		}
		if len(rows) == 0 && separatorRowRe.MatchString(line) && strings.Contains(line, "-") {
			continue
		}
		rows = append(rows, line)
	}
	return header, rows
}

// countColumns counts header cells: pipes delimit cells, with optional
// leading and trailing pipes.
func countColumns(header string) int {
	trimmed := strings.TrimSpace(header)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	if trimmed == "" {
		return 1
	}
	return strings.Count(trimmed, "|") + 1
}

func separatorRow(columns int) string {
	return "|" + strings.Repeat("---|", columns)
}

// looksLikeTable sniffs for a pipe-delimited header followed by a separator
// row, the shape Markdown tables always take.
func looksLikeTable(content string) bool {
	var first, second string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if first == "" {
			first = line
			continue
		}
		second = line
		break
	}
	if !strings.HasPrefix(strings.TrimSpace(first), "|") {
		return false
	}
	return separatorRowRe.MatchString(second) && strings.Contains(second, "-")
}
