package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/docharvest/docharvest/internal/scraper"
)

// decode converts raw bytes to text before any stage runs. The declared
// charset wins; otherwise valid UTF-8 passes through and everything else
// goes through detection. On failure the raw bytes are kept as-is and the
// error is returned for the caller to record (fail-open).
func decode(raw scraper.RawContent) (string, error) {
	body := raw.Body
	if len(body) == 0 {
		return "", nil
	}
	name := strings.TrimSpace(raw.Charset)
	if name == "" {
		if utf8.Valid(body) {
			return string(body), nil
		}
		best, err := chardet.NewTextDetector().DetectBest(body)
		if err != nil {
			return string(body), fmt.Errorf("charset detection: %w", err)
		}
		name = best.Charset
	}
	if isUTF8(name) {
		return string(body), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return string(body), fmt.Errorf("charset %q: %w", name, err)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body), fmt.Errorf("decode %s: %w", name, err)
	}
	return string(decoded), nil
}

func isUTF8(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}
