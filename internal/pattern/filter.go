// Package pattern filters crawl URLs through include/exclude lists. A
// pattern wrapped in slashes (`/.../`) is a regular expression matched
// anywhere in the target; anything else is a glob where `*` matches any run
// of characters except `/`. Globs anchor against the URL's full path and
// query. Excludes always win over includes.
package pattern

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/docharvest/docharvest/internal/scraper"
)

type compiled struct {
	source string
	re     *regexp.Regexp
	// base matches file URL basenames; for globs it is the pattern with
	// any leading slash stripped, for regexps it is the same expression.
	base *regexp.Regexp
}

// Filter holds compiled include and exclude patterns for one crawl.
type Filter struct {
	includes []compiled
	excludes []compiled
}

// New compiles every pattern up front. A pattern that does not compile is a
// construction-time *scraper.InvalidPatternError, never a silent skip.
func New(includes, excludes []string) (*Filter, error) {
	f := &Filter{}
	for _, src := range includes {
		c, err := compile(src)
		if err != nil {
			return nil, err
		}
		f.includes = append(f.includes, c)
	}
	for _, src := range excludes {
		c, err := compile(src)
		if err != nil {
			return nil, err
		}
		f.excludes = append(f.excludes, c)
	}
	return f, nil
}

// ShouldInclude decides whether a URL passes the filter. Excludes are
// checked first; with no includes configured everything else is accepted.
func (f *Filter) ShouldInclude(rawURL string) bool {
	target, basename := matchTarget(rawURL)
	for _, c := range f.excludes {
		if c.matches(target, basename) {
			return false
		}
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, c := range f.includes {
		if c.matches(target, basename) {
			return true
		}
	}
	return false
}

func (c compiled) matches(target, basename string) bool {
	if c.re.MatchString(target) {
		return true
	}
	return basename != "" && c.base != nil && c.base.MatchString(basename)
}

func compile(src string) (compiled, error) {
	if isRegexp(src) {
		re, err := regexp.Compile(src[1 : len(src)-1])
		if err != nil {
			return compiled{}, &scraper.InvalidPatternError{Pattern: src, Err: err}
		}
		return compiled{source: src, re: re, base: re}, nil
	}
	re, err := compileGlob(src)
	if err != nil {
		return compiled{}, &scraper.InvalidPatternError{Pattern: src, Err: err}
	}
	base, err := compileGlob(strings.TrimPrefix(src, "/"))
	if err != nil {
		return compiled{}, &scraper.InvalidPatternError{Pattern: src, Err: err}
	}
	return compiled{source: src, re: re, base: base}, nil
}

func isRegexp(src string) bool {
	return len(src) > 1 && strings.HasPrefix(src, "/") && strings.HasSuffix(src, "/")
}

// compileGlob translates a glob to an anchored regexp. `*` becomes any run
// of non-slash characters; there is no cross-segment wildcard, so `**` is
// equivalent to `*`. Every other character is literal.
func compileGlob(src string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range src {
		if r == '*' {
			b.WriteString("[^/]*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// matchTarget reduces a URL to the string patterns run against: path plus
// query, scheme and host stripped, always starting with a slash. For file
// URLs the basename is returned as a secondary target.
func matchTarget(rawURL string) (target, basename string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		if !strings.HasPrefix(rawURL, "/") {
			return "/" + rawURL, ""
		}
		return rawURL, ""
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	target = p
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	if strings.EqualFold(u.Scheme, "file") {
		basename = path.Base(u.Path)
	}
	return target, basename
}
