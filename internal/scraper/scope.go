package scraper

import (
	"fmt"
	"net/url"
	"strings"
)

// ScopePolicy decides whether a resolved link stays inside a crawl. It is
// built once per crawl from the seed URL and consulted for every discovered
// link after resolution.
type ScopePolicy struct {
	scope      Scope
	seedScheme string
	seedHost   string
	seedName   string
	seedDomain string
	basePath   string
}

// NewScopePolicy derives the comparison keys for the requested scope from
// the seed URL.
func NewScopePolicy(scope Scope, seedURL string) (*ScopePolicy, error) {
	seed, err := url.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}
	if scope == "" {
		scope = ScopeSubpages
	}
	switch scope {
	case ScopeSubpages, ScopeHostname, ScopeDomain:
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	return &ScopePolicy{
		scope:      scope,
		seedScheme: strings.ToLower(seed.Scheme),
		seedHost:   strings.ToLower(seed.Host),
		seedName:   strings.ToLower(seed.Hostname()),
		seedDomain: registrableDomain(seed.Hostname()),
		basePath:   basePath(seed.Path),
	}, nil
}

// Allows reports whether the link is in scope. The link must already be
// absolute; resolve relative references against their page first.
func (p *ScopePolicy) Allows(link *url.URL) bool {
	switch p.scope {
	case ScopeHostname:
		return strings.EqualFold(link.Hostname(), p.seedName)
	case ScopeDomain:
		return registrableDomain(link.Hostname()) == p.seedDomain
	default:
		if !strings.EqualFold(link.Scheme, p.seedScheme) {
			return false
		}
		if !strings.EqualFold(link.Host, p.seedHost) {
			return false
		}
		path := link.Path
		if path == "" {
			path = "/"
		}
		return strings.HasPrefix(path, p.basePath)
	}
}

// AllowsURL is Allows for a raw URL string; unparseable links are out of
// scope.
func (p *ScopePolicy) AllowsURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.Allows(u)
}

// basePath turns the seed path into the prefix subpage links must share: the
// path itself when it ends with a slash, otherwise its parent directory
// including the trailing slash.
func basePath(seedPath string) string {
	if seedPath == "" {
		return "/"
	}
	if strings.HasSuffix(seedPath, "/") {
		return seedPath
	}
	idx := strings.LastIndex(seedPath, "/")
	if idx < 0 {
		return "/"
	}
	return seedPath[:idx+1]
}

// registrableDomain reduces a hostname to its apex plus one label: exactly
// one leading subdomain label is stripped when more than two remain. This is
// a deliberate approximation that avoids a public-suffix table.
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[1:], ".")
}
