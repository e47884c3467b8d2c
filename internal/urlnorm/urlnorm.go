// Package urlnorm provides pure string normalization for domains and URLs.
// The pipeline keys its caches and rate limits on these normalized forms.
package urlnorm

import (
	"fmt"
	"net/url"
	"strings"
)

// shorteners are hosts whose URLs are expanded through the resolver before
// fetching.
var shorteners = map[string]struct{}{
	"t.co":        {},
	"bit.ly":      {},
	"buff.ly":     {},
	"tinyurl.com": {},
	"ow.ly":       {},
	"goo.gl":      {},
	"tiny.cc":     {},
	"is.gd":       {},
}

// domainGroups collapses related hosts to a canonical label so rate limiting
// and reporting treat them as one site.
var domainGroups = []struct {
	canonical string
	exact     []string
	suffixes  []string
}{
	{
		canonical: "twitter.com",
		exact:     []string{"twitter.com", "x.com", "m.twitter.com"},
		suffixes:  []string{".twitter.com", ".x.com"},
	},
	{
		canonical: "youtube.com",
		exact:     []string{"youtube.com", "youtu.be", "m.youtube.com"},
	},
	{
		canonical: "wikipedia.org",
		suffixes:  []string{".wikipedia.org"},
		exact:     []string{"wikipedia.org"},
	},
	{
		canonical: "substack.com",
		suffixes:  []string{".substack.com"},
		exact:     []string{"substack.com"},
	},
	{
		canonical: "medium.com",
		suffixes:  []string{".medium.com"},
		exact:     []string{"medium.com"},
	},
	{
		canonical: "github.com",
		exact:     []string{"github.com", "raw.githubusercontent.com", "gist.github.com"},
	},
}

// Domain normalizes a host for rate-limit and reporting purposes: lowercase,
// no port, no www. prefix, mobile subdomain collapsed, related hosts grouped.
func Domain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")

	// Collapse mobile subdomains like m.example.com.
	if parts := strings.Split(host, "."); len(parts) > 2 && parts[0] == "m" {
		host = strings.Join(parts[1:], ".")
	}

	for _, group := range domainGroups {
		for _, exact := range group.exact {
			if host == exact {
				return group.canonical
			}
		}
		for _, suffix := range group.suffixes {
			if strings.HasSuffix(host, suffix) {
				return group.canonical
			}
		}
	}
	return host
}

// DomainOf extracts and normalizes the domain of a raw URL. Unparseable
// input yields an empty string.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return Domain(u.Host)
}

// IsShortener reports whether the host belongs to a known URL shortener.
func IsShortener(host string) bool {
	_, ok := shorteners[Domain(host)]
	return ok
}

// Key canonicalizes a raw URL into the cache key form: lowercase scheme and
// host, default ports and fragments removed, query parameters sorted. The
// key is computed on the pre-resolution URL so repeated occurrences of the
// same shortened link hit the cache without re-resolving.
func Key(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}
