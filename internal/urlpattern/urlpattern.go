// Package urlpattern matches page URLs against rule scopes.
//
// A pattern is "<scheme>://<host-pattern>[/<path-pattern>]". The host is a
// literal hostname or "*.<domain>", which matches strict subdomains only:
// "https://*.example.com" does not match "https://example.com". A path
// pattern matches the exact path or any sub-path on a segment boundary, so
// "/news" matches "/news/1" but not "/newsroom". Trailing slashes are
// ignored on both sides.
package urlpattern

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Matches reports whether href falls inside pattern. Malformed input never
// matches.
func Matches(pattern, href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Scheme == "" {
		return false
	}

	idx := strings.Index(pattern, "://")
	if idx < 0 {
		return false
	}
	scheme := strings.ToLower(pattern[:idx])
	rest := pattern[idx+3:]
	if !strings.EqualFold(u.Scheme, scheme) {
		return false
	}

	hostPattern, pathPattern := rest, ""
	if i := strings.Index(rest, "/"); i >= 0 {
		hostPattern, pathPattern = rest[:i], rest[i:]
	}
	hostPattern = asciiHost(strings.ToLower(hostPattern))
	pathPattern = strings.TrimSuffix(pathPattern, "/")

	hostname := strings.ToLower(u.Hostname())
	if root, ok := strings.CutPrefix(hostPattern, "*."); ok {
		if hostname == root || !strings.HasSuffix(hostname, "."+root) {
			return false
		}
	} else if hostname != hostPattern {
		return false
	}

	if pathPattern == "" {
		return true
	}

	p := strings.TrimSuffix(u.EscapedPath(), "/")
	return p == pathPattern || strings.HasPrefix(p, pathPattern+"/")
}

// MatchesAny reports whether href matches at least one pattern.
func MatchesAny(patterns []string, href string) bool {
	for _, p := range patterns {
		if Matches(p, href) {
			return true
		}
	}
	return false
}

// Valid reports whether pattern is usable as a rule scope: an http or https
// scheme, a non-empty host, and a path without wildcards. Matches treats the
// path literally, so "/*" would never match anything.
func Valid(pattern string) bool {
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return false
	}
	switch strings.ToLower(scheme) {
	case "http", "https":
	default:
		return false
	}
	host, path, _ := strings.Cut(rest, "/")
	host = strings.TrimPrefix(host, "*.")
	if host == "" || strings.ContainsAny(host, " *") {
		return false
	}
	if strings.Contains(path, "*") {
		return false
	}
	return true
}

// asciiHost converts an internationalised host pattern to the punycode form
// browsers report. The wildcard label is kept as-is.
func asciiHost(h string) string {
	if h == "" {
		return h
	}
	prefix := ""
	if rest, ok := strings.CutPrefix(h, "*."); ok {
		prefix, h = "*.", rest
	}
	if a, err := idna.Lookup.ToASCII(h); err == nil {
		h = a
	}
	return prefix + h
}
