// Package urlutil implements URL parsing and the accessor/setter surface
// the HOST binding exposes to the script-side URL class, plus the
// registrable-domain comparison CORP's same-site check needs.
//
// This is new code: nothing upstream parses URLs directly, so it uses
// golang.org/x/net/idna for Unicode host normalization and
// golang.org/x/net/publicsuffix for the registrable-domain rule — both
// already present in go.mod via the wider golang.org/x/net dependency.
package urlutil

import (
	"net/url"
	"strings"

	"github.com/andromeda-rt/andromeda/internal/errs"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// URL is a parsed URL record with the accessor surface :
// getProtocol/getOrigin/getHost/getHostname/getPort/getPathname/getSearch/
// getHash, plus their setters.
type URL struct {
	raw *url.URL
}

// Parse parses rawURL as an absolute URL.
func Parse(rawURL string) (*URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "parsing URL", err)
	}
	if !u.IsAbs() {
		return nil, errs.New(errs.InvalidInput, "URL is not absolute: "+rawURL)
	}
	normalized, err := normalizeHost(u)
	if err != nil {
		return nil, err
	}
	return &URL{raw: normalized}, nil
}

// ParseRelative parses rawURL relative to base, per the URL spec's
// relative-reference resolution.
func ParseRelative(rawURL string, base *URL) (*URL, error) {
	if base == nil {
		return Parse(rawURL)
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "parsing relative URL", err)
	}
	resolved := base.raw.ResolveReference(ref)
	normalized, err := normalizeHost(resolved)
	if err != nil {
		return nil, err
	}
	return &URL{raw: normalized}, nil
}

// normalizeHost applies IDNA (punycode) normalization to the host
// component, so getHostname/getHost always return ASCII-compatible
// encoding the way browsers do.
func normalizeHost(u *url.URL) (*url.URL, error) {
	if u.Hostname() == "" {
		return u, nil
	}
	ascii, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		// Not every scheme's "host" is a DNS name (e.g. file: on some
		// inputs); fall back to the original rather than fail parsing.
		return u, nil
	}
	clone := *u
	if p := u.Port(); p != "" {
		clone.Host = ascii + ":" + p
	} else {
		clone.Host = ascii
	}
	return &clone, nil
}

func (u *URL) String() string { return u.raw.String() }

// GetProtocol returns the scheme with a trailing colon, e.g. "https:".
func (u *URL) GetProtocol() string { return u.raw.Scheme + ":" }

// GetOrigin returns "scheme://host[:port]" for origin comparisons, or
// "null" for schemes without a meaningful origin (per the URL/HTML spec's
// opaque-origin rule, simplified).
func (u *URL) GetOrigin() string {
	switch u.raw.Scheme {
	case "http", "https", "ws", "wss", "ftp":
		return u.raw.Scheme + "://" + u.raw.Host
	default:
		return "null"
	}
}

func (u *URL) GetHost() string { return u.raw.Host }
func (u *URL) GetHostname() string { return u.raw.Hostname() }
func (u *URL) GetPort() string { return u.raw.Port() }
func (u *URL) GetPathname() string { return u.raw.Path }
func (u *URL) GetSearch() string {
	if u.raw.RawQuery == "" {
		return ""
	}
	return "?" + u.raw.RawQuery
}
func (u *URL) GetHash() string {
	if u.raw.Fragment == "" {
		return ""
	}
	return "#" + u.raw.Fragment
}

// SetPathname, SetSearch, SetHash implement the corresponding setters.
func (u *URL) SetPathname(v string) { u.raw.Path = v }
func (u *URL) SetSearch(v string) { u.raw.RawQuery = strings.TrimPrefix(v, "?") }
func (u *URL) SetHash(v string) { u.raw.Fragment = strings.TrimPrefix(v, "#") }

// Scheme returns the bare scheme (no colon), used internally by fetch's
// scheme-dispatch step.
func (u *URL) Scheme() string { return u.raw.Scheme }

// IsAPrioriAuthenticated reports whether the URL's scheme is one the
// mixed-content algorithm treats as "a priori authenticated": https, wss, file, data, blob, about.
func (u *URL) IsAPrioriAuthenticated() bool {
	switch u.raw.Scheme {
	case "https", "wss", "file", "data", "blob", "about":
		return true
	default:
		return false
	}
}

// ProhibitsMixedSecurityContexts reports whether an origin with this URL's
// scheme may not load non-authenticated subresources: https/wss only,
// excluding file/about.
func (u *URL) ProhibitsMixedSecurityContexts() bool {
	switch u.raw.Scheme {
	case "https", "wss":
		return true
	default:
		return false
	}
}

// SameRegistrableDomain implements CORP's "simplified registrable-domain
// rule" using the public suffix list: two hosts are
// same-site if they share an effective-TLD-plus-one label.
func SameRegistrableDomain(a, b *URL) bool {
	da, err1 := publicsuffix.EffectiveTLDPlusOne(a.raw.Hostname())
	db, err2 := publicsuffix.EffectiveTLDPlusOne(b.raw.Hostname())
	if err1 != nil || err2 != nil {
		return strings.EqualFold(a.raw.Hostname(), b.raw.Hostname())
	}
	return strings.EqualFold(da, db)
}
