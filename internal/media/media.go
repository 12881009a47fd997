// Package media resolves avatar and media references returned by the
// backend and renders post markup for terminals.
package media

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"feedline/internal/types"
)

// Resolver turns relative media references into absolute URLs.
type Resolver struct {
	base *url.URL
}

// NewResolver parses base. An empty or unparsable base leaves relative
// references unresolved.
func NewResolver(base string) *Resolver {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &Resolver{}
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Resolver{base: u}
}

// Resolve returns ref as an absolute URL. Absolute URLs and data URIs pass
// through unchanged; an empty ref stays empty.
func (r *Resolver) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.Scheme != "" {
		return ref
	}
	if r.base == nil {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		u.Scheme = r.base.Scheme
		return u.String()
	}
	// Join below the base path even for references with a leading slash.
	rel := &url.URL{Path: strings.TrimLeft(u.Path, "/"), RawQuery: u.RawQuery, Fragment: u.Fragment}
	return r.base.ResolveReference(rel).String()
}

// Avatar returns the resolved avatar URL of u, or "" when it has none.
func (r *Resolver) Avatar(u types.UserProfile) string {
	return r.Resolve(u.Avatar)
}

// Initial is the placeholder shown instead of a missing avatar: the
// upper-cased first letter of the display name, else of the login, else "?".
func Initial(u types.UserProfile) string {
	for _, s := range []string{u.DisplayName, u.Login} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(s)
		if r != utf8.RuneError {
			return string(unicode.ToUpper(r))
		}
	}
	return "?"
}
