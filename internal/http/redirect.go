package httpx

import (
	"net/url"
	"strings"
)

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(candidate, "//") {
		return "/"
	}
	return candidate
}

// withQuery appends key=value to a relative path.
func withQuery(p, key, value string) string {
	if value == "" {
		return p
	}
	u := url.URL{Path: p}
	q := url.Values{}
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
