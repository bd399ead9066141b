package backend

import (
	"net/url"
	"strings"
)

// ResolveAssetURL rewrites a document's content location through the
// configured proxy base, a pure string transform applied at the boundary.
// With an empty proxyBase the location passes through untouched. Used in
// development, where document storage is not directly reachable from the
// viewer.
func ResolveAssetURL(raw, proxyBase string) string {
	if proxyBase == "" || raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base, err := url.Parse(proxyBase)
	if err != nil {
		return raw
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	if basePath := strings.TrimRight(base.Path, "/"); basePath != "" {
		u.Path = basePath + u.Path
	}
	return u.String()
}
