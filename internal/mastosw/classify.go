package mastosw

import (
	"net/url"
	"strings"
)

const (
	apiPrefix   = "/api/"
	buildPrefix = "/_next/"
)

// Class says how an intercepted request is handled.
type Class int

const (
	ClassCrossOrigin Class = iota
	ClassAPI
	ClassNavigation
	ClassBuildAsset
	ClassStatic
)

func (c Class) String() string {
	switch c {
	case ClassCrossOrigin:
		return "cross-origin"
	case ClassAPI:
		return "api"
	case ClassNavigation:
		return "navigation"
	case ClassBuildAsset:
		return "build-asset"
	case ClassStatic:
		return "other-static"
	}
	return "unknown"
}

// Intercepted reports whether the class is served through a cache strategy.
func (c Class) Intercepted() bool {
	return c != ClassCrossOrigin && c != ClassAPI
}

// Classify maps a request URL and fetch mode to exactly one Class. A
// relative URL is taken to be on the page origin.
func Classify(u *url.URL, mode string, page *url.URL) Class {
	if u.IsAbs() && !sameOrigin(u, page) {
		return ClassCrossOrigin
	}
	switch {
	case strings.HasPrefix(u.Path, apiPrefix):
		return ClassAPI
	case mode == "navigate":
		return ClassNavigation
	case strings.HasPrefix(u.Path, buildPrefix):
		return ClassBuildAsset
	}
	return ClassStatic
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(hostPort(a), hostPort(b))
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return u.Hostname() + ":80"
	case "https":
		return u.Hostname() + ":443"
	}
	return u.Host
}

// cacheKey is the key an intercepted request is stored under.
func cacheKey(u *url.URL) string {
	return u.RequestURI()
}

func isBuildKey(key string) bool {
	return strings.Contains(key, buildPrefix)
}
