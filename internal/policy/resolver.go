package policy

import "strings"

// resolveDomain maps a request path to a domain tag by ordered,
// case-insensitive substring inspection. First match wins. This is a pure
// function — Cache.Resolve (cache.go) adds the memoisation layer on top of it.
func resolveDomain(path string) string {
	lower := strings.ToLower(path)

	if strings.Contains(lower, "/health") {
		return "health"
	}
	if strings.Contains(lower, "/auth") {
		if strings.Contains(lower, "register") {
			return "auth.register"
		}
		if strings.Contains(lower, "otp") {
			return "auth.otp"
		}
		return "auth"
	}
	if strings.Contains(lower, "/admin") {
		return "admin"
	}
	if strings.Contains(lower, "/users") {
		return "users"
	}

	return "public"
}

// Resolve maps a path directly to a policy tag, with no memoisation. Most
// callers want the cached resolver in cache.go; this is exposed for tests and for
// callers that already apply their own caching layer.
func Resolve(path string) Tag {
	return LookupDomain(resolveDomain(path))
}
