package security

import (
	"errors"
	"strings"
)

var (
	// ErrInsufficientScope is returned when a token's scope does not cover a route.
	ErrInsufficientScope = errors.New("security: insufficient scope")
	// ErrUnknownScope is returned when minting a token for a scope not in ValidScopes.
	ErrUnknownScope = errors.New("security: unknown scope")
)

// Scopes carried in the API token's scope claim.
const (
	ScopeAdmin    = "admin"
	ScopeProducer = "producer"
	ScopeReadonly = "readonly"
)

// ValidScopes lists all valid scopes.
var ValidScopes = []string{ScopeAdmin, ScopeProducer, ScopeReadonly}

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	for _, v := range ValidScopes {
		if v == s {
			return true
		}
	}
	return false
}

// routePermission defines which scopes can access a method+path pattern.
type routePermission struct {
	Method  string // HTTP method, "*" for any
	Pattern string // path prefix with {id} wildcards
	Scopes  []string
}

// permissions is checked in order; the first match decides. Admin is
// handled before the table.
var permissions = []routePermission{
	// Producers record mutations and may ask for a drain.
	{Method: "POST", Pattern: "/api/queue", Scopes: []string{ScopeProducer}},
	{Method: "POST", Pattern: "/api/sync", Scopes: []string{ScopeProducer}},
	// Everyone may read, including the event stream.
	{Method: "GET", Pattern: "/api/", Scopes: []string{ScopeProducer, ScopeReadonly}},
}

// CheckPermission reports whether scope may call method on path.
func CheckPermission(scope, method, path string) bool {
	if scope == ScopeAdmin {
		return true
	}

	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}

	for _, perm := range permissions {
		if perm.Method != "*" && perm.Method != method {
			continue
		}
		if !matchRoute(perm.Pattern, path) {
			continue
		}
		for _, s := range perm.Scopes {
			if s == scope {
				return true
			}
		}
		return false
	}
	return false
}

// matchRoute checks if a path matches a route pattern. A pattern matches
// its exact path; the trailing-slash pattern "/api/" matches everything below.
func matchRoute(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path+"/", pattern)
	}

	patParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(patParts) != len(pathParts) {
		return false
	}
	for i, pp := range patParts {
		if strings.HasPrefix(pp, "{") && strings.HasSuffix(pp, "}") {
			continue
		}
		if pp != pathParts[i] {
			return false
		}
	}
	return true
}
