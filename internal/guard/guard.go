// Package guard decides, per request and before any page renders, whether the
// caller may proceed. Decisions depend only on the requested path and the
// session token carried by that request.
package guard

import (
	"net/url"
	"strings"
)

// Action is the outcome of a routing decision
type Action int

const (
	// Allow lets the request through
	Allow Action = iota
	// RedirectLogin sends an unauthenticated caller to the login page
	RedirectLogin
	// RedirectHome sends an authenticated caller away from a public page
	RedirectHome
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-to-login"
	case RedirectHome:
		return "redirect-to-home"
	default:
		return "unknown"
	}
}

// RedirectQueryParam carries the original path on login redirects
const RedirectQueryParam = "redirect"

// RedirectIntent is the destination to return to after login
type RedirectIntent struct {
	TargetPath string
}

// Decision is the result of Decide
type Decision struct {
	Action Action
	// Intent is set only for RedirectLogin from a non-root path
	Intent *RedirectIntent
	// MalformedSession is true when a token was present but unusable
	MalformedSession bool
}

// TokenCheck reports whether a present token is usable. It must not panic.
type TokenCheck func(token string) bool

// Policy configures the guard. The zero value protects everything except
// /login.
type Policy struct {
	LoginPath        string
	HomePath         string
	PublicPaths      []string
	ExcludedPrefixes []string
	TokenCheck       TokenCheck
}

const rootPath = "/"

// Decide applies the routing table to one request. First match wins:
//
//	public path, token     -> RedirectHome
//	public path, no token  -> Allow
//	no token               -> RedirectLogin (with intent unless path is root)
//	token, root            -> Allow
//	token, other path      -> Allow
//
// A token the TokenCheck rejects counts as no token.
func (p Policy) Decide(path, token string) Decision {
	path = normalizePath(path)
	hasToken, malformed := p.usable(token)
	public := p.IsPublic(path)

	switch {
	case public && hasToken:
		return Decision{Action: RedirectHome}
	case public:
		return Decision{Action: Allow, MalformedSession: malformed}
	case !hasToken:
		d := Decision{Action: RedirectLogin, MalformedSession: malformed}
		if path != rootPath {
			d.Intent = &RedirectIntent{TargetPath: path}
		}
		return d
	default:
		// Root and every other protected path are allowed with a token
		return Decision{Action: Allow}
	}
}

// IsPublic reports whether path is on the public allow-list
func (p Policy) IsPublic(path string) bool {
	path = normalizePath(path)
	if path == p.loginPath() {
		return true
	}
	for _, public := range p.PublicPaths {
		if path == normalizePath(public) {
			return true
		}
	}
	return false
}

// Excluded reports whether the guard should not run for path at all (static
// assets, API routes). Prefixes match whole path segments: "/api/" and
// "/api" both cover "/api" and "/api/session" but not "/apis".
func (p Policy) Excluded(path string) bool {
	for _, prefix := range p.ExcludedPrefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Location returns the redirect URL for a decision, or "" for Allow
func (p Policy) Location(d Decision) string {
	switch d.Action {
	case RedirectLogin:
		if d.Intent == nil {
			return p.loginPath()
		}
		q := url.Values{}
		q.Set(RedirectQueryParam, d.Intent.TargetPath)
		return p.loginPath() + "?" + q.Encode()
	case RedirectHome:
		return p.homePath()
	default:
		return ""
	}
}

// SafeRedirectTarget validates a redirect query value from the login page.
// Only same-origin absolute paths are accepted; anything else, including the
// login page itself, yields the home path.
func (p Policy) SafeRedirectTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return p.homePath()
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return p.homePath()
	}
	if p.IsPublic(u.Path) {
		return p.homePath()
	}
	return u.RequestURI()
}

func (p Policy) usable(token string) (present, malformed bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, false
	}
	check := p.TokenCheck
	if check == nil {
		check = OpaqueTokenCheck
	}
	if !safeCheck(check, token) {
		return false, true
	}
	return true, false
}

// safeCheck runs a TokenCheck, treating a panic as "unusable" so the guard
// always yields a decision
func safeCheck(check TokenCheck, token string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return check(token)
}

func (p Policy) loginPath() string {
	if p.LoginPath == "" {
		return "/login"
	}
	return normalizePath(p.LoginPath)
}

func (p Policy) homePath() string {
	if p.HomePath == "" {
		return rootPath
	}
	return p.HomePath
}

// normalizePath maps "" to "/" and drops a trailing slash
func normalizePath(path string) string {
	if path == "" {
		return rootPath
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return rootPath
		}
	}
	return path
}
