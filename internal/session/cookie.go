package session

import (
	"net/http"
	"strings"
)

// DefaultCookieName is the session cookie name used across the console
const DefaultCookieName = "console_session"

// CookieOptions describe how the session cookie is written
type CookieOptions struct {
	Name   string
	Secure bool
}

func (o CookieOptions) name() string {
	if o.Name == "" {
		return DefaultCookieName
	}
	return o.Name
}

// ReadCookie returns the trimmed session token carried by the request. A
// missing or blank cookie reports false.
func ReadCookie(r *http.Request, opts CookieOptions) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(opts.name())
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

// NewCookie builds the session cookie for token
func NewCookie(token string, opts CookieOptions) *http.Cookie {
	return &http.Cookie{
		Name:     opts.name(),
		Value:    strings.TrimSpace(token),
		Path:     "/",
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie builds a cookie that deletes the session cookie
func ExpiredCookie(opts CookieOptions) *http.Cookie {
	cookie := NewCookie("", opts)
	cookie.MaxAge = -1
	return cookie
}

// WriteCookie sets the session cookie on the response
func WriteCookie(w http.ResponseWriter, token string, opts CookieOptions) {
	if w == nil {
		return
	}
	http.SetCookie(w, NewCookie(token, opts))
}

// ClearCookie expires the session cookie on the response
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	if w == nil {
		return
	}
	http.SetCookie(w, ExpiredCookie(opts))
}
