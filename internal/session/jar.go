package session

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CookieJarStore keeps the session token as a cookie in an HTTP cookie jar,
// so every request the jar's client sends to the console carries it.
type CookieJarStore struct {
	jar  http.CookieJar
	url  *url.URL
	opts CookieOptions
}

// NewCookieJarStore creates a store writing cookies for consoleURL into jar
func NewCookieJarStore(jar http.CookieJar, consoleURL string, opts CookieOptions) (*CookieJarStore, error) {
	if jar == nil {
		return nil, fmt.Errorf("cookie jar is required")
	}
	u, err := url.Parse(consoleURL)
	if err != nil {
		return nil, fmt.Errorf("invalid console URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid console URL %q: scheme and host are required", consoleURL)
	}
	// Cookies are scoped to Path=/ so look them up from the root
	root := *u
	root.Path = "/"
	root.RawQuery = ""
	root.Fragment = ""

	return &CookieJarStore{jar: jar, url: &root, opts: opts}, nil
}

// Token implements Store
func (s *CookieJarStore) Token() (string, bool) {
	name := s.opts.name()
	for _, cookie := range s.jar.Cookies(s.url) {
		if cookie.Name != name {
			continue
		}
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value, true
		}
	}
	return "", false
}

// Set implements Store
func (s *CookieJarStore) Set(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	s.jar.SetCookies(s.url, []*http.Cookie{NewCookie(token, s.opts)})
	return nil
}

// Clear implements Store
func (s *CookieJarStore) Clear() error {
	s.jar.SetCookies(s.url, []*http.Cookie{ExpiredCookie(s.opts)})
	return nil
}
