// Package console drives the admin console the way a browser tab would: it
// keeps the session cookie, follows the guard's redirects and hosts the login
// form and its completion handshake.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/consolegate/consolegate/internal/session"
)

const (
	maxRedirects = 10
	maxBodyBytes = 64 << 10
)

// PageView is the JSON body every console page returns
type PageView struct {
	Page     string `json:"page"`
	Redirect string `json:"redirect,omitempty"`
}

// Visit describes where a navigation ended up
type Visit struct {
	StatusCode int
	// Path and Query of the final URL after redirects
	Path  string
	Query url.Values
	// Redirects lists the Location of every redirect that was followed
	Redirects []string
	View      PageView
}

// RedirectTarget returns the redirect intent carried by the final URL
func (v *Visit) RedirectTarget() string {
	if v.View.Redirect != "" {
		return v.View.Redirect
	}
	return v.Query.Get("redirect")
}

// Client is a console browsing context bound to one session store
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	store      session.Store
	cookie     session.CookieOptions
	// attachCookie is set when the store is not the client's cookie jar
	attachCookie bool
	logger       zerolog.Logger
}

// NewClient creates a client whose session store is its own cookie jar
func NewClient(baseURL string, cookie session.CookieOptions, logger zerolog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	store, err := session.NewCookieJarStore(jar, baseURL, cookie)
	if err != nil {
		return nil, err
	}

	c, err := newClient(baseURL, store, cookie, logger)
	if err != nil {
		return nil, err
	}
	c.httpClient.Jar = jar
	return c, nil
}

// NewClientWithStore creates a client that sends the token held by store as
// the session cookie on every navigation
func NewClientWithStore(baseURL string, store session.Store, cookie session.CookieOptions, logger zerolog.Logger) (*Client, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	c, err := newClient(baseURL, store, cookie, logger)
	if err != nil {
		return nil, err
	}
	c.attachCookie = true
	return c, nil
}

func newClient(baseURL string, store session.Store, cookie session.CookieOptions, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid console URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid console URL %q: scheme and host are required", baseURL)
	}

	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		cookie:     cookie,
		logger:     logger.With().Str("component", "console").Logger(),
	}, nil
}

// Store returns the session store the auth state observer should write to
func (c *Client) Store() session.Store {
	return c.store
}

// SetTransport replaces the HTTP transport, keeping the cookie jar
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

// Navigate requests path and follows the guard's redirects
func (c *Client) Navigate(ctx context.Context, path string) (*Visit, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.attachCookie {
		if token, ok := c.store.Token(); ok {
			req.AddCookie(session.NewCookie(token, c.cookie))
		}
	}

	visit := &Visit{}
	client := *c.httpClient
	client.CheckRedirect = func(r *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		visit.Redirects = append(visit.Redirects, r.URL.RequestURI())
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	visit.StatusCode = resp.StatusCode
	visit.Path = resp.Request.URL.Path
	visit.Query = resp.Request.URL.Query()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &visit.View); err != nil {
			c.logger.Debug().Err(err).Str("path", visit.Path).Msg("Page body is not a page view")
		}
	}

	c.logger.Debug().
		Str("requested", path).
		Str("landed", visit.Path).
		Int("status", visit.StatusCode).
		Int("redirects", len(visit.Redirects)).
		Msg("Navigated")

	return visit, nil
}
