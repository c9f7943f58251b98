package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient consumes a remote identity service over its REST API
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	notifier   *Notifier
	logger     zerolog.Logger

	mu    sync.Mutex
	token string
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// NewHTTPClient creates a client for the identity service at baseURL. The
// initial sign-in state is "signed out" since no token is held yet.
func NewHTTPClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		notifier: NewNotifier(),
		logger:   logger.With().Str("component", "identity_client").Logger(),
	}
	c.notifier.Publish(nil)
	return c
}

// SetHTTPClient sets a custom HTTP client
func (c *HTTPClient) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// Subscribe registers a sign-in state listener
func (c *HTTPClient) Subscribe(listener Listener) func() {
	return c.notifier.Subscribe(listener)
}

// Login authenticates with email and password. The signed-in notification is
// delivered asynchronously and may arrive after Login returns.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*User, error) {
	jsonData, err := json.Marshal(LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/login", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, errorMessage(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: login failed (status %d): %s", ErrNetwork, resp.StatusCode, errorMessage(resp.Body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrNetwork, err)
	}
	if loginResp.Token == "" || loginResp.User.ID == "" {
		return nil, fmt.Errorf("%w: login response is missing token or user", ErrNetwork)
	}

	user := loginResp.User
	user.Token = loginResp.Token

	c.mu.Lock()
	c.token = user.Token
	c.mu.Unlock()

	c.logger.Debug().Str("user_id", user.ID).Msg("Identity service accepted credentials")
	c.notifier.Publish(&user)

	return &user, nil
}

// SessionResponse represents the session lookup response
type SessionResponse struct {
	User User `json:"user"`
}

// Restore resumes a session from a previously issued token. A token the
// service no longer accepts leaves the client signed out and returns nil, nil.
// Nothing is published when the service cannot be reached.
func (c *HTTPClient) Restore(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Debug().Msg("Stored session is no longer valid")
		c.notifier.Publish(nil)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: session lookup failed (status %d): %s", ErrNetwork, resp.StatusCode, errorMessage(resp.Body))
	}

	var sessionResp SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessionResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrNetwork, err)
	}
	if sessionResp.User.ID == "" {
		return nil, fmt.Errorf("%w: session response is missing user", ErrNetwork)
	}

	user := sessionResp.User
	user.Token = token

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.notifier.Publish(&user)
	return &user, nil
}

// Logout ends the current session. Logging out while signed out succeeds
// without contacting the identity service.
func (c *HTTPClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		c.notifier.Publish(nil)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	// 401 means the token is already unknown to the service, which is the
	// state logout is after.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusUnauthorized:
	default:
		return fmt.Errorf("%w: logout failed (status %d): %s", ErrNetwork, resp.StatusCode, errorMessage(resp.Body))
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	c.notifier.Publish(nil)
	return nil
}

// errorMessage extracts {"error": "..."} from a response body, falling back
// to the raw body.
func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
