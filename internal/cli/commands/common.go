package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/consolegate/consolegate/internal/audit"
	"github.com/consolegate/consolegate/internal/authstate"
	"github.com/consolegate/consolegate/internal/config"
	"github.com/consolegate/consolegate/internal/console"
	"github.com/consolegate/consolegate/internal/identity"
	"github.com/consolegate/consolegate/internal/logger"
	"github.com/consolegate/consolegate/internal/server"
	"github.com/consolegate/consolegate/internal/session"
)

// settleTimeout bounds how long a command waits for the auth state to settle
const settleTimeout = 30 * time.Second

// environment bundles what every command needs to talk to the console
type environment struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *session.KeyringStore
	identity *identity.HTTPClient
}

// loadEnvironment loads configuration and builds the command collaborators.
// Logs go to stderr so command output stays clean.
func loadEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.InitWithWriter(os.Stderr, cfg.Logging.Level, "console")
	log := logger.GetLogger()

	store, err := session.NewKeyringStore(cfg.Console.URL)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:      cfg,
		logger:   log,
		store:    store,
		identity: identity.NewHTTPClient(cfg.Identity.BaseURL, cfg.Identity.Timeout, log),
	}, nil
}

func (e *environment) cookie() session.CookieOptions {
	return session.CookieOptions{Name: e.cfg.Session.CookieName, Secure: e.cfg.Session.Secure}
}

// consoleClient returns a console client that sends the keyring session
func (e *environment) consoleClient() (*console.Client, error) {
	return console.NewClientWithStore(e.cfg.Console.URL, e.store, e.cookie(), e.logger)
}

// openAudit opens the audit log. A failure is logged and auditing is skipped.
func (e *environment) openAudit() *audit.Store {
	store, err := audit.Open(e.cfg.Audit.DatabaseURL, e.logger)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Audit log unavailable")
		return nil
	}
	return store
}

// newObserver creates the auth state observer writing to the keyring
func (e *environment) newObserver(auditStore *audit.Store) *authstate.Observer {
	opts := []authstate.Option{authstate.WithLogger(e.logger)}
	if auditStore != nil {
		opts = append(opts, authstate.WithAudit(auditStore))
	}
	return authstate.New(e.identity, e.store, opts...)
}

// safeTarget resolves a user-supplied path the same way the login page does
func (e *environment) safeTarget(path string) string {
	return server.NewPolicy(e.cfg.Guard).SafeRedirectTarget(path)
}

// waitSettled blocks until the observer is no longer loading
func waitSettled(ctx context.Context, observer *authstate.Observer) (authstate.AuthState, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	for state := range observer.Snapshots(ctx) {
		if !state.Loading {
			return state, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return authstate.AuthState{}, fmt.Errorf("timed out waiting for sign-in state: %w", err)
	}
	return authstate.AuthState{}, authstate.ErrClosed
}

// displayName prefers the display name over the email
func displayName(user *identity.User) string {
	if user.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", user.DisplayName, user.Email)
	}
	return user.Email
}
