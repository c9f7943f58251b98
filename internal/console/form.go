package console

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/consolegate/consolegate/internal/authstate"
	"github.com/consolegate/consolegate/internal/identity"
)

// ErrNotSignedIn is returned when a login call succeeded but the auth state
// settled without that user
var ErrNotSignedIn = errors.New("login did not produce a signed-in state")

// LoginForm submits credentials through the auth state observer. Its
// completion callback fires after the post-login splash, never directly off
// the login call returning.
type LoginForm struct {
	observer   *authstate.Observer
	splash     time.Duration
	onComplete func()
	logger     zerolog.Logger
}

// NewLoginForm creates a form. splash is the minimum time the post-login
// transition is shown.
func NewLoginForm(observer *authstate.Observer, splash time.Duration, onComplete func(), logger zerolog.Logger) *LoginForm {
	return &LoginForm{
		observer:   observer,
		splash:     splash,
		onComplete: onComplete,
		logger:     logger.With().Str("component", "login_form").Logger(),
	}
}

// Submit waits for the initial sign-in state, logs in and, on success, runs
// the splash and then fires completion. Failures are returned without firing
// completion.
func (f *LoginForm) Submit(ctx context.Context, email, password string) (*identity.User, error) {
	select {
	case <-f.observer.Resolved():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	user, err := f.observer.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := f.present(ctx, user); err != nil {
		return nil, err
	}

	f.logger.Debug().Str("user_id", user.ID).Msg("Login presentation finished")
	if f.onComplete != nil {
		f.onComplete()
	}
	return user, nil
}

// present shows the transition for at least the splash duration and until the
// auth state has settled on user
func (f *LoginForm) present(ctx context.Context, user *identity.User) error {
	timer := time.NewTimer(f.splash)
	defer timer.Stop()

	settled := make(chan error, 1)
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for state := range f.observer.Snapshots(watchCtx) {
			if state.Loading {
				continue
			}
			if identity.SameUser(state.User, user) {
				settled <- nil
			} else {
				settled <- ErrNotSignedIn
			}
			return
		}
		if err := watchCtx.Err(); err != nil {
			settled <- err
			return
		}
		settled <- authstate.ErrClosed
	}()

	var result error
	select {
	case result = <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if result != nil {
		return result
	}

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
