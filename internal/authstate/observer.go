// Package authstate translates identity-service notifications into local
// authentication state and session store writes.
//
// The Observer is the only writer of the session store. Login and Logout mark
// the state as loading; the final user and the session token are applied only
// by the identity service's notification, so the state never claims a signed-in
// user before the session token has been written.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/consolegate/consolegate/internal/identity"
	"github.com/consolegate/consolegate/internal/models"
	"github.com/consolegate/consolegate/internal/session"
)

// ErrClosed is returned by Login and Logout after Close
var ErrClosed = errors.New("auth state observer is closed")

// AuthState is a snapshot of the client's authentication state. Loading is
// true while the real status is unknown.
type AuthState struct {
	User    *identity.User
	Loading bool
}

// SignedIn reports whether a user is present
func (s AuthState) SignedIn() bool {
	return s.User != nil
}

// AuthFailure wraps an identity-service error returned from Login or Logout
type AuthFailure struct {
	Op  string
	Err error
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AuthFailure) Unwrap() error {
	return e.Err
}

// AuditRecorder receives authentication transitions
type AuditRecorder interface {
	Record(ctx context.Context, evt models.AuthEvent) error
}

// Option configures an Observer
type Option func(*Observer)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Observer) {
		o.logger = logger.With().Str("component", "auth_state").Logger()
	}
}

// WithAudit records transitions to recorder
func WithAudit(recorder AuditRecorder) Option {
	return func(o *Observer) {
		o.audit = recorder
	}
}

// credentials is validated before the identity service is called
type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// Observer holds the AuthState for one client session
type Observer struct {
	svc       identity.Service
	store     session.Store
	logger    zerolog.Logger
	audit     AuditRecorder
	validate  *validator.Validate
	unsub     func()
	closeOnce sync.Once
	inflight  sync.WaitGroup

	mu       sync.Mutex
	state    AuthState
	closed   bool
	watchers map[*watcher]struct{}
	resolved chan struct{}

	// notified is the last user reported by the identity service, before any
	// store failure downgraded it
	notified      *identity.User
	notifiedKnown bool

	// pending counts Login and Logout calls in flight. awaiting is the result
	// of the most recently started call that returned successfully but whose
	// notification has not been applied yet.
	pending     int
	seq         uint64
	awaiting    *identity.User
	awaitingSet bool
}

// New constructs an Observer and registers its single subscription with svc.
// The state starts as loading until the identity service reports the
// current user.
func New(svc identity.Service, store session.Store, opts ...Option) *Observer {
	o := &Observer{
		svc:      svc,
		store:    store,
		logger:   zerolog.Nop(),
		validate: validator.New(),
		state:    AuthState{Loading: true},
		watchers: make(map[*watcher]struct{}),
		resolved: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.unsub = svc.Subscribe(o.handleNotification)
	return o
}

// State returns the current snapshot
func (o *Observer) State() AuthState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Resolved returns a channel closed once the identity service has reported
// the initial sign-in state
func (o *Observer) Resolved() <-chan struct{} {
	return o.resolved
}

// Login signs in with email and password. Loading is set before the identity
// service is called and stays set until the notification carrying the
// returned user has been applied. On success the returned user is
// informational: State changes only when that notification arrives. On
// failure Loading is cleared, the user is left unchanged and an *AuthFailure
// is returned.
func (o *Observer) Login(ctx context.Context, email, password string) (*identity.User, error) {
	seq, err := o.begin()
	if err != nil {
		return nil, err
	}

	if err := o.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		o.logger.Debug().Err(err).Msg("Rejected malformed credentials")
		return nil, o.fail(ctx, seq, "login", email, fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err))
	}

	user, err := o.svc.Login(ctx, email, password)
	if err != nil {
		return nil, o.fail(ctx, seq, "login", email, err)
	}

	o.finish(seq, user)
	return user, nil
}

// Logout signs out. Logging out while signed out succeeds and leaves the
// user absent.
func (o *Observer) Logout(ctx context.Context) error {
	seq, err := o.begin()
	if err != nil {
		return err
	}

	if err := o.svc.Logout(ctx); err != nil {
		return o.fail(ctx, seq, "logout", "", err)
	}

	o.finish(seq, nil)
	return nil
}

// Close unsubscribes from the identity service and ends every Snapshots
// sequence. It waits for a notification that is being applied, including its
// audit record. Notifications arriving afterwards are ignored.
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		o.unsub()

		o.mu.Lock()
		o.closed = true
		for w := range o.watchers {
			w.close()
		}
		o.watchers = nil
		o.mu.Unlock()

		o.inflight.Wait()
		o.logger.Debug().Msg("Auth state observer closed")
	})
}

// Snapshots returns a lazy sequence of states. It yields the current state
// when iteration starts and then every change, until Close, until ctx ends or
// until the consumer stops. The sequence can be ranged over once.
func (o *Observer) Snapshots(ctx context.Context) iter.Seq[AuthState] {
	var used sync.Once
	return func(yield func(AuthState) bool) {
		first := false
		used.Do(func() { first = true })
		if !first {
			return
		}

		w, initial, ok := o.watch()
		if !ok {
			return
		}
		defer o.unwatch(w)

		if !yield(initial) {
			return
		}
		for {
			state, ok := w.next(ctx)
			if !ok || !yield(state) {
				return
			}
		}
	}
}

// handleNotification applies a sign-in state change. The user, the loading
// flag and the session store are updated under one lock, so State never
// reports Loading=false next to a stale session token. Loading stays set
// while a call is in flight or its result has not been notified yet.
func (o *Observer) handleNotification(user *identity.User) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.inflight.Add(1)
	defer o.inflight.Done()

	if !o.notifiedKnown {
		close(o.resolved)
	}
	o.notified = user
	o.notifiedKnown = true
	if o.awaitingSet && identity.SameUser(o.awaiting, user) {
		o.awaiting = nil
		o.awaitingSet = false
	}

	var storeErr, clearErr error
	if user != nil {
		storeErr = o.store.Set(user.Token)
		if storeErr != nil {
			// A sign-in whose token cannot be stored would leave the guard
			// and the local state disagreeing, so settle as signed out.
			user = nil
			clearErr = o.store.Clear()
		}
	} else {
		storeErr = o.store.Clear()
	}

	prev := o.state.User
	o.state = AuthState{User: user, Loading: o.busyLocked()}
	o.broadcastLocked()
	o.mu.Unlock()

	if storeErr != nil {
		o.logger.Error().Err(storeErr).AnErr("clear_error", clearErr).Msg("Failed to update session store")
	}

	switch {
	case user != nil && !identity.SameUser(prev, user):
		o.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User signed in")
		o.record(context.Background(), models.AuthEvent{Type: models.AuthEventSignedIn, UserID: user.ID, Email: user.Email})
	case user == nil && prev != nil:
		o.logger.Info().Str("user_id", prev.ID).Msg("User signed out")
		o.record(context.Background(), models.AuthEvent{Type: models.AuthEventSignedOut, UserID: prev.ID, Email: prev.Email})
	}
}

func (o *Observer) begin() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrClosed
	}
	o.pending++
	o.seq++
	o.setLoadingLocked(true)
	return o.seq, nil
}

// finish settles a successful call. Only the most recently started call
// decides what the state waits for.
func (o *Observer) finish(seq uint64, user *identity.User) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending--
	if o.closed {
		return
	}
	if seq == o.seq {
		if o.notifiedKnown && identity.SameUser(o.notified, user) {
			// Already applied, or the service reported no change
			o.awaiting = nil
			o.awaitingSet = false
		} else {
			o.awaiting = user
			o.awaitingSet = true
		}
	}
	o.setLoadingLocked(o.busyLocked())
}

func (o *Observer) fail(ctx context.Context, seq uint64, op, email string, err error) error {
	o.mu.Lock()
	o.pending--
	if !o.closed {
		if seq == o.seq {
			o.awaiting = nil
			o.awaitingSet = false
		}
		o.setLoadingLocked(o.busyLocked())
	}
	user := o.state.User
	o.mu.Unlock()

	evt := models.AuthEvent{Type: models.AuthEventLoginFailed, Email: email, Detail: err.Error()}
	if op == "logout" {
		evt.Type = models.AuthEventLogoutFailed
		if user != nil {
			evt.UserID = user.ID
			evt.Email = user.Email
		}
	}
	o.logger.Warn().Err(err).Str("op", op).Msg("Authentication call failed")
	o.record(ctx, evt)

	return &AuthFailure{Op: op, Err: err}
}

func (o *Observer) busyLocked() bool {
	return o.pending > 0 || o.awaitingSet || !o.notifiedKnown
}

func (o *Observer) setLoadingLocked(loading bool) {
	if o.state.Loading == loading {
		return
	}
	o.state.Loading = loading
	o.broadcastLocked()
}

func (o *Observer) record(ctx context.Context, evt models.AuthEvent) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(context.WithoutCancel(ctx), evt); err != nil {
		o.logger.Warn().Err(err).Str("event", string(evt.Type)).Msg("Failed to record auth event")
	}
}
