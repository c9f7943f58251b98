// Package identitytest provides an in-memory identity service for tests.
package identitytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/consolegate/consolegate/internal/identity"
)

type account struct {
	password string
	user     identity.User
}

// Fake is an in-memory identity.Service. By default it notifies subscribers
// on every successful Login/Logout, like a real identity SDK. With
// SetManual(true) it stays silent and the test drives notifications with Emit.
type Fake struct {
	notifier *identity.Notifier

	mu         sync.Mutex
	accounts   map[string]account
	manual     bool
	nextErr    error
	logins     int
	logouts    int
	tokenCount int
}

// NewFake creates a fake whose initial state is "signed out"
func NewFake() *Fake {
	f := &Fake{
		notifier: identity.NewNotifier(),
		accounts: make(map[string]account),
	}
	f.notifier.Publish(nil)
	return f
}

// NewUnresolvedFake creates a fake that has not yet reported any state,
// like an identity SDK that is still booting.
func NewUnresolvedFake() *Fake {
	return &Fake{
		notifier: identity.NewNotifier(),
		accounts: make(map[string]account),
	}
}

// AddUser registers an account
func (f *Fake) AddUser(id, email, password string) identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	user := identity.User{ID: id, Email: email, DisplayName: id}
	f.accounts[email] = account{password: password, user: user}
	return user
}

// SetManual switches automatic notifications off (true) or on (false)
func (f *Fake) SetManual(manual bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manual = manual
}

// FailNext makes the next Login or Logout call return err
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextErr = err
}

// Emit publishes a sign-in state change to subscribers
func (f *Fake) Emit(user *identity.User) {
	f.notifier.Publish(user)
}

// Idle returns a channel closed once every queued notification was delivered
func (f *Fake) Idle() <-chan struct{} {
	return f.notifier.Idle()
}

// Calls returns how many times Login and Logout were invoked
func (f *Fake) Calls() (logins, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.logouts
}

// Subscribe implements identity.Service
func (f *Fake) Subscribe(listener identity.Listener) func() {
	return f.notifier.Subscribe(listener)
}

// Login implements identity.Service
func (f *Fake) Login(ctx context.Context, email, password string) (*identity.User, error) {
	f.mu.Lock()
	f.logins++
	if err := f.takeErrLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", identity.ErrNetwork, err)
	}

	acct, ok := f.accounts[email]
	if !ok || acct.password != password {
		f.mu.Unlock()
		return nil, identity.ErrInvalidCredentials
	}

	f.tokenCount++
	user := acct.user
	user.Token = fmt.Sprintf("token-%s-%d", user.ID, f.tokenCount)
	manual := f.manual
	f.mu.Unlock()

	if !manual {
		f.notifier.Publish(&user)
	}
	return &user, nil
}

// Logout implements identity.Service
func (f *Fake) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logouts++
	if err := f.takeErrLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	manual := f.manual
	f.mu.Unlock()

	if !manual {
		f.notifier.Publish(nil)
	}
	return nil
}

func (f *Fake) takeErrLocked() error {
	err := f.nextErr
	f.nextErr = nil
	return err
}

var _ identity.Service = (*Fake)(nil)
