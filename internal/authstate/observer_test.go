package authstate

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolegate/consolegate/internal/identity"
	"github.com/consolegate/consolegate/internal/identity/identitytest"
	"github.com/consolegate/consolegate/internal/models"
	"github.com/consolegate/consolegate/internal/session"
)

// mockRecorder is a simple in-memory audit recorder for testing
type mockRecorder struct {
	mu     sync.Mutex
	events []models.AuthEvent
}

func (m *mockRecorder) Record(ctx context.Context, evt models.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) types() []models.AuthEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuthEventType
	for _, evt := range m.events {
		out = append(out, evt.Type)
	}
	return out
}

// failingStore rejects every Set
type failingStore struct {
	session.MemoryStore
}

func (f *failingStore) Set(token string) error {
	return errors.New("keychain locked")
}

// brokenStore rejects every write
type brokenStore struct {
	failingStore
}

func (b *brokenStore) Clear() error {
	return errors.New("keychain unavailable")
}

func waitIdle(t *testing.T, fake *identitytest.Fake) {
	t.Helper()
	select {
	case <-fake.Idle():
	case <-time.After(time.Second):
		t.Fatal("identity notifications did not drain")
	}
}

// assertConsistent checks that a settled state agrees with the session store
func assertConsistent(t *testing.T, obs *Observer, store session.Store) {
	t.Helper()
	state := obs.State()
	require.False(t, state.Loading)
	token, ok := store.Token()
	assert.Equal(t, state.User != nil, ok, "session store presence must match user presence")
	if state.User != nil {
		assert.Equal(t, state.User.Token, token)
	}
}

func setup(t *testing.T) (*identitytest.Fake, *session.MemoryStore, *Observer) {
	t.Helper()
	fake := identitytest.NewFake()
	fake.AddUser("user-1", "a@b.com", "secret")
	store := session.NewMemoryStore()
	obs := New(fake, store)
	t.Cleanup(obs.Close)
	waitIdle(t, fake)
	return fake, store, obs
}

func TestObserver_StartsLoading(t *testing.T) {
	fake := identitytest.NewUnresolvedFake()
	obs := New(fake, session.NewMemoryStore())
	defer obs.Close()

	state := obs.State()
	assert.True(t, state.Loading)
	assert.Nil(t, state.User)

	fake.Emit(nil)
	waitIdle(t, fake)
	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
}

func TestObserver_LoginResolvesThroughNotification(t *testing.T) {
	fake, store, obs := setup(t)
	fake.SetManual(true)

	user, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	require.NotNil(t, user)

	// The call returned but the notification has not arrived yet
	state := obs.State()
	assert.True(t, state.Loading)
	assert.Nil(t, state.User)
	_, ok := store.Token()
	assert.False(t, ok)

	fake.Emit(user)
	waitIdle(t, fake)

	state = obs.State()
	assert.False(t, state.Loading)
	require.NotNil(t, state.User)
	assert.Equal(t, "user-1", state.User.ID)
	assertConsistent(t, obs, store)
}

func TestObserver_LateNotificationKeepsLoginLoading(t *testing.T) {
	fake, store, obs := setup(t)
	fake.SetManual(true)

	user, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)
	assert.True(t, obs.State().Loading)

	// A signed-out notification queued before the login must not settle it
	obs.handleNotification(nil)
	assert.Equal(t, AuthState{User: nil, Loading: true}, obs.State())

	fake.Emit(user)
	waitIdle(t, fake)
	state := obs.State()
	assert.False(t, state.Loading)
	require.NotNil(t, state.User)
	assert.Equal(t, user.Token, state.User.Token)
	assertConsistent(t, obs, store)
}

func TestObserver_NotificationDuringCallKeepsLoading(t *testing.T) {
	svc := &syncService{user: identity.User{ID: "user-1", Email: "a@b.com", Token: "fixed"}}
	store := session.NewMemoryStore()
	obs := New(svc, store)
	defer obs.Close()

	states := make(chan AuthState, 8)
	svc.during = func() { states <- obs.State() }

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)

	during := <-states
	assert.True(t, during.Loading)
	require.NotNil(t, during.User)
	assertConsistent(t, obs, store)
}

func TestObserver_Resolved(t *testing.T) {
	fake := identitytest.NewUnresolvedFake()
	obs := New(fake, session.NewMemoryStore())
	defer obs.Close()

	select {
	case <-obs.Resolved():
		t.Fatal("resolved before the identity service reported a state")
	default:
	}

	fake.Emit(nil)
	select {
	case <-obs.Resolved():
	case <-time.After(time.Second):
		t.Fatal("not resolved after the initial notification")
	}
}

func TestObserver_LoginSetsLoadingBeforeCall(t *testing.T) {
	fake, _, obs := setup(t)
	fake.SetManual(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := make(chan AuthState, 8)
	ready := make(chan struct{})
	go func() {
		first := true
		for state := range obs.Snapshots(ctx) {
			if first {
				close(ready)
				first = false
			}
			states <- state
		}
	}()
	<-ready

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, AuthState{Loading: false}, <-states)
	assert.Equal(t, AuthState{Loading: true}, <-states)
}

func TestObserver_InvalidCredentials(t *testing.T) {
	fake, store, obs := setup(t)

	user, err := obs.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.Nil(t, user)

	var failure *AuthFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "login", failure.Op)
	assert.True(t, errors.Is(err, identity.ErrInvalidCredentials))

	waitIdle(t, fake)
	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
	_, ok := store.Token()
	assert.False(t, ok, "session store must be unchanged")
}

func TestObserver_MalformedCredentialsSkipService(t *testing.T) {
	fake, _, obs := setup(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "empty email", email: "", password: "secret"},
		{name: "not an email", email: "alice", password: "secret"},
		{name: "empty password", email: "a@b.com", password: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := obs.Login(context.Background(), tt.email, tt.password)
			assert.True(t, errors.Is(err, identity.ErrInvalidCredentials))
			assert.False(t, obs.State().Loading)
		})
	}

	logins, _ := fake.Calls()
	assert.Equal(t, 0, logins)
}

func TestObserver_NetworkErrorKeepsUser(t *testing.T) {
	fake, store, obs := setup(t)

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)
	signedIn := obs.State().User
	require.NotNil(t, signedIn)

	fake.FailNext(identity.ErrNetwork)
	err = obs.Logout(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, identity.ErrNetwork))

	state := obs.State()
	assert.False(t, state.Loading)
	assert.Equal(t, signedIn, state.User)
	assertConsistent(t, obs, store)
}

func TestObserver_LogoutClearsSession(t *testing.T) {
	fake, store, obs := setup(t)

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)
	assertConsistent(t, obs, store)

	require.NoError(t, obs.Logout(context.Background()))
	waitIdle(t, fake)

	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
	assertConsistent(t, obs, store)
}

func TestObserver_LogoutWhenSignedOutIsIdempotent(t *testing.T) {
	fake, store, obs := setup(t)

	require.NoError(t, obs.Logout(context.Background()))
	require.NoError(t, obs.Logout(context.Background()))
	waitIdle(t, fake)

	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
	assertConsistent(t, obs, store)
}

// syncService notifies synchronously before Login returns and, like a real
// identity SDK, stays silent when the state does not change.
type syncService struct {
	mu       sync.Mutex
	listener identity.Listener
	current  *identity.User
	user     identity.User
	during   func()
}

func (s *syncService) Subscribe(listener identity.Listener) func() {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	listener(nil)
	return func() {}
}

func (s *syncService) Login(ctx context.Context, email, password string) (*identity.User, error) {
	user := s.user
	s.mu.Lock()
	changed := !identity.SameUser(s.current, &user)
	s.current = &user
	listener := s.listener
	s.mu.Unlock()
	if changed {
		listener(&user)
	}
	if s.during != nil {
		s.during()
	}
	return &user, nil
}

func (s *syncService) Logout(ctx context.Context) error {
	s.mu.Lock()
	changed := s.current != nil
	s.current = nil
	listener := s.listener
	s.mu.Unlock()
	if changed {
		listener(nil)
	}
	return nil
}

func TestObserver_RepeatedLoginSettles(t *testing.T) {
	svc := &syncService{user: identity.User{ID: "user-1", Email: "a@b.com", Token: "fixed"}}
	store := session.NewMemoryStore()
	obs := New(svc, store)
	defer obs.Close()

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	assertConsistent(t, obs, store)

	// Same identity again: the service sends no notification
	_, err = obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	assertConsistent(t, obs, store)
	assert.Equal(t, "fixed", obs.State().User.Token)
}

func TestObserver_LastNotificationWins(t *testing.T) {
	fake, store, obs := setup(t)
	fake.SetManual(true)

	user, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	require.NoError(t, obs.Logout(context.Background()))

	// Notifications arrive in the order the identity service changed state
	fake.Emit(user)
	fake.Emit(nil)
	waitIdle(t, fake)

	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
	assertConsistent(t, obs, store)
}

func TestObserver_StoreFailureSettlesSignedOut(t *testing.T) {
	fake := identitytest.NewFake()
	fake.AddUser("user-1", "a@b.com", "secret")
	store := &failingStore{}
	obs := New(fake, store)
	defer obs.Close()

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)

	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
	assertConsistent(t, obs, store)
}

func TestObserver_StoreFailureLogsClearError(t *testing.T) {
	fake := identitytest.NewFake()
	fake.AddUser("user-1", "a@b.com", "secret")
	var logs bytes.Buffer
	obs := New(fake, &brokenStore{}, WithLogger(zerolog.New(&logs)))
	defer obs.Close()
	waitIdle(t, fake)

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)

	assert.Equal(t, AuthState{User: nil, Loading: false}, obs.State())
	assert.Contains(t, logs.String(), "keychain locked")
	assert.Contains(t, logs.String(), `"clear_error":"keychain unavailable"`)
}

func TestObserver_Close(t *testing.T) {
	fake, store, obs := setup(t)
	obs.Close()
	obs.Close()

	fake.Emit(&identity.User{ID: "user-1", Token: "late"})
	waitIdle(t, fake)

	assert.Nil(t, obs.State().User)
	_, ok := store.Token()
	assert.False(t, ok)

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, obs.Logout(context.Background()), ErrClosed)

	// Sequences on a closed observer are empty
	count := 0
	for range obs.Snapshots(context.Background()) {
		count++
	}
	assert.Zero(t, count)
}

func TestObserver_SnapshotsEndOnClose(t *testing.T) {
	fake, _, obs := setup(t)

	seq := obs.Snapshots(context.Background())
	done := make(chan []AuthState)
	go func() {
		var got []AuthState
		for state := range seq {
			got = append(got, state)
		}
		done <- got
	}()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.watchers) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)
	obs.Close()

	got := <-done
	// The notification may land before or after Login returns
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, AuthState{Loading: false}, got[0])
	assert.Equal(t, AuthState{Loading: true}, got[1])
	last := got[len(got)-1]
	assert.False(t, last.Loading)
	require.NotNil(t, last.User)
	assert.Equal(t, "user-1", last.User.ID)
	for _, state := range got[1 : len(got)-1] {
		assert.True(t, state.Loading)
	}

	// Non-restartable
	count := 0
	for range seq {
		count++
	}
	assert.Zero(t, count)
}

func TestObserver_SnapshotsStopOnContext(t *testing.T) {
	_, _, obs := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() {
		n := 0
		for range obs.Snapshots(ctx) {
			n++
		}
		done <- n
	}()

	cancel()
	select {
	case n := <-done:
		assert.LessOrEqual(t, n, 1)
	case <-time.After(time.Second):
		t.Fatal("sequence did not stop on context cancellation")
	}
}

func TestObserver_AuditTrail(t *testing.T) {
	fake := identitytest.NewFake()
	fake.AddUser("user-1", "a@b.com", "secret")
	rec := &mockRecorder{}
	obs := New(fake, session.NewMemoryStore(), WithAudit(rec))
	defer obs.Close()
	waitIdle(t, fake)

	_, err := obs.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	_, err = obs.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	waitIdle(t, fake)
	fake.FailNext(identity.ErrNetwork)
	require.Error(t, obs.Logout(context.Background()))
	require.NoError(t, obs.Logout(context.Background()))
	waitIdle(t, fake)

	assert.Equal(t, []models.AuthEventType{
		models.AuthEventLoginFailed,
		models.AuthEventSignedIn,
		models.AuthEventLogoutFailed,
		models.AuthEventSignedOut,
	}, rec.types())
}

func TestObserver_SettledStateMatchesStore(t *testing.T) {
	fake, store, obs := setup(t)
	ctx := context.Background()

	steps := []func() error{
		func() error { _, err := obs.Login(ctx, "a@b.com", "secret"); return err },
		func() error { return obs.Logout(ctx) },
		func() error { return obs.Logout(ctx) },
		func() error { _, err := obs.Login(ctx, "a@b.com", "wrong"); return err },
		func() error { _, err := obs.Login(ctx, "a@b.com", "secret"); return err },
		func() error { _, err := obs.Login(ctx, "a@b.com", "secret"); return err },
		func() error { return obs.Logout(ctx) },
	}

	for _, step := range steps {
		_ = step()
		waitIdle(t, fake)
		assertConsistent(t, obs, store)
	}
}
