package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolegate/consolegate/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "audit.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, models.AuthEvent{Type: models.AuthEventLoginFailed, Email: "a@b.com", Detail: "invalid credentials"}))
	require.NoError(t, store.Record(ctx, models.AuthEvent{Type: models.AuthEventSignedIn, UserID: "user-1", Email: "a@b.com"}))
	require.NoError(t, store.Record(ctx, models.AuthEvent{Type: models.AuthEventSignedOut, UserID: "user-1"}))

	events, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// ULIDs sort by creation so ties on created_at still come back newest first
	assert.Equal(t, models.AuthEventSignedOut, events[0].Type)
	assert.Equal(t, models.AuthEventSignedIn, events[1].Type)
	assert.Equal(t, models.AuthEventLoginFailed, events[2].Type)

	for _, evt := range events {
		assert.Len(t, evt.ID, 26)
		assert.False(t, evt.CreatedAt.IsZero())
	}
}

func TestStore_RecentLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, models.AuthEvent{Type: models.AuthEventSignedOut}))
	}

	events, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}
