package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore(t *testing.T) {
	store := NewTokenStore(time.Hour)
	ctx := context.Background()

	store.Register("static-admin", Identity{UserID: "warden", Admin: true})
	id, err := store.Resolve(ctx, "static-admin")
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "warden", Admin: true}, id)

	token := store.Issue(Identity{UserID: "S1"})
	assert.NotEmpty(t, token)
	id, err = store.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "S1", id.UserID)
	assert.False(t, id.Admin)

	store.Revoke(token)
	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = store.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestTokenStore_IssuedTokensExpire(t *testing.T) {
	store := NewTokenStore(20 * time.Millisecond)
	token := store.Issue(Identity{UserID: "S1"})

	time.Sleep(40 * time.Millisecond)

	_, err := store.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}
