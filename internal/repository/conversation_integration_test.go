//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/testutil"
)

func TestRedisConversationStore_Integration(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRedisContainer(ctx, t)
	defer rc.Terminate(ctx)

	client, err := NewRedisClient(ctx, rc.URL())
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisConversationStore(client, 10, time.Minute)
	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Append(ctx, redisTurn("live", i)))
	}

	turns, err := store.Recent(ctx, "live", 0)
	require.NoError(t, err)
	require.Len(t, turns, 10)
	assert.Equal(t, "question 3", turns[0].Query)
	assert.Equal(t, "question 12", turns[9].Query)

	ttl, err := client.TTL(ctx, store.key("live")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Clear(ctx, "live"))
	turns, err = store.Recent(ctx, "live", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
