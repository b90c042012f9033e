//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubscription(id string) subscription.Subscription {
	return subscription.Subscription{
		ID:     id,
		URL:    "https://hooks.example.com/receive",
		Events: []string{"patient.created", "appointment.scheduled"},
		Secret: "0123456789abcdef0123456789abcdef",
		Headers: map[string]string{
			"X-Tenant": "clinic-42",
		},
		RetryPolicy: subscription.RetryPolicy{
			MaxRetries:        5,
			BackoffMultiplier: 2.0,
			InitialDelay:      time.Second,
		},
		Active:    true,
		CreatedAt: time.Now().Truncate(time.Second),
		UpdatedAt: time.Now().Truncate(time.Second),
	}
}

func TestRepository_StoreGet_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("store and retrieve full record", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		sub := testSubscription("sub-1")
		require.NoError(t, repo.Store(ctx, sub))

		retrieved, err := repo.Get(ctx, sub.ID)
		require.NoError(t, err)

		assert.Equal(t, sub.ID, retrieved.ID)
		assert.Equal(t, sub.URL, retrieved.URL)
		assert.Equal(t, sub.Events, retrieved.Events)
		assert.Equal(t, sub.Secret, retrieved.Secret)
		assert.Equal(t, "clinic-42", retrieved.Headers["X-Tenant"])
		assert.Equal(t, sub.RetryPolicy, retrieved.RetryPolicy)
		assert.True(t, retrieved.Active)
		assert.Equal(t, sub.CreatedAt.Unix(), retrieved.CreatedAt.Unix())

		assert.True(t, KeyExists(t, redisContainer.Addr, "subscription:sub-1"))
	})

	t.Run("get non-existent subscription", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		_, err := repo.Get(ctx, "non-existent")
		require.ErrorIs(t, err, subscription.ErrNotFound)
	})
}

func TestRepository_List_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("lists all indexed subscriptions", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		require.NoError(t, repo.Store(ctx, testSubscription("sub-1")))
		require.NoError(t, repo.Store(ctx, testSubscription("sub-2")))
		require.NoError(t, repo.Store(ctx, testSubscription("sub-3")))

		subs, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, subs, 3)
	})

	t.Run("empty repository", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		subs, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestRepository_Update_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("update existing subscription", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		sub := testSubscription("sub-1")
		require.NoError(t, repo.Store(ctx, sub))

		sub.Active = false
		sub.Events = []string{"*"}
		require.NoError(t, repo.Update(ctx, sub))

		retrieved, err := repo.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, retrieved.Active)
		assert.Equal(t, []string{"*"}, retrieved.Events)
	})

	t.Run("update non-existent subscription", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		err := repo.Update(ctx, testSubscription("ghost"))
		require.ErrorIs(t, err, subscription.ErrNotFound)
	})
}

func TestRepository_Delete_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("delete removes hash and index entry", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		sub := testSubscription("sub-1")
		require.NoError(t, repo.Store(ctx, sub))
		require.NoError(t, repo.Delete(ctx, sub.ID))

		_, err := repo.Get(ctx, sub.ID)
		require.ErrorIs(t, err, subscription.ErrNotFound)

		assert.False(t, KeyExists(t, redisContainer.Addr, "subscription:sub-1"))

		subs, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("delete non-existent subscription", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		require.ErrorIs(t, repo.Delete(ctx, "ghost"), subscription.ErrNotFound)
	})
}
