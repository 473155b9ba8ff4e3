//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"oiwatch/internal/config"
)

const testChannel = "oi_observations_test"

// setupPostgres starts a throwaway PostgreSQL container with the schema applied.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("oiwatch"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)

	store := NewStore(pool)
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx, testChannel))
	require.NoError(t, store.EnsureSchema(ctx, testChannel), "schema must be re-appliable")
	return store
}

func insertOne(t *testing.T, store *Store, symbol string, value float64) {
	t.Helper()
	n, err := store.InsertObservations(context.Background(), []NewObservation{{Symbol: symbol, Name: symbol, Value: value}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestPostgresWindowLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupPostgres(t)

	insertOne(t, store, "BTC", 3.0)
	candidates, err := store.ListCandidateTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	insertOne(t, store, "BTC", 9.0)
	insertOne(t, store, "BTC", 14.5)

	candidates, err = store.ListCandidateTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, candidates)

	pair, ok, err := store.LatestTwo(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 14.5, pair.Current.Value)
	assert.Equal(t, 9.0, pair.Previous.Value)

	deleted, err := store.DeleteConsumed(ctx, "BTC", pair.Current)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	deleted, err = store.DeleteConsumed(ctx, "BTC", pair.Current)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	count, err := store.CountObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPostgresInsertPublishesNotification(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := setupPostgres(t)

	sub, err := store.Listen(ctx, testChannel)
	require.NoError(t, err)
	defer sub.Close()

	insertOne(t, store, "ETH", 5.0)

	note, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, testChannel, note.Channel)
	assert.Equal(t, "ETH", note.Symbol)
}

func TestPostgresAdvisoryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := setupPostgres(t)

	unlock, acquired, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, again)

	unlock()
	unlock2, acquired, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, acquired)
	unlock2()
}
