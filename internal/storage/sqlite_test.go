package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "oiwatch.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	return store
}

func insertValues(t *testing.T, store *SQLiteStore, symbol string, values ...float64) {
	t.Helper()
	for _, v := range values {
		n, err := store.InsertObservations(context.Background(), []NewObservation{{Symbol: symbol, Name: symbol + " token", Value: v}})
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	}
}

func TestSQLiteCandidatesRequireTwoObservations(t *testing.T) {
	store := newTestSQLite(t)
	insertValues(t, store, "BTC", 1, 2)
	insertValues(t, store, "ETH", 5)

	candidates, err := store.ListCandidateTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, candidates)
}

func TestSQLiteLatestTwoOrdersByObservedAt(t *testing.T) {
	store := newTestSQLite(t)
	insertValues(t, store, "BTC", 1, 2, 3)

	pair, ok, err := store.LatestTwo(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, pair.Current.Value)
	assert.Equal(t, 2.0, pair.Previous.Value)
	assert.True(t, pair.Current.ObservedAt.After(pair.Previous.ObservedAt))
	assert.InDelta(t, 1.0, pair.Delta(), 1e-9)
}

func TestSQLiteLatestTwoWithSingleRow(t *testing.T) {
	store := newTestSQLite(t)
	insertValues(t, store, "SOL", 4)

	_, ok, err := store.LatestTwo(context.Background(), "SOL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteDeleteConsumedCollapsesStragglers(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	insertValues(t, store, "BTC", 1, 2, 3, 4)
	insertValues(t, store, "ETH", 7, 8)

	pair, ok, err := store.LatestTwo(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := store.DeleteConsumed(ctx, "BTC", pair.Current)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	again, err := store.DeleteConsumed(ctx, "BTC", pair.Current)
	require.NoError(t, err)
	assert.Zero(t, again)

	window, err := store.ListWindow(ctx, 10)
	require.NoError(t, err)
	var btc []Observation
	for _, obs := range window {
		if obs.Symbol == "BTC" {
			btc = append(btc, obs)
		}
	}
	require.Len(t, btc, 1)
	assert.Equal(t, 4.0, btc[0].Value)

	total, err := store.CountObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestSQLiteInsertSkipsDuplicateStamp(t *testing.T) {
	store := newTestSQLite(t)
	n, err := store.InsertObservations(context.Background(), []NewObservation{
		{Symbol: "BTC", Name: "Bitcoin", Value: 1},
		{Symbol: "BTC", Name: "Bitcoin", Value: 2},
		{Symbol: "ETH", Name: "Ethereum", Value: 3},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
