package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoinglass(t *testing.T, handler http.HandlerFunc) *Coinglass {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCoinglass(CoinglassOptions{BaseURL: srv.URL, APIKey: "key", Timeout: time.Second}, noopLogger())
}

func TestCoinglassFetchSeries(t *testing.T) {
	cg := newTestCoinglass(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, coinglassHistoryPath, r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("CG-API-KEY"))
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		assert.Equal(t, "h4", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"success","data":[
			{"time":1735689600000,"open":"90","close":"100"},
			{"time":1735704000000,"open":"100","close":125.5}
		]}`))
	})

	series, err := cg.FetchSeries(context.Background(), "BTC")
	require.NoError(t, err)
	require.Len(t, series, 2)

	growth, err := Growth(series)
	require.NoError(t, err)
	assert.InDelta(t, 25.5, growth, 1e-9)
}

func TestCoinglassNonZeroCodeIsNoData(t *testing.T) {
	cg := newTestCoinglass(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"40001","msg":"symbol not supported"}`))
	})
	_, err := cg.FetchSeries(context.Background(), "XYZ")
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestCoinglassShortSeriesIsNoData(t *testing.T) {
	cg := newTestCoinglass(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","data":[{"time":1735689600000,"close":"100"}]}`))
	})
	_, err := cg.FetchSeries(context.Background(), "BTC")
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestCoinglassHTTPError(t *testing.T) {
	cg := newTestCoinglass(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := cg.FetchSeries(context.Background(), "BTC")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoData))
}

func TestCoinglassMissingKey(t *testing.T) {
	cg := NewCoinglass(CoinglassOptions{}, noopLogger())
	_, err := cg.FetchSeries(context.Background(), "BTC")
	assert.Error(t, err)
}
