package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinMarketCapFetchUniverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cmcListingsPath, r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		assert.Equal(t, "cmc-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		_, _ = w.Write([]byte(`{"status":{"error_code":0},"data":[
			{"symbol":"BTC","name":"Bitcoin"},
			{"symbol":"USDT","name":"Tether"},
			{"symbol":"ETH","name":"Ethereum"}
		]}`))
	}))
	defer srv.Close()

	cmc := NewCoinMarketCap(CoinMarketCapOptions{BaseURL: srv.URL, APIKey: "cmc-key", Timeout: time.Second}, noopLogger())
	tokens, err := cmc.FetchUniverse(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Symbol: "BTC", Name: "Bitcoin"},
		{Symbol: "USDT", Name: "Tether"},
		{Symbol: "ETH", Name: "Ethereum"},
	}, tokens)
}

func TestCoinMarketCapRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":{"error_code":1008,"error_message":"You've exceeded your API Key's HTTP request rate limit."}}`))
	}))
	defer srv.Close()

	cmc := NewCoinMarketCap(CoinMarketCapOptions{BaseURL: srv.URL, APIKey: "cmc-key"}, noopLogger())
	_, err := cmc.FetchUniverse(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestCoinMarketCapMissingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"error_code":500,"error_message":"internal"}}`))
	}))
	defer srv.Close()

	cmc := NewCoinMarketCap(CoinMarketCapOptions{BaseURL: srv.URL, APIKey: "cmc-key"}, noopLogger())
	_, err := cmc.FetchUniverse(context.Background(), 10)
	assert.Error(t, err)
}
