package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const cmcListingsPath = "/cryptocurrency/listings/latest"

// CoinMarketCapOptions parameterise the listings client.
type CoinMarketCapOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// CoinMarketCap lists top tokens by market cap.
type CoinMarketCap struct {
	opts    CoinMarketCapOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinMarketCap constructs the universe source.
func NewCoinMarketCap(opts CoinMarketCapOptions, logger zerolog.Logger) *CoinMarketCap {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com/v1"
	}
	return &CoinMarketCap{
		opts:    opts,
		logger:  logger.With().Str("component", "cmc_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchUniverse returns up to limit tokens in ranking order.
func (c *CoinMarketCap) FetchUniverse(ctx context.Context, limit int) ([]Token, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("coinmarketcap api key not configured")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	endpoint := c.baseURL + cmcListingsPath + "?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var listing listingsResponse
	decodeErr := json.Unmarshal(payload, &listing)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && listing.Status.ErrorMessage != "" {
			return nil, fmt.Errorf("coinmarketcap api error (%d): %s", resp.StatusCode, listing.Status.ErrorMessage)
		}
		return nil, fmt.Errorf("coinmarketcap api error (%d)", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode coinmarketcap response: %w", decodeErr)
	}
	if listing.Data == nil {
		return nil, fmt.Errorf("coinmarketcap returned no data: %s", listing.Status.ErrorMessage)
	}

	tokens := make([]Token, 0, len(listing.Data))
	for _, item := range listing.Data {
		if item.Symbol == "" {
			continue
		}
		tokens = append(tokens, Token{Symbol: item.Symbol, Name: item.Name})
	}
	c.logger.Debug().Int("tokens", len(tokens)).Msg("universe fetched")
	return tokens, nil
}

type listingsResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	} `json:"data"`
}

var _ UniverseSource = (*CoinMarketCap)(nil)
