package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const coinglassHistoryPath = "/open-interest/aggregated-history"

// CoinglassOptions parameterise the Coinglass fetcher.
type CoinglassOptions struct {
	BaseURL  string
	APIKey   string
	Interval string
	Timeout  time.Duration
}

// Coinglass reads aggregated open-interest history across exchanges.
type Coinglass struct {
	opts    CoinglassOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinglass constructs a Coinglass fetcher.
func NewCoinglass(opts CoinglassOptions, logger zerolog.Logger) *Coinglass {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Interval == "" {
		opts.Interval = "h4"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://open-api-v4.coinglass.com/api/futures"
	}

	return &Coinglass{
		opts:    opts,
		logger:  logger.With().Str("component", "coinglass_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the source in logs.
func (c *Coinglass) Name() string {
	return "coinglass"
}

// FetchSeries returns the last two closes of the aggregated OI candles.
func (c *Coinglass) FetchSeries(ctx context.Context, symbol string) ([]Point, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("coinglass api key not configured")
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", c.opts.Interval)
	query.Set("limit", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+coinglassHistoryPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("CG-API-KEY", c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coinglass api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var history historyResponse
	if err := json.Unmarshal(payload, &history); err != nil {
		return nil, fmt.Errorf("decode coinglass response: %w", err)
	}
	if history.Code.String() != "0" {
		c.logger.Debug().Str("symbol", symbol).Str("code", history.Code.String()).Str("msg", history.Msg).Msg("coinglass returned no series")
		return nil, ErrNoData
	}
	if len(history.Data) < 2 {
		return nil, ErrNoData
	}

	points := make([]Point, 0, len(history.Data))
	for _, candle := range history.Data {
		points = append(points, Point{Time: time.UnixMilli(candle.Time).UTC(), Value: candle.Close})
	}
	return points, nil
}

type historyResponse struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
	Data []struct {
		Time  int64           `json:"time"`
		Close decimal.Decimal `json:"close"`
	} `json:"data"`
}

var _ MetricSource = (*Coinglass)(nil)
