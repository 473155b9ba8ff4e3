package fetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BinanceOptions parameterise the futures open-interest fetcher.
type BinanceOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Period    string
	Quote     string
}

// Binance reads open-interest statistics of USDⓈ-M perpetuals.
type Binance struct {
	opts      BinanceOptions
	logger    zerolog.Logger
	client    *futures.Client
	clientMux sync.Mutex
}

// NewBinance builds a Binance metric source.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	if opts.Period == "" {
		opts.Period = "4h"
	}
	if opts.Quote == "" {
		opts.Quote = "USDT"
	}
	return &Binance{opts: opts, logger: logger.With().Str("component", "binance_fetcher").Logger()}
}

// Name identifies the source in logs.
func (b *Binance) Name() string {
	return "binance"
}

// FetchSeries returns the two most recent sumOpenInterest readings of the
// symbol's perpetual contract.
func (b *Binance) FetchSeries(ctx context.Context, symbol string) ([]Point, error) {
	pair := strings.ToUpper(symbol) + strings.ToUpper(b.opts.Quote)

	stats, err := b.getClient().NewOpenInterestStatisticsService().
		Symbol(pair).
		Period(b.opts.Period).
		Limit(2).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance open interest %s: %w", pair, err)
	}
	if len(stats) < 2 {
		return nil, ErrNoData
	}

	points := make([]Point, 0, len(stats))
	for _, stat := range stats {
		value, parseErr := decimal.NewFromString(stat.SumOpenInterest)
		if parseErr != nil {
			return nil, fmt.Errorf("parse open interest %q: %w", stat.SumOpenInterest, parseErr)
		}
		points = append(points, Point{Time: time.UnixMilli(stat.Timestamp).UTC(), Value: value})
	}
	return points, nil
}

func (b *Binance) getClient() *futures.Client {
	b.clientMux.Lock()
	defer b.clientMux.Unlock()

	if b.client != nil {
		return b.client
	}
	client := futures.NewClient(b.opts.APIKey, b.opts.APISecret)
	if b.opts.BaseURL != "" {
		client.BaseURL = strings.TrimRight(b.opts.BaseURL, "/")
	}
	b.client = client
	return client
}

var _ MetricSource = (*Binance)(nil)
