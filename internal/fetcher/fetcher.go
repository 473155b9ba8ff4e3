package fetcher

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData means the upstream had nothing usable for a symbol this cycle.
// It is a normal state, not a failure.
var ErrNoData = errors.New("fetcher: no data")

var hundred = decimal.NewFromInt(100)

// Token is one entry of the tracked universe.
type Token struct {
	Symbol string
	Name   string
}

// UniverseSource lists the tokens to track, in ranking order.
type UniverseSource interface {
	FetchUniverse(ctx context.Context, limit int) ([]Token, error)
}

// Point is one open-interest reading.
type Point struct {
	Time  time.Time
	Value decimal.Decimal
}

// MetricSource returns a recent open-interest series for a symbol.
type MetricSource interface {
	Name() string
	FetchSeries(ctx context.Context, symbol string) ([]Point, error)
}

// Growth returns ((latest - earliest) / earliest) * 100 over the two most
// recent points. It returns ErrNoData when fewer than two points exist or the
// earlier reading is not positive.
func Growth(series []Point) (float64, error) {
	if len(series) < 2 {
		return 0, ErrNoData
	}
	ordered := append([]Point(nil), series...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time.Before(ordered[j].Time) })

	earliest := ordered[len(ordered)-2].Value
	latest := ordered[len(ordered)-1].Value
	if !earliest.IsPositive() {
		return 0, ErrNoData
	}

	growth := latest.Sub(earliest).Div(earliest).Mul(hundred).InexactFloat64()
	if math.IsNaN(growth) || math.IsInf(growth, 0) {
		return 0, ErrNoData
	}
	return growth, nil
}
