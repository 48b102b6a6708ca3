package backtest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"coinsim-api/pkg/market"
)

// Feeder yields sequential candles for a symbol. The second return value
// reports whether a candle was produced; false means the series is done.
type Feeder interface {
	Next(ctx context.Context, symbol string) (*market.Candle, bool, error)
}

// PriceFeeder emits candles built from a static close series. Each close
// becomes one bar; open carries the previous close.
type PriceFeeder struct {
	closes []float64
	start  time.Time
	step   time.Duration
	idx    int
}

// NewPriceFeeder builds a feeder over a close series with hourly bars.
func NewPriceFeeder(closes []float64) *PriceFeeder {
	return &PriceFeeder{
		closes: closes,
		start:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		step:   time.Hour,
	}
}

func (f *PriceFeeder) Next(context.Context, string) (*market.Candle, bool, error) {
	if f.idx >= len(f.closes) {
		return nil, false, nil
	}
	px := f.closes[f.idx]
	open := px
	if f.idx > 0 {
		open = f.closes[f.idx-1]
	}
	candle := &market.Candle{
		OpenTime: f.start.Add(time.Duration(f.idx) * f.step),
		Open:     open,
		High:     maxOf(open, px),
		Low:      minOf(open, px),
		Close:    px,
	}
	f.idx++
	return candle, true, nil
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// CSVFeeder reads a two-column CSV (timestamp,close) and replays the
// closes as candles. A non-numeric header row is skipped.
type CSVFeeder struct {
	inner *PriceFeeder
}

// NewCSVFeederFromFile constructs a CSV feeder from a file path.
func NewCSVFeederFromFile(path string) (*CSVFeeder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewCSVFeeder(f)
}

// NewCSVFeeder constructs a CSV feeder from a reader.
func NewCSVFeeder(r io.Reader) (*CSVFeeder, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	var closes []float64
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(rec[len(rec)-1], 64)
		if err != nil {
			continue // header or malformed row
		}
		closes = append(closes, v)
	}
	return &CSVFeeder{inner: NewPriceFeeder(closes)}, nil
}

func (f *CSVFeeder) Next(ctx context.Context, symbol string) (*market.Candle, bool, error) {
	return f.inner.Next(ctx, symbol)
}
