package backtest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"coinsim-api/pkg/market"
)

func candleAt(close float64) *market.Candle {
	return &market.Candle{Open: close, High: close, Low: close, Close: close}
}

func TestPriceFeeder(t *testing.T) {
	feeder := NewPriceFeeder([]float64{100, 101, 99})
	ctx := context.Background()

	candle, ok, err := feeder.Next(ctx, "BTC")
	assert.NoError(t, err, "first bar should not error")
	assert.True(t, ok, "first bar should exist")
	assert.Equal(t, 100.0, candle.Close, "first close should match the series")

	candle, ok, err = feeder.Next(ctx, "BTC")
	assert.NoError(t, err, "second bar should not error")
	assert.True(t, ok, "second bar should exist")
	assert.Equal(t, 100.0, candle.Open, "a bar opens at the previous close")
	assert.Equal(t, 101.0, candle.High, "an up bar's high is its close")

	candle, ok, err = feeder.Next(ctx, "BTC")
	assert.NoError(t, err, "third bar should not error")
	assert.True(t, ok, "third bar should exist")
	assert.Equal(t, 99.0, candle.Low, "a down bar's low is its close")

	_, ok, err = feeder.Next(ctx, "BTC")
	assert.NoError(t, err, "exhaustion should not error")
	assert.False(t, ok, "an exhausted series reports done")
}

func TestCSVFeeder(t *testing.T) {
	data := []byte("ts,close\n1,100\n2,101\n3,102\n")
	feeder, err := NewCSVFeeder(bytes.NewReader(data))
	assert.NoError(t, err, "well-formed CSV should parse")

	ctx := context.Background()
	var closes []float64
	for {
		candle, ok, err := feeder.Next(ctx, "BTC")
		assert.NoError(t, err, "replay should not error")
		if !ok {
			break
		}
		closes = append(closes, candle.Close)
	}
	assert.Equal(t, []float64{100, 101, 102}, closes, "the header row is skipped and closes replay in order")
}
