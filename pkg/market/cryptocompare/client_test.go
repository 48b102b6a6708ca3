package cryptocompare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"coinsim-api/pkg/market"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("cryptocompare", WithBaseURL(server.URL), WithMaxRetries(0))
}

func TestClient_GetTicker(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/price", r.URL.Path, "ticker should hit the price endpoint")
		assert.Equal(t, "BTC", r.URL.Query().Get("fsym"), "the ticker symbol is the native key")
		assert.Equal(t, "USD", r.URL.Query().Get("tsyms"), "quotes are requested in USD")
		w.Write([]byte(`{"USD":64321.5}`))
	}))

	quote, err := client.GetTicker(context.Background(), market.InstrumentRef{ID: "bitcoin", Symbol: "btc"})
	assert.NoError(t, err, "ticker fetch should succeed")
	assert.Equal(t, "bitcoin", quote.InstrumentID, "quote should keep the resolver's instrument id")
	assert.Equal(t, 64321.5, quote.Price, "quote should carry the USD price")
}

func TestClient_GetTickerRequiresSymbol(t *testing.T) {
	client := NewClient("cryptocompare")
	_, err := client.GetTicker(context.Background(), market.InstrumentRef{ID: "bitcoin"})
	assert.ErrorIs(t, err, market.ErrInstrumentNotFound, "a ref without a symbol cannot be addressed")
}

func TestClient_ErrorEnvelope(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"Response":"Error","Message":"There is no data for the symbol GHOST"}`))
	}))
	defer server.Close()
	client := NewClient("cryptocompare", WithBaseURL(server.URL), WithMaxRetries(3))

	_, err := client.GetTicker(context.Background(), market.InstrumentRef{Symbol: "GHOST"})
	assert.ErrorIs(t, err, market.ErrInstrumentNotFound, "a no-data envelope should map to not found")
	assert.Equal(t, 1, hits, "an API-level error must not be retried")
}

func TestClient_ErrorEnvelopeRateLimit(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"Error","Message":"You are over your rate limit"}`))
	}))

	_, err := client.GetTicker(context.Background(), market.InstrumentRef{Symbol: "BTC"})
	assert.ErrorIs(t, err, market.ErrUpstreamUnavailable, "other envelope errors stay retryable for failover")
}

func TestClient_GetCandles(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/v2/histohour", r.URL.Path, "an hourly interval should use histohour")
		w.Write([]byte(`{"Data":{"Data":[
			{"time":1700000000,"open":10,"high":12,"low":9,"close":11,"volumefrom":5},
			{"time":1700003600,"open":11,"high":13,"low":10,"close":12,"volumefrom":6}
		]}}`))
	}))

	candles, err := client.GetCandles(context.Background(), market.InstrumentRef{Symbol: "BTC"}, "1h", 10)
	assert.NoError(t, err, "candle fetch should succeed")
	assert.Len(t, candles, 2, "both bars should be mapped")
	assert.Equal(t, 11.0, candles[0].Close, "bars should stay oldest first")
	assert.Equal(t, 6.0, candles[1].Volume, "base volume should be mapped")
}

func TestHistoPath(t *testing.T) {
	assert.Equal(t, "/data/v2/histominute", histoPath("5m"), "sub-hour intervals use histominute")
	assert.Equal(t, "/data/v2/histohour", histoPath("4h"), "sub-day intervals use histohour")
	assert.Equal(t, "/data/v2/histoday", histoPath("24h"), "daily and above use histoday")
	assert.Equal(t, "/data/v2/histohour", histoPath("bogus"), "unparseable intervals fall back to hourly")
}

func TestClient_GetOrderBookUnsupported(t *testing.T) {
	client := NewClient("cryptocompare")
	_, err := client.GetOrderBook(context.Background(), market.InstrumentRef{Symbol: "BTC"})
	assert.ErrorIs(t, err, market.ErrUpstreamUnavailable, "depth requests should defer to another provider")
}

func TestClient_TopInstruments(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/top/mktcapfull", r.URL.Path, "top listing should hit mktcapfull")
		w.Write([]byte(`{"Data":[
			{"CoinInfo":{"Name":"BTC","FullName":"Bitcoin","Internal":"BTC"},
			 "RAW":{"USD":{"PRICE":64000,"MKTCAP":1.2e12,"TOTALVOLUME24HTO":3e10}}},
			{"CoinInfo":{"Name":"ETH","FullName":"Ethereum","Internal":"ETH"},
			 "RAW":{"USD":{"PRICE":3300,"MKTCAP":4e11,"TOTALVOLUME24HTO":1.5e10}}}
		]}`))
	}))

	instruments, err := client.TopInstruments(context.Background(), 2)
	assert.NoError(t, err, "top listing should succeed")
	assert.Len(t, instruments, 2, "both rows should be mapped")
	assert.Equal(t, 1, instruments[0].MarketCapRank, "ranks follow response position")
	assert.Equal(t, 2, instruments[1].MarketCapRank, "ranks follow response position")
	assert.Equal(t, 1.2e12, instruments[0].MarketCap, "cap should come from the RAW USD block")
}
