package coingecko

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
	return NewClient("coingecko", WithBaseURL(server.URL), WithMaxRetries(0))
}

func TestClient_GetTicker(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path, "ticker should hit the simple price endpoint")
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"), "coin id should be passed through")
		w.Write([]byte(`{"bitcoin":{"usd":65000.5}}`))
	}))

	quote, err := client.GetTicker(context.Background(), market.InstrumentRef{ID: "bitcoin"})
	assert.NoError(t, err, "ticker fetch should succeed")
	assert.Equal(t, "bitcoin", quote.InstrumentID, "quote should carry the coin id")
	assert.Equal(t, 65000.5, quote.Price, "quote should carry the usd price")
}

func TestClient_GetTickerMissingQuote(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{}}`))
	}))

	_, err := client.GetTicker(context.Background(), market.InstrumentRef{ID: "bitcoin"})
	assert.ErrorIs(t, err, market.ErrNoData, "a present coin without a usd quote is confirmed-empty")

	_, err = client.GetTicker(context.Background(), market.InstrumentRef{ID: "ethereum"})
	assert.ErrorIs(t, err, market.ErrInstrumentNotFound, "an absent coin id should report not found")
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	client := NewClient("coingecko", WithBaseURL(server.URL), WithMaxRetries(3))

	_, err := client.GetTicker(context.Background(), market.InstrumentRef{ID: "ghost"})
	assert.ErrorIs(t, err, market.ErrInstrumentNotFound, "404 should map to not found")
	assert.Equal(t, 1, hits, "a 404 must not burn the retry budget")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"bitcoin":{"usd":100}}`))
	}))
	defer server.Close()
	client := NewClient("coingecko", WithBaseURL(server.URL), WithMaxRetries(1))

	quote, err := client.GetTicker(context.Background(), market.InstrumentRef{ID: "bitcoin"})
	assert.NoError(t, err, "a transient 500 should be retried away")
	assert.Equal(t, 100.0, quote.Price, "retry should return the recovered quote")
	assert.Equal(t, 2, hits, "exactly one retry expected")
}

func TestClient_GetCandles(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/ohlc", r.URL.Path, "candles should hit the ohlc endpoint")
		w.Write([]byte(`[
			[1700000000000, 10, 12, 9, 11],
			[1700003600000, 11, 13, 10, 12],
			[1700007200000, 12, 14, 11, 13]
		]`))
	}))

	candles, err := client.GetCandles(context.Background(), market.InstrumentRef{ID: "bitcoin"}, "1h", 2)
	assert.NoError(t, err, "candle fetch should succeed")
	assert.Len(t, candles, 2, "the response should be trimmed to the requested limit")
	assert.Equal(t, 11.0, candles[0].Open, "trimming should keep the newest bars")
	assert.Equal(t, 13.0, candles[1].Close, "bars should stay oldest first")
}

func TestClient_ListInstruments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"official-x","symbol":"x","name":"Official X"},
			{"id":"decoy-x","symbol":"x","name":"Decoy X"},
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin"}
		]`))
	})
	mux.HandleFunc("/coins/markets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "official-x,decoy-x", r.URL.Query().Get("ids"), "only the colliding ids should be ranked")
		w.Write([]byte(`[
			{"id":"official-x","symbol":"x","name":"Official X","market_cap_rank":70,"market_cap":1e9,"total_volume":5e7,"current_price":2.5},
			{"id":"decoy-x","symbol":"x","name":"Decoy X","market_cap_rank":4000,"market_cap":1e5,"total_volume":100,"current_price":0.01}
		]`))
	})
	client := testClient(t, mux)

	instruments, err := client.ListInstruments(context.Background(), "X")
	assert.NoError(t, err, "listing should succeed")
	assert.Len(t, instruments, 2, "both colliding listings should be returned")
	byID := make(map[string]market.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}
	assert.Equal(t, 70, byID["official-x"].MarketCapRank, "ranks should be joined from the markets endpoint")
	assert.Equal(t, 4000, byID["decoy-x"].MarketCapRank, "decoy rank should be joined too")
	assert.Equal(t, "X", byID["official-x"].Symbol, "symbols should be upper-cased")
}

func TestClient_TopInstruments(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path, "top listing should hit the markets endpoint")
		assert.Equal(t, "market_cap_desc", r.URL.Query().Get("order"), "top listing should sort by cap")
		assert.Equal(t, "2", r.URL.Query().Get("per_page"), "page size should follow the limit")
		w.Write([]byte(`[
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin","market_cap_rank":1,"market_cap":1.2e12,"total_volume":3e10,"current_price":65000},
			{"id":"ethereum","symbol":"eth","name":"Ethereum","market_cap_rank":2,"market_cap":4e11,"total_volume":1.5e10,"current_price":3300}
		]`))
	}))

	instruments, err := client.TopInstruments(context.Background(), 2)
	assert.NoError(t, err, "top listing should succeed")
	assert.Len(t, instruments, 2, "both rows should be mapped")
	assert.Equal(t, "bitcoin", instruments[0].ID, "ordering should follow the response")
	assert.Equal(t, 3300.0, instruments[1].Price, "prices should be mapped")
}

func TestDaySpan(t *testing.T) {
	assert.Equal(t, 1, daySpan("1h", 24), "24 hourly bars fit in a day")
	assert.Equal(t, 7, daySpan("24h", 7), "a week of daily bars snaps to 7")
	assert.Equal(t, 30, daySpan("24h", 20), "20 daily bars snap up to 30")
	assert.Equal(t, 365, daySpan("24h", 1000), "oversized spans clamp to a year")
	assert.Equal(t, 7, daySpan("bogus", 100), "unparseable intervals fall back to hourly")
}
