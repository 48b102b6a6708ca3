package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coinsim-api/internal/config"
	"coinsim-api/pkg/market"
)

func newTestStore(t *testing.T, cfg config.CacheTTL) *Store {
	t.Helper()
	store, err := NewStore(NewTTLSet(cfg))
	assert.NoError(t, err, "NewStore should not error")
	return store
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	store := newTestStore(t, config.CacheTTL{Price: 60, Candles: 60, MarketMeta: 60, News: 60})

	store.Set("price:bitcoin", market.CategoryPrice, 42100.5)
	value, ok := store.Get("price:bitcoin", market.CategoryPrice)
	assert.True(t, ok, "fresh entry should hit")
	assert.Equal(t, 42100.5, value, "cached value should round-trip")

	_, ok = store.Get("price:ethereum", market.CategoryPrice)
	assert.False(t, ok, "unknown key should miss")
}

func TestStore_ExpiredReadIsMiss(t *testing.T) {
	store := newTestStore(t, config.CacheTTL{Price: 60, Candles: 60, MarketMeta: 60, News: 60})

	current := time.Now()
	store.now = func() time.Time { return current }

	store.Set("price:bitcoin", market.CategoryPrice, 42100.5)
	_, ok := store.Get("price:bitcoin", market.CategoryPrice)
	assert.True(t, ok, "entry should hit before its TTL")

	current = current.Add(61 * time.Second)
	_, ok = store.Get("price:bitcoin", market.CategoryPrice)
	assert.False(t, ok, "entry past its TTL must read as a miss regardless of presence")
}

func TestStore_CategoriesAgeIndependently(t *testing.T) {
	store := newTestStore(t, config.CacheTTL{Price: 60, Candles: 60, MarketMeta: 3600, News: 7200})

	current := time.Now()
	store.now = func() time.Time { return current }

	store.Set("k", market.CategoryPrice, "short-lived")
	store.Set("k", market.CategoryMarketMeta, "long-lived")

	current = current.Add(120 * time.Second)
	_, ok := store.Get("k", market.CategoryPrice)
	assert.False(t, ok, "price entry should expire on the price TTL")
	value, ok := store.Get("k", market.CategoryMarketMeta)
	assert.True(t, ok, "marketMeta entry should survive the price TTL")
	assert.Equal(t, "long-lived", value, "marketMeta value should be intact")
}

func TestStore_InvalidateDropsAllCategories(t *testing.T) {
	store := newTestStore(t, config.CacheTTL{Price: 60, Candles: 60, MarketMeta: 60, News: 60})

	store.Set("mapping:X", market.CategoryMarketMeta, "official-x")
	store.Set("mapping:X", market.CategoryPrice, 1.23)
	store.Invalidate("mapping:X")

	_, ok := store.Get("mapping:X", market.CategoryMarketMeta)
	assert.False(t, ok, "invalidated key should miss in marketMeta")
	_, ok = store.Get("mapping:X", market.CategoryPrice)
	assert.False(t, ok, "invalidated key should miss in price")
}

func TestStore_DisabledCategoryAlwaysMisses(t *testing.T) {
	store := newTestStore(t, config.CacheTTL{Price: -1, Candles: 60, MarketMeta: 60, News: 60})

	store.Set("price:bitcoin", market.CategoryPrice, 42100.5)
	_, ok := store.Get("price:bitcoin", market.CategoryPrice)
	assert.False(t, ok, "a disabled category should never hit")
}

func TestTTLSet_Defaults(t *testing.T) {
	ttls := NewTTLSet(config.CacheTTL{})
	assert.Equal(t, 5*time.Minute, ttls.Price, "price TTL should default to 5m")
	assert.Equal(t, time.Hour, ttls.MarketMeta, "marketMeta TTL should default to 1h")
	assert.Equal(t, 2*time.Hour, ttls.News, "news TTL should default to 2h")
}
