package cache

import (
	"fmt"
	"strings"
	"time"

	"coinsim-api/internal/config"
	"coinsim-api/pkg/market"
)

// Namespace is the key prefix for the coinsim application.
const Namespace = "coinsim"

// TTLSet normalises per-category cache TTLs from config into durations.
type TTLSet struct {
	Price      time.Duration
	Candles    time.Duration
	MarketMeta time.Duration
	News       time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Price:      durationOrDefault(cfg.Price, 5*time.Minute),
		Candles:    durationOrDefault(cfg.Candles, 15*time.Minute),
		MarketMeta: durationOrDefault(cfg.MarketMeta, time.Hour),
		News:       durationOrDefault(cfg.News, 2*time.Hour),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured TTL for the given data category.
func (t TTLSet) Duration(category market.Category) time.Duration {
	switch category {
	case market.CategoryPrice:
		return t.Price
	case market.CategoryCandles:
		return t.Candles
	case market.CategoryMarketMeta:
		return t.MarketMeta
	case market.CategoryNews:
		return t.News
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// MappingLockKey guards concurrent re-resolution of the same symbol.
func MappingLockKey(symbol string) string {
	return formatKey("lock", "mapping", symbol)
}

// DiscoveryCycleKey caches the most recent discovery cycle summary.
func DiscoveryCycleKey() string {
	return formatKey("discovery", "last_cycle")
}

// FormatCacheKey is exported for dynamic key construction when patterns
// are not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}

// BuildKeyWithSuffix appends an arbitrary suffix to an existing key.
func BuildKeyWithSuffix(baseKey, suffix string) string {
	if strings.TrimSpace(suffix) == "" {
		return baseKey
	}
	return fmt.Sprintf("%s:%s", baseKey, strings.TrimSpace(suffix))
}
