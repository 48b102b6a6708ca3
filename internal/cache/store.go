package cache

import (
	"time"

	"github.com/zeromicro/go-zero/core/collection"

	"coinsim-api/pkg/market"
)

// Store implements market.Cache with one in-process cache per data
// category, so each class of data ages on its own TTL.
type Store struct {
	ttls    TTLSet
	buckets map[market.Category]*collection.Cache
	now     func() time.Time
}

type entry struct {
	value     any
	expiresAt time.Time
}

var categories = []market.Category{
	market.CategoryPrice,
	market.CategoryCandles,
	market.CategoryMarketMeta,
	market.CategoryNews,
}

// NewStore builds a Store from the configured TTL set. A category with a
// zero TTL is disabled: its sets are dropped and its gets always miss.
func NewStore(ttls TTLSet) (*Store, error) {
	store := &Store{
		ttls:    ttls,
		buckets: make(map[market.Category]*collection.Cache, len(categories)),
		now:     time.Now,
	}
	for _, category := range categories {
		ttl := ttls.Duration(category)
		if ttl <= 0 {
			continue
		}
		bucket, err := collection.NewCache(ttl, collection.WithName(Namespace+":"+string(category)))
		if err != nil {
			return nil, err
		}
		store.buckets[category] = bucket
	}
	return store, nil
}

// Get returns the cached value for key, or a miss. The underlying cache
// evicts on a timing wheel that can lag the deadline, so entries carry
// their own expiry and anything past it reads as a miss.
func (s *Store) Get(key string, category market.Category) (any, bool) {
	bucket, ok := s.buckets[category]
	if !ok {
		return nil, false
	}
	raw, ok := bucket.Get(formatKey(key))
	if !ok {
		return nil, false
	}
	ent, ok := raw.(entry)
	if !ok {
		return nil, false
	}
	if !s.now().Before(ent.expiresAt) {
		bucket.Del(formatKey(key))
		return nil, false
	}
	return ent.value, true
}

// Set stores value under key, replacing any previous entry whole.
func (s *Store) Set(key string, category market.Category, value any) {
	bucket, ok := s.buckets[category]
	if !ok {
		return
	}
	bucket.Set(formatKey(key), entry{
		value:     value,
		expiresAt: s.now().Add(s.ttls.Duration(category)),
	})
}

// Invalidate drops key from every category bucket.
func (s *Store) Invalidate(key string) {
	for _, bucket := range s.buckets {
		bucket.Del(formatKey(key))
	}
}
