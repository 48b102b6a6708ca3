package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited indicates the bounded wait for a provider's bucket was
// exceeded. Use errors.Is against this sentinel; the concrete error carries
// the retry-after duration.
var ErrRateLimited = errors.New("ratelimit: budget exhausted")

// RateLimitedError reports how long the caller should back off before the
// bucket can grant another request.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ratelimit: provider %s exhausted, retry after %s", e.Provider, e.RetryAfter.Truncate(time.Millisecond))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// BucketConfig describes one provider's request budget, e.g. 10000 requests
// per hour or 50 per minute.
type BucketConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	IntervalRaw string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"`
	Burst       int           `yaml:"burst"`
}

func (b *BucketConfig) normalise(provider string) error {
	if b.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit: provider %s: max_requests must be positive", provider)
	}
	if b.Interval <= 0 {
		if b.IntervalRaw == "" {
			return fmt.Errorf("ratelimit: provider %s: interval is required", provider)
		}
		d, err := time.ParseDuration(b.IntervalRaw)
		if err != nil || d <= 0 {
			return fmt.Errorf("ratelimit: provider %s: invalid interval %q", provider, b.IntervalRaw)
		}
		b.Interval = d
	}
	if b.Burst <= 0 {
		b.Burst = 1
	}
	return nil
}

// refillPeriod is the time the bucket needs to mint one token.
func (b *BucketConfig) refillPeriod() time.Duration {
	return b.Interval / time.Duration(b.MaxRequests)
}

// waitSlots bounds Acquire's blocking to a small multiple of the refill
// period so a drained bucket degrades into RateLimited instead of hanging.
const waitSlots = 4

type bucket struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// Limiter gates upstream calls per provider. Buckets never share tokens;
// draining one provider's budget leaves every other provider untouched.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New builds a Limiter from per-provider bucket configs.
func New(configs map[string]BucketConfig) (*Limiter, error) {
	l := &Limiter{buckets: make(map[string]*bucket, len(configs))}
	for provider, cfg := range configs {
		if err := l.Register(provider, cfg); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Register adds or replaces the bucket for a provider.
func (l *Limiter) Register(provider string, cfg BucketConfig) error {
	if err := cfg.normalise(provider); err != nil {
		return err
	}
	perSecond := float64(cfg.MaxRequests) / cfg.Interval.Seconds()
	l.mu.Lock()
	l.buckets[provider] = &bucket{
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Burst),
		maxWait: waitSlots * cfg.refillPeriod(),
	}
	l.mu.Unlock()
	return nil
}

func (l *Limiter) lookup(provider string) *bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[provider]
}

// Acquire blocks until the provider's bucket grants a token, up to the
// bucket's bounded wait. Unregistered providers pass through unlimited.
// Returns a RateLimitedError when the wait budget is exceeded.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	b := l.lookup(provider)
	if b == nil {
		return nil
	}
	res := b.limiter.Reserve()
	if !res.OK() {
		return &RateLimitedError{Provider: provider, RetryAfter: b.maxWait}
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	if delay > b.maxWait {
		res.Cancel()
		return &RateLimitedError{Provider: provider, RetryAfter: delay}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// TryAcquire grants a token without blocking. On refusal it reports the
// retry-after estimate so the caller can schedule its own backoff.
func (l *Limiter) TryAcquire(provider string) (time.Duration, bool) {
	b := l.lookup(provider)
	if b == nil {
		return 0, true
	}
	if b.limiter.Allow() {
		return 0, true
	}
	res := b.limiter.Reserve()
	if !res.OK() {
		return b.maxWait, false
	}
	delay := res.Delay()
	res.Cancel()
	return delay, false
}
