package market

import "errors"

var (
	// ErrInstrumentNotFound means the upstream universe has no such
	// instrument or symbol. Terminal: never retried against a fallback.
	ErrInstrumentNotFound = errors.New("market: instrument not found")

	// ErrNoData means the upstream answered but had nothing to say, e.g. a
	// delisted instrument with an empty series. Terminal like not-found.
	ErrNoData = errors.New("market: no data")

	// ErrUpstreamUnavailable wraps transport failures and non-2xx responses.
	// Retryable: the failover service moves on to the next provider.
	ErrUpstreamUnavailable = errors.New("market: upstream unavailable")

	// ErrAllProvidersFailed surfaces after every configured provider for a
	// capability failed with a retryable error.
	ErrAllProvidersFailed = errors.New("market: all providers failed")
)
