package linkmeta

import (
	"context"
	"time"
)

// Resolver expands shortened URLs by following redirect chains.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Fetcher retrieves a URL's content, enforcing the size cap and the
// content-type skip list before the body is read.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// ContentCache is the durable URL → result store. Get returns ok=false on
// absent, expired, or unreadable entries; implementations never surface
// storage failures to callers.
type ContentCache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool)
	Put(ctx context.Context, key string, result AnalysisResult, ttl time.Duration) error
}

// ProcessingLog is the append-only record of terminal outcomes, replayable
// at startup to skip already-attempted URLs across process restarts.
type ProcessingLog interface {
	Append(record LogRecord) error
	// Replay returns the most recent record per URL.
	Replay() (map[string]LogRecord, error)
}

// Limiter tracks per-domain cooldown windows triggered by back-off-worthy
// response codes.
type Limiter interface {
	// Check reports whether the domain may be fetched now; when it may not,
	// remaining is the time left on the cooldown.
	Check(domain string) (allowed bool, remaining time.Duration)
	// Penalize starts or extends the domain's cooldown for the status code.
	Penalize(domain string, statusCode int)
	// Wait applies the optional per-domain request-rate baseline.
	Wait(ctx context.Context, domain string) error
}

// Hasher computes content digests for duplicate detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
