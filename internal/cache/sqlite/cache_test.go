package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, clock linkmeta.Clock) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache.db"), clock, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleResult(url string) linkmeta.AnalysisResult {
	return linkmeta.AnalysisResult{
		URL:         url,
		ResolvedURL: url,
		Title:       "Title",
		LinkCount:   3,
		ImageCount:  1,
		Status:      linkmeta.StatusSuccess,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clock)

	result := sampleResult("https://example.com")
	require.NoError(t, c.Put(context.Background(), "https://example.com", result, time.Hour))

	entry, ok := c.Get(context.Background(), "https://example.com")
	require.True(t, ok)
	require.Equal(t, result, entry.Result)
	require.Equal(t, time.Hour, entry.TTL)
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	_, ok := c.Get(context.Background(), "https://absent.example.com")
	require.False(t, ok)
}

func TestTTLBoundary(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clock)

	require.NoError(t, c.Put(context.Background(), "key", sampleResult("https://example.com"), time.Hour))

	// Just inside the window.
	clock.Advance(time.Hour - time.Second)
	_, ok := c.Get(context.Background(), "key")
	require.True(t, ok)

	// Just past the window: miss, and the entry is evicted.
	clock.Advance(2 * time.Second)
	_, ok = c.Get(context.Background(), "key")
	require.False(t, ok)

	// A sweep right after finds nothing left to delete.
	deleted, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestPutReplacesEntry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clock)

	first := sampleResult("https://example.com")
	require.NoError(t, c.Put(context.Background(), "key", first, time.Hour))

	second := first
	second.Title = "Replaced"
	require.NoError(t, c.Put(context.Background(), "key", second, time.Hour))

	entry, ok := c.Get(context.Background(), "key")
	require.True(t, ok)
	require.Equal(t, "Replaced", entry.Result.Title)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clock)

	_, err := c.db.ExecContext(context.Background(),
		`INSERT INTO content_cache (key, result, stored_at, ttl_seconds) VALUES (?, ?, ?, ?)`,
		"bad", "{not json", clock.Now().Unix(), 3600)
	require.NoError(t, err)

	_, ok := c.Get(context.Background(), "bad")
	require.False(t, ok)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, clock)

	require.NoError(t, c.Put(context.Background(), "short", sampleResult("https://a.example.com"), time.Minute))
	require.NoError(t, c.Put(context.Background(), "long", sampleResult("https://b.example.com"), time.Hour))

	clock.Advance(10 * time.Minute)
	deleted, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, ok := c.Get(context.Background(), "long")
	require.True(t, ok)
}
