package linkmeta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUTCClockReturnsUTC(t *testing.T) {
	t.Parallel()

	clk := UTCClock()

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.False(t, got.Before(before), "timestamp %v precedes %v", got, before)
	require.False(t, got.After(after), "timestamp %v follows %v", got, after)
}

func TestClockFuncAdaptsFixedTime(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	var clk Clock = ClockFunc(func() time.Time { return fixed })

	require.Equal(t, fixed, clk.Now())
	require.Equal(t, fixed, clk.Now())
}

func TestSHA256HasherDigest(t *testing.T) {
	t.Parallel()

	var h Hasher = SHA256Hasher{}

	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := h.Hash(nil)
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}
