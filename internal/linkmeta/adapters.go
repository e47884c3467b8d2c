package linkmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// UTCClock returns the production clock. Timestamps carry the UTC
// location so cache TTLs and log records compare consistently across
// hosts in different zones.
func UTCClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// SHA256Hasher digests raw body bytes for duplicate-content detection.
type SHA256Hasher struct{}

// Hash returns the hex-encoded SHA-256 digest of data.
func (SHA256Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
