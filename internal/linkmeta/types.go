// Package linkmeta defines core types shared across subsystems.
package linkmeta

import (
	"net/http"
	"time"
)

// Status represents the terminal outcome of analyzing one URL.
type Status string

// Status values carried by AnalysisResult and persisted in the cache and log.
const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
	StatusNotAttempted Status = "not_attempted"
)

// Source is one (source-record-id, raw URL) pair supplied by the archive
// ingestion collaborator. SourceID identifies where the URL was seen; the
// same URL may appear under many source IDs.
type Source struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
}

// AnalysisResult is the immutable per-URL output record. A later re-fetch
// produces a new AnalysisResult replacing the cached one; results are never
// mutated after the pipeline hands them out.
type AnalysisResult struct {
	URL         string    `json:"url"`
	ResolvedURL string    `json:"resolved_url,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	TextContent string    `json:"text_content,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	LinkCount   int       `json:"link_count"`
	ImageCount  int       `json:"image_count"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// CacheEntry wraps a stored AnalysisResult with its expiry bookkeeping.
// Owned exclusively by the content cache.
type CacheEntry struct {
	Key      string
	Result   AnalysisResult
	StoredAt time.Time
	TTL      time.Duration
}

// ValidAt reports whether the entry is still fresh at the given instant.
func (e CacheEntry) ValidAt(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// LogRecord is one line of the processing log. The most recent record for a
// URL is authoritative.
type LogRecord struct {
	URL       string
	Timestamp time.Time
	Status    Status
	Error     string
}

// FetchResponse is the raw outcome of a single HTTP fetch before analysis.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}
