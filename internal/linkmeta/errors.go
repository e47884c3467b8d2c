package linkmeta

import "errors"

// Failure classes captured into AnalysisResult.Error. None of these abort
// the run; every failure stays local to its URL.
var (
	// ErrInvalidURL marks input that cannot be parsed as a URL. Not retried.
	ErrInvalidURL = errors.New("invalid url")
	// ErrTooManyRedirects marks resolution that exceeded the hop limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrTimeout marks a resolution or fetch that exceeded its time budget.
	ErrTimeout = errors.New("timeout")
	// ErrNetwork marks connection-level failures (DNS, reset, TLS). May be
	// retried on a subsequent run since it is never cached as a success.
	ErrNetwork = errors.New("network error")
	// ErrTooLarge marks a response that exceeded the configured size cap.
	ErrTooLarge = errors.New("response exceeds size limit")
	// ErrSkippedContentType marks a deliberate non-fetch of a body whose
	// content type is on the skip list. Recorded, not an error.
	ErrSkippedContentType = errors.New("skipped content type")
)
