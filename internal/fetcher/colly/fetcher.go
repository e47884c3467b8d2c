// Package collyfetcher implements the content fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

// DefaultSkipContentTypes lists content types never worth downloading.
var DefaultSkipContentTypes = []string{
	"application/pdf",
	"application/zip",
	"application/gzip",
	"application/x-tar",
	"application/octet-stream",
	"image/",
	"video/",
	"audio/",
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the streamed response size.
	MaxBodyBytes int
	// SkipContentTypes are prefixes matched against the response media type
	// before the body is read.
	SkipContentTypes []string
}

// Fetcher executes single-shot HTTP fetches through a Colly collector. It
// aborts before the body is read when the declared content type is on the
// skip list or the declared length exceeds the cap.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 * 1024 * 1024
	}
	if cfg.SkipContentTypes == nil {
		cfg.SkipContentTypes = DefaultSkipContentTypes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// colly v2.1.0's Async option sets Async=true regardless of its
	// argument; rely on the synchronous default instead.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.WithTransport(newTransport())

	return &Fetcher{cfg: cfg, baseCollector: c, logger: logger}
}

// fetchState accumulates per-request callback results.
type fetchState struct {
	resp     linkmeta.FetchResponse
	gotResp  bool
	skipped  bool
	tooLarge bool
	status   int
	err      error
}

// Fetch retrieves one URL. Skipped content types return ErrSkippedContentType
// with the content type populated and zero body bytes read; oversize
// responses return ErrTooLarge; non-2xx responses return *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (linkmeta.FetchResponse, error) {
	start := time.Now()
	state := &fetchState{}
	collector := f.buildCollector(state, start)

	if err := f.runCollector(ctx, collector, url); err != nil {
		return f.finish(state, start, err)
	}
	return f.finish(state, start, nil)
}

func (f *Fetcher) buildCollector(state *fetchState, start time.Time) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	// One past the cap so a body that fills the buffer is distinguishable
	// from one that exactly met it.
	collector.MaxBodySize = f.cfg.MaxBodyBytes + 1

	collector.OnResponseHeaders(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		state.status = r.StatusCode
		state.resp.ContentType = contentType

		if r.StatusCode >= 200 && r.StatusCode < 300 && f.shouldSkip(contentType) {
			state.skipped = true
			r.Request.Abort()
			return
		}
		if length := r.Headers.Get("Content-Length"); length != "" {
			var declared int
			if _, err := fmt.Sscanf(length, "%d", &declared); err == nil && declared > f.cfg.MaxBodyBytes {
				state.tooLarge = true
				r.Request.Abort()
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		state.gotResp = true
		state.resp = linkmeta.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Headers:     r.Headers.Clone(),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
		if len(r.Body) > f.cfg.MaxBodyBytes {
			state.tooLarge = true
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})

	return collector
}

// runCollector drives one visit and always joins the visiting goroutine
// before returning, so callers may read the fetch state without racing the
// response callbacks.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The visit keeps mutating shared state until it unwinds; the
		// request timeout bounds how long that takes. Join it before the
		// caller reads the state.
		<-done
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (f *Fetcher) finish(state *fetchState, start time.Time, visitErr error) (linkmeta.FetchResponse, error) {
	state.resp.Duration = time.Since(start)

	switch {
	case state.skipped:
		state.resp.StatusCode = state.status
		return state.resp, linkmeta.ErrSkippedContentType
	case state.tooLarge:
		state.resp.Body = nil
		state.resp.StatusCode = state.status
		return state.resp, linkmeta.ErrTooLarge
	}

	if state.status >= 400 || (state.gotResp && state.resp.StatusCode >= 400) {
		code := state.status
		if code == 0 {
			code = state.resp.StatusCode
		}
		state.resp.StatusCode = code
		return state.resp, &linkmeta.StatusError{Code: code}
	}

	err := visitErr
	if err == nil {
		err = state.err
	}
	if err != nil {
		if errors.Is(err, colly.ErrAbortedAfterHeaders) {
			// Abort we did not request; treat as a network-level failure.
			return state.resp, fmt.Errorf("%w: %v", linkmeta.ErrNetwork, err)
		}
		return state.resp, classify(err)
	}

	return state.resp, nil
}

func (f *Fetcher) shouldSkip(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	for _, skip := range f.cfg.SkipContentTypes {
		if strings.HasPrefix(mediaType, strings.ToLower(skip)) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request budget exceeded", linkmeta.ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request budget exceeded", linkmeta.ErrTimeout)
	}
	return fmt.Errorf("%w: %v", linkmeta.ErrNetwork, err)
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
