// Package resolver expands shortened URLs by following redirect chains to
// their final destination.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

// Config controls resolution bounds.
type Config struct {
	// MaxHops caps the redirect chain length.
	MaxHops int
	// Timeout is the total budget for the whole chain.
	Timeout time.Duration
	// UserAgent is sent on every hop.
	UserAgent string
}

// Resolver follows redirects with a hop cap and a per-call time budget. It
// performs no caching or logging side effects; the orchestrator owns those.
type Resolver struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Resolver. A nil transport uses a pooled default.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Resolver {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if transport == nil {
		transport = newTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{cfg: cfg, logger: logger}
	r.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxHops {
				return linkmeta.ErrTooManyRedirects
			}
			return nil
		},
	}
	return r
}

// Resolve follows the URL's redirect chain and returns the final URL. When
// no redirect occurs the input comes back unchanged. HEAD is tried first;
// servers that reject HEAD get one GET retry.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", linkmeta.ErrInvalidURL, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	final, status, err := r.attempt(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		r.logger.Debug("head rejected, retrying with get", zap.String("url", rawURL))
		final, _, err = r.attempt(ctx, http.MethodGet, rawURL)
		if err != nil {
			return "", err
		}
	}
	return final, nil
}

func (r *Resolver) attempt(ctx context.Context, method, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", linkmeta.ErrInvalidURL, rawURL)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, classify(err)
	}
	defer resp.Body.Close()

	return resp.Request.URL.String(), resp.StatusCode, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, linkmeta.ErrTooManyRedirects):
		return linkmeta.ErrTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: resolution budget exceeded", linkmeta.ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: resolution budget exceeded", linkmeta.ErrTimeout)
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
