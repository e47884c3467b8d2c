package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

func TestFetchHTMLPage(t *testing.T) {
	t.Parallel()

	body := "<html><head><title>hello</title></head><body>ok</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte(body), resp.Body)
	require.Contains(t, resp.ContentType, "text/html")
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchSkipsPDFWithoutReadingBody(t *testing.T) {
	t.Parallel()

	var bodyWritten atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// If the client aborted after headers this write fails silently;
		// either way the fetcher must not hand the body back.
		if _, err := w.Write([]byte("%PDF-1.4 ...")); err == nil {
			bodyWritten.Store(true)
		}
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, linkmeta.ErrSkippedContentType)
	require.Empty(t, resp.Body)
	require.Equal(t, "application/pdf", resp.ContentType)
}

func TestFetchTooLargeDeclaredLength(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("x", 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 1024}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, linkmeta.ErrTooLarge)
	require.Empty(t, resp.Body)
}

func TestFetchTooLargeStreamedBody(t *testing.T) {
	t.Parallel()

	// Chunked response with no Content-Length; overflow is detected after
	// the capped read.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := 0; i < 64; i++ {
			_, _ = w.Write([]byte(strings.Repeat("y", 64)))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 1024}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, linkmeta.ErrTooLarge)
	require.Empty(t, resp.Body)
}

func TestFetchNon2xxReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	var statusErr *linkmeta.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.Code)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := New(Config{}, nil)
	_, err := f.Fetch(context.Background(), url)
	require.ErrorIs(t, err, linkmeta.ErrNetwork)
}

func TestFetchCanceledContextWaitsForVisit(t *testing.T) {
	t.Parallel()

	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		close(handlerDone)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	f := New(Config{Timeout: time.Second}, nil)
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	// The visit must have fully unwound before Fetch returned.
	select {
	case <-handlerDone:
	default:
		t.Fatal("fetch returned while the request was still in flight")
	}
}

func TestShouldSkipMatchesPrefixes(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	require.True(t, f.shouldSkip("application/pdf"))
	require.True(t, f.shouldSkip("Application/PDF; charset=binary"))
	require.True(t, f.shouldSkip("image/png"))
	require.True(t, f.shouldSkip("video/mp4"))
	require.False(t, f.shouldSkip("text/html; charset=utf-8"))
	require.False(t, f.shouldSkip("application/xhtml+xml"))
}
