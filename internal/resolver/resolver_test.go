package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

func TestResolveFollowsRedirectChain(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := New(Config{MaxHops: 10, Timeout: 5 * time.Second}, nil, nil)
	final, err := r.Resolve(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/final", final)
}

func TestResolveNoRedirectReturnsInput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{}, nil, nil)
	final, err := r.Resolve(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/page", final)
}

func TestResolveTooManyRedirects(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	hop := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hop++
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", hop), http.StatusFound)
	}))
	defer srv.Close()

	r := New(Config{MaxHops: 3, Timeout: 5 * time.Second}, nil, nil)
	_, err := r.Resolve(context.Background(), srv.URL)
	require.ErrorIs(t, err, linkmeta.ErrTooManyRedirects)
}

func TestResolveInvalidURL(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil, nil)
	_, err := r.Resolve(context.Background(), "not a url")
	require.ErrorIs(t, err, linkmeta.ErrInvalidURL)

	_, err = r.Resolve(context.Background(), "/relative")
	require.ErrorIs(t, err, linkmeta.ErrInvalidURL)
}

func TestResolveTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{Timeout: 50 * time.Millisecond}, nil, nil)
	_, err := r.Resolve(context.Background(), srv.URL)
	require.ErrorIs(t, err, linkmeta.ErrTimeout)
}

func TestResolveHeadFallsBackToGet(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		http.Redirect(w, r, "/expanded", http.StatusFound)
	})
	mux.HandleFunc("/expanded", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := New(Config{}, nil, nil)
	final, err := r.Resolve(context.Background(), srv.URL+"/short")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/expanded", final)
}

func TestResolveNetworkError(t *testing.T) {
	t.Parallel()

	// Closed server port.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	r := New(Config{Timeout: 2 * time.Second}, nil, nil)
	_, err := r.Resolve(context.Background(), url)
	require.ErrorIs(t, err, linkmeta.ErrNetwork)
}
