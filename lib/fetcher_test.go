package lib

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// TestNewFetcher tests the creation of a new fetcher with various options
func TestNewFetcher(t *testing.T) {
	t.Run("DefaultOptions", func(t *testing.T) {
		f := NewFetcher()
		assert.NotNil(t, f.Client)
		assert.NotNil(t, f.RateLimiter)
		assert.Equal(t, DefaultRetries, f.Retries)
		assert.Equal(t, DefaultRetryWait, f.RetryWait)
		assert.Equal(t, DefaultTimeout, f.Client.Timeout)
		assert.Equal(t, "imgdl/2.0", f.UserAgent)
	})

	t.Run("CustomOptions", func(t *testing.T) {
		proxy, _ := url.Parse("http://proxy.example.com")
		f := NewFetcher(
			WithRatePerSecond(5),
			WithBurst(10),
			WithProxyURL(proxy),
			WithTimeout(time.Minute),
			WithRetries(7),
			WithRetryWait(time.Second),
			WithUserAgent("custom/1.0"),
		)
		assert.Equal(t, rate.Limit(5), f.RateLimiter.Limit())
		assert.Equal(t, 10, f.RateLimiter.Burst())
		assert.Equal(t, time.Minute, f.Client.Timeout)
		assert.Equal(t, 7, f.Retries)
		assert.Equal(t, time.Second, f.RetryWait)
		assert.Equal(t, "custom/1.0", f.UserAgent)
	})
}

// TestFetchBytes tests the FetchBytes method
func TestFetchBytes(t *testing.T) {
	t.Run("SuccessfulFetch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "imgdl/2.0", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("image bytes"))
		}))
		defer server.Close()

		f := NewFetcher()
		body, contentType, err := f.FetchBytes(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "image bytes", string(body))
		assert.Equal(t, "image/png", contentType)
	})

	t.Run("FollowsRedirects", func(t *testing.T) {
		target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("after redirect"))
		}))
		defer target.Close()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, target.URL, http.StatusFound)
		}))
		defer server.Close()

		f := NewFetcher()
		body, _, err := f.FetchBytes(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "after redirect", string(body))
	})

	t.Run("RetriesThenSucceeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("third time lucky"))
		}))
		defer server.Close()

		f := NewFetcher(WithRetries(2), WithRetryWait(time.Millisecond))
		body, _, err := f.FetchBytes(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "third time lucky", string(body))
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		f := NewFetcher(WithRetries(2), WithRetryWait(time.Millisecond))
		_, _, err := f.FetchBytes(context.Background(), server.URL)
		require.Error(t, err)

		fetchErr, ok := err.(*FetchError)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
		// 1 initial attempt + 2 retries
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("ZeroRetriesMeansOneAttempt", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		f := NewFetcher(WithRetries(0), WithRetryWait(time.Millisecond))
		_, _, err := f.FetchBytes(context.Background(), server.URL)
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		f := NewFetcher(WithRetryWait(time.Millisecond))
		_, _, err := f.FetchBytes(ctx, server.URL)
		assert.Error(t, err)
	})

	t.Run("Accepts2xxBeyond200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte("accepted"))
		}))
		defer server.Close()

		f := NewFetcher()
		body, _, err := f.FetchBytes(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "accepted", string(body))
	})
}
