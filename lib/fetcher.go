package lib

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DefaultRetries is the number of retries after a failed download attempt.
const DefaultRetries = 2

// DefaultRetryWait is the constant delay between download attempts.
const DefaultRetryWait = 200 * time.Millisecond

// DefaultTimeout bounds one whole request, redirects included.
const DefaultTimeout = 60 * time.Second

// userAgent is sent with every request.
const userAgent = "imgdl/2.0"

// Connection pool bounds. The pool is shared process-wide by every download,
// independent of the task concurrency limits, so no single host is flooded.
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 8
	defaultMaxConnsPerHost     = 16
)

// Fetcher performs HTTP GETs with redirect following, optional rate limiting,
// and constant-backoff retries. One Fetcher and its connection pool are shared
// by all downloads of a run.
type Fetcher struct {
	Client      *http.Client
	RateLimiter *rate.Limiter
	Retries     int
	RetryWait   time.Duration
	UserAgent   string

	// newBackOff, when set, supplies the retry policy for each call instead
	// of the constant Retries/RetryWait pair.
	newBackOff func() backoff.BackOff
}

// FetchError is returned for responses outside the 2xx range.
type FetchError struct {
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// FetcherOption mutates a Fetcher under construction.
type FetcherOption func(*Fetcher)

// WithRatePerSecond limits outgoing requests to n per second. The default is
// no rate limit; downloads are bounded by the coordinator's semaphore.
func WithRatePerSecond(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.RateLimiter = rate.NewLimiter(rate.Limit(n), n)
		}
	}
}

// WithBurst sets the rate limiter burst size.
func WithBurst(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.RateLimiter.SetBurst(n)
		}
	}
}

// WithProxyURL routes requests through the given proxy.
func WithProxyURL(u *url.URL) FetcherOption {
	return func(f *Fetcher) {
		if u != nil {
			if t, ok := f.Client.Transport.(*http.Transport); ok {
				t.Proxy = http.ProxyURL(u)
			}
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.Client.Timeout = d
		}
	}
}

// WithRetries sets how many times a failed attempt is retried. Zero disables
// retries; negative values keep the default.
func WithRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.Retries = n
		}
	}
}

// WithRetryWait sets the constant delay between attempts.
func WithRetryWait(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.RetryWait = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.UserAgent = ua
		}
	}
}

// WithBackOff replaces the constant retry policy. The factory is invoked once
// per fetch so concurrent fetches never share backoff state.
func WithBackOff(factory func() backoff.BackOff) FetcherOption {
	return func(f *Fetcher) {
		f.newBackOff = factory
	}
}

// NewFetcher creates a Fetcher with the given options applied over the
// defaults.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
	}
	f := &Fetcher{
		Client:      &http.Client{Transport: transport, Timeout: DefaultTimeout},
		RateLimiter: rate.NewLimiter(rate.Inf, 1),
		Retries:     DefaultRetries,
		RetryWait:   DefaultRetryWait,
		UserAgent:   userAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchBytes GETs url, following redirects, and returns the body together
// with the declared Content-Type. Failed attempts are retried under the
// fetcher's backoff policy; once attempts are exhausted the last error is
// returned.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, string, error) {
	var body []byte
	var contentType string

	operation := func() error {
		if err := f.RateLimiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, ct, err := f.fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body, contentType = b, ct
		return nil
	}

	if err := backoff.Retry(operation, f.backOff()); err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

func (f *Fetcher) backOff() backoff.BackOff {
	if f.newBackOff != nil {
		return f.newBackOff()
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(f.RetryWait), uint64(f.Retries))
}

// fetch performs one HTTP GET attempt.
func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return nil, "", &FetchError{StatusCode: res.StatusCode}
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	return data, res.Header.Get("Content-Type"), nil
}
