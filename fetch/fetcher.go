// Package fetch provides the "fetch bytes from URL" primitive used to talk to
// package repositories: an HTTP fetcher with a DNS cache and bounded retry
// pacing, a per-host circuit breaker, and a transport dispatching on URL
// scheme.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
)

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream repository unavailable")
	ErrBadStatus    = errors.New("unexpected response status")
	ErrTooLarge     = errors.New("response exceeds size limit")
)

// DefaultMaxSize bounds a single response body.
const DefaultMaxSize int64 = 512 << 20

// Getter fetches the full body at a URL.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Fetcher downloads repository files over HTTP(S).
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxSize    int64

	stop      chan struct{}
	closeOnce sync.Once
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets how many times a rate-limited or 5xx response is
// retried. The default is zero: callers decide whether to re-run an
// operation.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the first delay of the exponential retry schedule.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithMaxSize bounds the response body size.
func WithMaxSize(n int64) Option {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.client.Timeout = d
	}
}

// NewFetcher creates a new Fetcher with the given options. Close stops its
// DNS refresh goroutine.
func NewFetcher(opts ...Option) *Fetcher {
	resolver := &dnscache.Resolver{}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					var lastErr error
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
						lastErr = err
					}
					return nil, fmt.Errorf("failed to dial any resolved IP for %s: %w", host, lastErr)
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:  "hkg/1.0",
		maxRetries: 0,
		baseDelay:  500 * time.Millisecond,
		maxSize:    DefaultMaxSize,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close stops background DNS refreshing. It is safe to call more than once.
func (f *Fetcher) Close() error {
	f.closeOnce.Do(func() { close(f.stop) })
	return nil
}

// Get downloads the body at url.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = f.baseDelay
	schedule.MaxInterval = 30 * time.Second
	schedule.MaxElapsedTime = 0
	schedule.RandomizationFactor = 0.1
	schedule.Reset()

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(schedule.NextBackOff()):
			}
		}

		body, err := f.doGet(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// Retry on rate limit and server errors only
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (f *Fetcher) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return readLimited(resp.Body, f.maxSize)

	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", url, ErrRateLimited)

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: %w (status %d)", url, ErrUpstreamDown, resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s: %w %d: %s", url, ErrBadStatus, resp.StatusCode, string(body))
	}
}

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) > maxSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxSize)
	}
	return body, nil
}
