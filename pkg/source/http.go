package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPSource reads snapshots from a static file host.
type HTTPSource struct {
	base    string
	http    *http.Client
	retries int
	backoff BackoffStrategy
	limiter *rate.Limiter
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.http = c
		}
	}
}

// WithRetries sets how many times a transport error or 5xx is retried.
func WithRetries(n int) HTTPOption {
	return func(s *HTTPSource) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithBackoff sets the wait strategy between retries.
func WithBackoff(b BackoffStrategy) HTTPOption {
	return func(s *HTTPSource) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithRateLimit caps requests per second, with a burst of one.
func WithRateLimit(perSecond float64) HTTPOption {
	return func(s *HTTPSource) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		base:    strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		retries: 2,
		backoff: DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) Name() string { return "http:" + s.base }

// Get fetches {base}/{key}. 4xx responses other than 429 fail immediately;
// transport errors, 429 and 5xx responses are retried with backoff until the
// retry budget or ctx runs out. A Retry-After header can lengthen the wait.
func (s *HTTPSource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	url := s.base + "/" + k

	var (
		lastErr error
		hint    time.Duration
	)
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay(s.backoff, attempt-1, hint)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, retry, err := s.do(ctx, k, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		hint = 0
		if se, ok := err.(*StatusError); ok {
			hint = se.RetryAfter
		}
		if !retry {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *HTTPSource) do(ctx context.Context, key, url string) (io.ReadCloser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("source: build request for %s: %w", key, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("source: get %s: %w", key, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, false, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return nil, retry, &StatusError{
		Key:        key,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}
