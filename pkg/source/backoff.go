package source

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfter bounds how long a host may ask us to wait before a retry.
const maxRetryAfter = 30 * time.Second

// BackoffStrategy defines how long to wait before a retry.
type BackoffStrategy interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows the wait by Factor per attempt, capped at Max,
// then spreads it by up to +/- Jitter.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0.0 to 1.0
}

// DefaultBackoff returns the strategy used by remote snapshot sources:
// 100ms base, doubling up to 5s, 20% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before retry number attempt (0-based).
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := math.Min(float64(b.Base)*math.Pow(b.Factor, float64(attempt)), float64(b.Max))
	if b.Jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(math.Max(delay, 0))
}

// retryDelay is the wait before the next attempt: the strategy's delay, or
// the host's Retry-After hint when that is longer.
func retryDelay(b BackoffStrategy, attempt int, hint time.Duration) time.Duration {
	d := b.Next(attempt)
	if hint > d {
		return hint
	}
	return d
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing or malformed values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}
	switch {
	case d < 0:
		return 0
	case d > maxRetryAfter:
		return maxRetryAfter
	}
	return d
}
