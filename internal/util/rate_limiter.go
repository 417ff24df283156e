package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/drallgood/audiohardshelf/internal/logger"
)

var (
	// ErrRateLimited is returned when the remote side answered 429
	ErrRateLimited = errors.New("rate limited")
	// DefaultRate is the default minimum time between requests
	DefaultRate = 200 * time.Millisecond
	// DefaultBurst is the default burst size
	DefaultBurst = 5
	// DefaultMaxConcurrent is the default cap on in-flight requests
	DefaultMaxConcurrent = 3
	// maxInterval bounds how far OnRateLimit can slow the limiter down
	maxInterval = 5 * time.Second

	timeNow = time.Now
)

// RateLimiter combines a token bucket with a cap on concurrent requests.
// The bucket interval grows when the server reports rate limiting and can be
// reset once requests succeed again.
type RateLimiter struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	interval     time.Duration
	minInterval  time.Duration
	lastRateDrop time.Time
	sem          chan struct{}
	log          *logger.Logger
}

// NewRateLimiter creates a limiter allowing one request per interval with the
// given burst, and at most maxConcurrent requests in flight.
func NewRateLimiter(interval time.Duration, burst, maxConcurrent int, log *logger.Logger) *RateLimiter {
	if interval <= 0 {
		interval = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if log == nil {
		log = logger.Get()
	}

	return &RateLimiter{
		limiter:     rate.NewLimiter(rate.Every(interval), burst),
		interval:    interval,
		minInterval: interval,
		sem:         make(chan struct{}, maxConcurrent),
		log:         log,
	}
}

// Wait blocks until a token is available or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Acquire waits for a token and a concurrency slot. The returned release
// function must be called once the request has finished.
func (r *RateLimiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := r.limiter.Wait(ctx); err != nil {
		<-r.sem
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-r.sem })
	}, nil
}

// OnRateLimit slows the limiter down and returns how long the caller should
// back off before retrying.
func (r *RateLimiter) OnRateLimit(retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := timeNow()
	factor := 1.2
	if now.Sub(r.lastRateDrop) < 5*time.Minute {
		factor = 1.5
	}
	r.interval = time.Duration(factor * float64(r.interval))
	if r.interval > maxInterval {
		r.interval = maxInterval
	}
	r.limiter.SetLimit(rate.Every(r.interval))
	r.lastRateDrop = now

	r.log.Warn("Rate limited, increasing delay between requests", map[string]interface{}{
		"new_interval": r.interval.String(),
		"retry_after":  retryAfter.String(),
	})

	if retryAfter > r.interval {
		return retryAfter
	}
	return r.interval
}

// ResetRate restores the configured interval.
func (r *RateLimiter) ResetRate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interval = r.minInterval
	r.limiter.SetLimit(rate.Every(r.interval))
}

// GetRate returns the current interval between requests.
func (r *RateLimiter) GetRate() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(header string) (time.Duration, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, fmt.Errorf("empty Retry-After header")
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative Retry-After: %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	when, err := http.ParseTime(header)
	if err != nil {
		return 0, fmt.Errorf("invalid Retry-After %q: %w", header, err)
	}
	d := when.Sub(timeNow())
	if d < 0 {
		d = 0
	}
	return d, nil
}

// IsRateLimitError reports whether err signals rate limiting.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
