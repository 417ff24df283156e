package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/audiohardshelf/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Output: &discard{}})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, testLogger())
	assert.Equal(t, DefaultRate, rl.GetRate())
	assert.Equal(t, DefaultMaxConcurrent, cap(rl.sem))
}

func TestRateLimiter_WaitHonoursBurst(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 2, 1, testLogger())
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx), "third request should not fit in the burst")
}

func TestRateLimiter_AcquireCapsConcurrency(t *testing.T) {
	rl := NewRateLimiter(time.Millisecond, 100, 2, testLogger())
	ctx := context.Background()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := rl.Acquire(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRateLimiter_AcquireCancelled(t *testing.T) {
	rl := NewRateLimiter(time.Millisecond, 1, 1, testLogger())

	release, err := rl.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rl.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	release()
	release() // second call is a no-op

	release, err = rl.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestRateLimiter_OnRateLimitAndReset(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 1, 1, testLogger())

	backoff := rl.OnRateLimit(0)
	assert.Greater(t, rl.GetRate(), 100*time.Millisecond)
	assert.Equal(t, rl.GetRate(), backoff)

	backoff = rl.OnRateLimit(10 * time.Second)
	assert.Equal(t, 10*time.Second, backoff)

	for i := 0; i < 50; i++ {
		rl.OnRateLimit(0)
	}
	assert.Equal(t, maxInterval, rl.GetRate())

	rl.ResetRate()
	assert.Equal(t, 100*time.Millisecond, rl.GetRate())
}

func TestParseRetryAfter(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	oldNow := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = oldNow }()

	tests := []struct {
		name    string
		header  string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", header: "30", want: 30 * time.Second},
		{name: "http date", header: fixed.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "date in the past", header: fixed.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "empty", header: "", wantErr: true},
		{name: "negative", header: "-5", wantErr: true},
		{name: "garbage", header: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetryAfter(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(ErrRateLimited))
	assert.True(t, IsRateLimitError(fmt.Errorf("request failed: %w", ErrRateLimited)))
	assert.False(t, IsRateLimitError(errors.New("rate limited")))
	assert.False(t, IsRateLimitError(nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "", ErrorMessage(nil))
	assert.Equal(t, "boom", ErrorMessage(errors.New("boom")))
	assert.Equal(t, "unknown error", ErrorMessage(errors.New("")))
}

func TestPanicError(t *testing.T) {
	base := errors.New("nil map")
	err := fmt.Errorf("book failed: %w", &PanicError{Value: base})

	assert.True(t, IsPanic(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "panic: nil map")

	assert.Equal(t, "panic: oops", (&PanicError{Value: "oops"}).Error())
	assert.False(t, IsPanic(errors.New("plain")))
}
