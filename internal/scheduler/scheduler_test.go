package scheduler

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/audiohardshelf/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "debug", Output: &bytes.Buffer{}})
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "60", want: "@every 60m"},
		{in: " 15 ", want: "@every 15m"},
		{in: "30m", want: "@every 30m0s"},
		{in: "1h30m", want: "@every 1h30m0s"},
		{in: "*/15 * * * *", want: "*/15 * * * *"},
		{in: "0 3 * * 1-5", want: "0 3 * * 1-5"},
		{in: "@hourly", want: "@hourly"},
		{in: "", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "10ms", wantErr: true},
		{in: "every day", wantErr: true},
		{in: "* * * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSchedule("  ")
	assert.ErrorIs(t, err, ErrEmptySchedule)
}

func TestNew_InvalidSchedule(t *testing.T) {
	s, err := New("nonsense", func(context.Context) {}, testLogger())
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestScheduler_RunNowDoesNotOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	s, err := New("60", func(context.Context) {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
	}, testLogger())
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- s.RunNow() }()

	<-started
	assert.True(t, s.IsSyncing())
	assert.False(t, s.RunNow(), "second run is skipped while the first is in progress")

	close(release)
	assert.True(t, <-done)
	assert.False(t, s.IsSyncing())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_StartStop(t *testing.T) {
	var jobCtx atomic.Value
	s, err := New("1s", func(ctx context.Context) {
		jobCtx.Store(ctx)
	}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, s.NextRun())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "starting twice is a no-op")
	assert.True(t, s.IsRunning())

	next := s.NextRun()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now(), *next, 2*time.Second)

	require.Eventually(t, func() bool { return jobCtx.Load() != nil }, 3*time.Second, 20*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.NextRun())

	ctx := jobCtx.Load().(context.Context)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	s.Stop()
}
