package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(r *Retrier) *Retrier {
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetrierRetriesOnlyConnectionErrors(t *testing.T) {
	r := noSleep(NewRetrier(DefaultRetryConfig()))
	connErr := &remote.ConnectionError{Op: "call", Err: errors.New("timeout")}

	calls := 0
	attempts, err := r.Do(context.Background(), "call", func(context.Context) error {
		calls++
		if calls < 3 {
			return connErr
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts, err = r.Do(context.Background(), "call", func(context.Context) error {
		return &remote.RemoteError{Op: "call", Code: 1, Message: "bad value"}
	})
	assert.True(t, remote.IsRemote(err))
	assert.Equal(t, 1, attempts)

	attempts, err = r.Do(context.Background(), "call", func(context.Context) error { return connErr })
	assert.Equal(t, 4, attempts)
	assert.True(t, remote.IsConnection(err), "exhausted retries keep the error class")
}

func TestCalculateBackoff(t *testing.T) {
	r := NewRetrier(RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2})
	assert.Equal(t, 100*time.Millisecond, r.CalculateBackoff(0))
	assert.Equal(t, 400*time.Millisecond, r.CalculateBackoff(2))
	assert.Equal(t, time.Second, r.CalculateBackoff(10))

	j := NewRetrier(RetryConfig{InitialBackoff: 100 * time.Millisecond, BackoffFactor: 2, Jitter: 0.5})
	for i := 0; i < 50; i++ {
		d := j.CalculateBackoff(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestRetrierStopsOnContext(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, InitialBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := r.Do(ctx, "call", func(context.Context) error {
		return &remote.ConnectionError{Op: "call", Err: errors.New("down")}
	})
	assert.Equal(t, 1, attempts)
	assert.Error(t, err)
}

func TestPool(t *testing.T) {
	p := NewPool(2, 4)
	var n atomic.Int32
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	p.Close()
	assert.EqualValues(t, 4, n.Load())
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPoolQueueFull(t *testing.T) {
	p := NewPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(started); <-block }))
	<-started
	require.NoError(t, p.Submit(func() {}))
	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueFull)
	close(block)
	p.Close()
}

func TestTokenCancelOnce(t *testing.T) {
	var tok Token
	assert.False(t, tok.Cancelled())
	assert.True(t, tok.Cancel())
	assert.False(t, tok.Cancel())
	assert.True(t, tok.Cancelled())
	assert.False(t, tok.Seal(), "cancel won the race")

	var sealed Token
	assert.True(t, sealed.Seal())
	assert.True(t, sealed.Seal())
	assert.False(t, sealed.Cancel())
	assert.False(t, sealed.Cancelled())
}
