package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release(time.Second) })
	return p
}

func TestPool_DoReturnsTaskResult(t *testing.T) {
	p := newPool(t, 2)
	boom := errors.New("boom")

	assert.NoError(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return boom }), boom)
}

func TestPool_DoRecoversPanics(t *testing.T) {
	p := newPool(t, 1)

	err := p.Do(context.Background(), func(ctx context.Context) error { panic("bad index") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad index")

	// the worker is still usable
	assert.NoError(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestPool_DoHonorsCancellation(t *testing.T) {
	p := newPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestPool_DoHonorsCancellationWhilePoolIsFull(t *testing.T) {
	p := newPool(t, 1)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	start := time.Now()
	err := p.Do(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPool_DoWaitsForWorkerHeldByGo(t *testing.T) {
	p := newPool(t, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Go(func() {
		close(started)
		<-release
	}))
	<-started

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestPool_GoFailsFastWhenFull(t *testing.T) {
	p := newPool(t, 1)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	require.NoError(t, p.Go(func() {
		close(started)
		<-release
	}))
	<-started

	start := time.Now()
	err := p.Go(func() {})
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPool_DoWithDoneContext(t *testing.T) {
	p := newPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	err := p.Do(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := newPool(t, 2)
	var running, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, p.Cap())
}

func TestPool_ClosedPool(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	require.NoError(t, p.Release(time.Second))

	assert.ErrorIs(t, p.Go(func() {}), ErrPoolClosed)
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
}
