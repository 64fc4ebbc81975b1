// Package worker runs model-backed and background work on a bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolClosed is returned when work is submitted after Release
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrPoolFull is returned by Go when every worker is busy
	ErrPoolFull = errors.New("worker pool full")
)

// submitRetry is how long Do waits before retrying a submit that found no idle worker
const submitRetry = 5 * time.Millisecond

// Pool is a bounded pool of goroutines shared by all requests.
// Submission never blocks: Do waits for a slot under the caller's ctx and Go fails fast.
type Pool struct {
	pool   *ants.Pool
	slots  *semaphore.Weighted
	logger *slog.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pool with size workers. size < 1 means runtime.NumCPU().
func New(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		size = runtime.NumCPU()
	}

	p := &Pool{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			p.logger.Error("worker task panicked", "panic", fmt.Sprint(v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool
	p.slots = semaphore.NewWeighted(int64(size))
	return p, nil
}

// Do runs fn on a pool worker and waits for it. It returns ctx.Err() as soon as ctx is done,
// including while every worker is busy; fn receives the same ctx and is expected to stop on cancellation.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	task := func() {
		defer p.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- fn(ctx)
	}

	// Go tasks can hold workers the semaphore does not account for
	for {
		err := p.pool.Submit(task)
		if err == nil {
			break
		}
		if !errors.Is(err, ants.ErrPoolOverload) {
			p.slots.Release(1)
			if errors.Is(err, ants.ErrPoolClosed) {
				return ErrPoolClosed
			}
			return fmt.Errorf("failed to submit task: %w", err)
		}

		timer := time.NewTimer(submitRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.slots.Release(1)
			return ctx.Err()
		case <-timer.C:
		}
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go submits fn without waiting for it. It returns ErrPoolFull instead of blocking.
func (p *Pool) Go(fn func()) error {
	if err := p.pool.Submit(fn); err != nil {
		switch {
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		case errors.Is(err, ants.ErrPoolOverload):
			return ErrPoolFull
		}
		return fmt.Errorf("failed to submit task: %w", err)
	}
	return nil
}

// Running returns the number of busy workers
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap returns the pool size
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops accepting work and waits up to timeout for running tasks to finish
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}
