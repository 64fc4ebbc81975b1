// Package audit persists one query history record per answered query.
// Recording is best effort: failures are logged and counted, never returned.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knoguchi/deptrag/internal/repository"
	"github.com/knoguchi/deptrag/internal/worker"
)

// QueryTypeSemantic is the query type recorded for retrieval queries
const QueryTypeSemantic = "semantic"

// DefaultTimeout bounds one history write
const DefaultTimeout = 5 * time.Second

// Entry describes the outcome of one query
type Entry struct {
	RequesterClass string
	DepartmentID   int64
	Query          string
	Answer         string
	ProcessingTime time.Duration
	SourceCount    int
	ExtraData      map[string]any
}

// Logger writes entries to the query history repository
type Logger struct {
	repo    repository.QueryHistoryRepository
	pool    *worker.Pool
	timeout time.Duration
	logger  *slog.Logger

	wg       sync.WaitGroup
	failures atomic.Int64
	written  atomic.Int64
	overflow atomic.Int64
}

// Option configures a Logger
type Option func(*Logger)

// WithPool makes Record asynchronous, writing on the given pool
func WithPool(pool *worker.Pool) Option {
	return func(l *Logger) {
		l.pool = pool
	}
}

// WithTimeout bounds each write
func WithTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLogger creates an audit logger
func NewLogger(repo repository.QueryHistoryRepository, opts ...Option) *Logger {
	l := &Logger{
		repo:    repo,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record persists e. It never fails and never panics. With a pool the write happens in the
// background and outlives ctx cancellation; without one it completes before Record returns.
// Record does not wait for a busy pool: the write then runs on its own goroutine.
func (l *Logger) Record(ctx context.Context, e Entry) {
	ctx = context.WithoutCancel(ctx)

	if l.pool == nil {
		l.write(ctx, e)
		return
	}

	l.wg.Add(1)
	task := func() {
		defer l.wg.Done()
		l.write(ctx, e)
	}
	err := l.pool.Go(task)
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrPoolFull):
		l.overflow.Add(1)
		go task()
	default:
		l.wg.Done()
		l.logger.Warn("audit pool unavailable, writing inline", "error", err)
		l.write(ctx, e)
	}
}

func (l *Logger) write(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.fail(e, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	record := &repository.QueryHistory{
		DepartmentID:   e.DepartmentID,
		Query:          e.Query,
		Answer:         e.Answer,
		ProcessingTime: e.ProcessingTime.Seconds(),
		SourceCount:    e.SourceCount,
		QueryType:      QueryTypeSemantic,
		Scope:          e.RequesterClass,
		ExtraData:      e.ExtraData,
	}
	if err := l.repo.Create(ctx, record); err != nil {
		l.fail(e, err)
		return
	}

	l.written.Add(1)
	l.logger.Debug("query history saved",
		"query_id", record.ID,
		"department_id", e.DepartmentID,
		"scope", e.RequesterClass,
	)
}

func (l *Logger) fail(e Entry, err error) {
	l.failures.Add(1)
	l.logger.Error("failed to save query history",
		"department_id", e.DepartmentID,
		"scope", e.RequesterClass,
		"error", err,
	)
}

// Failures returns how many writes have failed
func (l *Logger) Failures() int64 {
	return l.failures.Load()
}

// Written returns how many writes have succeeded
func (l *Logger) Written() int64 {
	return l.written.Load()
}

// Overflow returns how many writes ran outside the pool because it was full
func (l *Logger) Overflow() int64 {
	return l.overflow.Load()
}

// Close waits for pending background writes
func (l *Logger) Close() {
	l.wg.Wait()
}
