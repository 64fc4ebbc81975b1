package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Registry memoizes one engine per department for the process lifetime.
// Concurrent first requests for a department share a single construction;
// failed constructions are not remembered, so the next request retries.
type Registry struct {
	factory Factory
	baseDir string
	logger  *slog.Logger

	mu      sync.RWMutex
	engines map[int64]Engine
	group   singleflight.Group
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry that builds engines from <baseDir>/<department>/processed
func NewRegistry(factory Factory, baseDir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory: factory,
		baseDir: baseDir,
		logger:  slog.Default(),
		engines: make(map[int64]Engine),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IndexPath returns the on-disk index location of a department
func (r *Registry) IndexPath(departmentID int64) string {
	return filepath.Join(r.baseDir, strconv.FormatInt(departmentID, 10), "processed")
}

// Get returns the department's engine, constructing it on first use.
// ctx only bounds how long the caller waits: construction keeps running for the other
// waiters if this caller gives up.
func (r *Registry) Get(ctx context.Context, departmentID int64) (Engine, error) {
	r.mu.RLock()
	eng, ok := r.engines[departmentID]
	r.mu.RUnlock()
	if ok {
		return eng, nil
	}

	key := strconv.FormatInt(departmentID, 10)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.construct(context.WithoutCancel(ctx), departmentID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) construct(ctx context.Context, departmentID int64) (Engine, error) {
	// A previous flight may have finished between the read check and DoChan.
	r.mu.RLock()
	eng, ok := r.engines[departmentID]
	r.mu.RUnlock()
	if ok {
		return eng, nil
	}

	path := r.IndexPath(departmentID)
	start := time.Now()

	eng, err := r.factory.Construct(ctx, path)
	if err == nil && eng == nil {
		err = ErrManifestInvalid
	}
	if err != nil {
		r.logger.Warn("retrieval engine construction failed",
			"department_id", departmentID,
			"index_path", path,
			"error", err,
		)
		return nil, &UnavailableError{DepartmentID: departmentID, Err: err}
	}

	r.mu.Lock()
	r.engines[departmentID] = eng
	r.mu.Unlock()

	r.logger.Info("retrieval engine ready",
		"department_id", departmentID,
		"index_path", path,
		"duration", time.Since(start),
	)
	return eng, nil
}

// Loaded returns the departments whose engines are constructed, in ascending order
func (r *Registry) Loaded() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
