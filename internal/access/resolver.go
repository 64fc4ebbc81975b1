package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/knoguchi/deptrag/internal/repository"
	"golang.org/x/sync/errgroup"
)

// DefaultCatchAllCategory is the reserved name of a department's catch-all category
const DefaultCatchAllCategory = "other"

// EmptyReason tells which stage emptied the allowed set
type EmptyReason int

const (
	// NotEmpty means the allowed set has at least one filename
	NotEmpty EmptyReason = iota
	// EmptyIdentity means no public or granted document exists for the requester
	EmptyIdentity
	// EmptyCategory means documents exist but none survive the category filter
	EmptyCategory
)

func (e EmptyReason) String() string {
	switch e {
	case NotEmpty:
		return "not_empty"
	case EmptyIdentity:
		return "identity"
	case EmptyCategory:
		return "category"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of scope resolution
type Resolution struct {
	Allowed AllowedSet
	Empty   EmptyReason
}

// IsEmpty reports whether retrieval must be skipped
func (r Resolution) IsEmpty() bool {
	return r.Empty != NotEmpty
}

// Resolver computes the documents a requester may query in a department
type Resolver struct {
	catalog     repository.DocumentCatalog
	permissions repository.PermissionStore
	catchAll    string
	logger      *slog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCatchAllCategory sets the reserved catch-all category name
func WithCatchAllCategory(name string) Option {
	return func(r *Resolver) {
		if name != "" {
			r.catchAll = name
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver over the catalog and permission store
func NewResolver(catalog repository.DocumentCatalog, permissions repository.PermissionStore, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:     catalog,
		permissions: permissions,
		catchAll:    DefaultCatchAllCategory,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the allowed set for requester in departmentID, optionally narrowed to categoryIDs.
//
// The base set is the department's public vectorized files, plus the requester's granted
// vectorized files when authenticated. Category filtering intersects that base with files in
// categoryIDs or the catch-all category, so it can only remove documents from the base.
func (r *Resolver) Resolve(ctx context.Context, requester repository.Requester, departmentID int64, categoryIDs []int64) (Resolution, error) {
	switch requester.Kind {
	case repository.RequesterAnonymous, repository.RequesterQueryUser:
	default:
		return Resolution{}, fmt.Errorf("unknown requester kind %d", requester.Kind)
	}

	var public, permitted, categoryFiltered AllowedSet
	filtering := len(categoryIDs) > 0

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		names, err := r.catalog.ListFilenames(gctx, departmentID, repository.FileFilter{
			IsPublic:     repository.Bool(true),
			IsVectorized: repository.Bool(true),
		})
		if err != nil {
			return fmt.Errorf("listing public files: %w", err)
		}
		public = NewAllowedSet(names...)
		return nil
	})

	if requester.Kind == repository.RequesterQueryUser {
		g.Go(func() error {
			names, err := r.permissions.ListGrantedFilenames(gctx, requester.UserID, departmentID)
			if err != nil {
				return fmt.Errorf("listing granted files: %w", err)
			}
			permitted = NewAllowedSet(names...)
			return nil
		})
	}

	if filtering {
		g.Go(func() error {
			set, err := r.categoryFiltered(gctx, requester, departmentID, categoryIDs)
			if err != nil {
				return err
			}
			categoryFiltered = set
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	base := public.Union(permitted)
	if base.Empty() {
		return Resolution{Allowed: base, Empty: EmptyIdentity}, nil
	}

	if filtering {
		base = base.Intersect(categoryFiltered)
		if base.Empty() {
			return Resolution{Allowed: base, Empty: EmptyCategory}, nil
		}
	}

	r.logger.Debug("resolved access scope",
		"department_id", departmentID,
		"requester", requester.Class(),
		"public", public.Len(),
		"permitted", permitted.Len(),
		"allowed", base.Len(),
	)

	return Resolution{Allowed: base, Empty: NotEmpty}, nil
}

// categoryFiltered lists vectorized department files in categoryIDs or the catch-all category.
// Anonymous requesters only see public files.
func (r *Resolver) categoryFiltered(ctx context.Context, requester repository.Requester, departmentID int64, categoryIDs []int64) (AllowedSet, error) {
	target := dedupe(categoryIDs)

	catchAllID, err := r.catalog.ResolveCategoryIDByName(ctx, departmentID, r.catchAll)
	switch {
	case err == nil:
		target = appendUnique(target, catchAllID)
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("resolving catch-all category: %w", err)
	}

	filter := repository.FileFilter{
		IsVectorized: repository.Bool(true),
		CategoryIDs:  target,
	}
	if requester.Kind == repository.RequesterAnonymous {
		filter.IsPublic = repository.Bool(true)
	}

	names, err := r.catalog.ListFilenames(ctx, departmentID, filter)
	if err != nil {
		return nil, fmt.Errorf("listing category files: %w", err)
	}
	return NewAllowedSet(names...), nil
}

func dedupe(ids []int64) []int64 {
	out := make([]int64, 0, len(ids)+1)
	for _, id := range ids {
		out = appendUnique(out, id)
	}
	return out
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
