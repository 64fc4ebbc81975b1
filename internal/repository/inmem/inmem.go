// Package inmem provides in-memory implementations of the repository interfaces.
// They are safe for concurrent use and count calls so tests can assert on access patterns.
package inmem

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/knoguchi/deptrag/internal/repository"
)

// Store holds documents, categories, permission grants, query users and query history
type Store struct {
	mu         sync.RWMutex
	documents  []repository.Document
	categories []repository.Category
	grants     []repository.PermissionGrant
	users      map[int64]*repository.QueryUser
	history    []repository.QueryHistory

	// CreateErr, when set, makes every history Create fail with this error
	CreateErr error

	listCalls atomic.Int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{users: make(map[int64]*repository.QueryUser)}
}

// AddDocument adds a document to the catalog
func (s *Store) AddDocument(doc repository.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, doc)
}

// AddCategory adds a category
func (s *Store) AddCategory(cat repository.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, cat)
}

// Grant records a permission grant for a query user on a file
func (s *Store) Grant(queryUserID, fileID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.QueryUserID == queryUserID && g.FileID == fileID {
			return
		}
	}
	s.grants = append(s.grants, repository.PermissionGrant{
		ID:          int64(len(s.grants) + 1),
		QueryUserID: queryUserID,
		FileID:      fileID,
	})
}

// AddUser adds a query user account
func (s *Store) AddUser(user repository.QueryUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.users[user.ID] = &u
}

// ListFilenames implements repository.DocumentCatalog
func (s *Store) ListFilenames(ctx context.Context, departmentID int64, filter repository.FileFilter) ([]string, error) {
	s.listCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, d := range s.documents {
		if d.DepartmentID != departmentID {
			continue
		}
		if filter.IsPublic != nil && d.IsPublic != *filter.IsPublic {
			continue
		}
		if filter.IsVectorized != nil && d.IsVectorized != *filter.IsVectorized {
			continue
		}
		if len(filter.CategoryIDs) > 0 && (d.CategoryID == nil || !slices.Contains(filter.CategoryIDs, *d.CategoryID)) {
			continue
		}
		out = append(out, d.Filename)
	}
	return out, nil
}

// FindByFilename implements repository.DocumentCatalog
func (s *Store) FindByFilename(ctx context.Context, departmentID int64, filename string) (*repository.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.documents {
		if d.DepartmentID == departmentID && d.Filename == filename {
			doc := d
			return &doc, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ResolveCategoryIDByName implements repository.DocumentCatalog
func (s *Store) ResolveCategoryIDByName(ctx context.Context, departmentID int64, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if c.DepartmentID == departmentID && c.Name == name {
			return c.ID, nil
		}
	}
	return 0, repository.ErrNotFound
}

// ListGrantedFilenames implements repository.PermissionStore
func (s *Store) ListGrantedFilenames(ctx context.Context, queryUserID, departmentID int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, g := range s.grants {
		if g.QueryUserID != queryUserID {
			continue
		}
		for _, d := range s.documents {
			if d.ID == g.FileID && d.DepartmentID == departmentID && d.IsVectorized {
				out = append(out, d.Filename)
			}
		}
	}
	return out, nil
}

// GetByID implements repository.QueryUserRepository
func (s *Store) GetByID(ctx context.Context, id int64) (*repository.QueryUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := *u
	return &user, nil
}

// Create implements repository.QueryHistoryRepository
func (s *Store) Create(ctx context.Context, record *repository.QueryHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	if record == nil {
		return errors.New("nil query history record")
	}
	record.ID = int64(len(s.history) + 1)
	s.history = append(s.history, *record)
	return nil
}

// History returns a copy of the recorded query history
func (s *Store) History() []repository.QueryHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// ListCalls returns how many times ListFilenames was called
func (s *Store) ListCalls() int64 {
	return s.listCalls.Load()
}

var (
	_ repository.DocumentCatalog        = (*Store)(nil)
	_ repository.PermissionStore        = (*Store)(nil)
	_ repository.QueryUserRepository    = (*Store)(nil)
	_ repository.QueryHistoryRepository = (*Store)(nil)
)
