package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/deptrag/internal/repository"
)

// QueryUserRepo implements repository.QueryUserRepository
type QueryUserRepo struct {
	db *DB
}

// NewQueryUserRepo creates a new query user repository
func NewQueryUserRepo(db *DB) *QueryUserRepo {
	return &QueryUserRepo{db: db}
}

// GetByID retrieves a query user by ID
func (r *QueryUserRepo) GetByID(ctx context.Context, id int64) (*repository.QueryUser, error) {
	query := `
		SELECT id, username, default_department_id, status, is_active
		FROM query_users
		WHERE id = $1
	`
	var user repository.QueryUser
	var status string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.DefaultDepartmentID, &status, &user.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query user: %w", err)
	}
	user.Status = repository.QueryUserStatus(status)
	return &user, nil
}

var _ repository.QueryUserRepository = (*QueryUserRepo)(nil)
