package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/deptrag/internal/repository"
)

// PermissionRepo implements repository.PermissionStore over the file_permissions table
type PermissionRepo struct {
	db *DB
}

// NewPermissionRepo creates a new permission repository
func NewPermissionRepo(db *DB) *PermissionRepo {
	return &PermissionRepo{db: db}
}

// ListGrantedFilenames returns filenames of vectorized department files granted to the user
func (r *PermissionRepo) ListGrantedFilenames(ctx context.Context, queryUserID, departmentID int64) ([]string, error) {
	query := `
		SELECT f.original_filename
		FROM files f
		JOIN file_permissions p ON p.file_id = f.id
		WHERE p.query_user_id = $1
		  AND f.department_id = $2
		  AND f.is_vectorized = TRUE
	`
	rows, err := r.db.Pool.Query(ctx, query, queryUserID, departmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list granted files: %w", err)
	}

	filenames, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan granted files: %w", err)
	}
	return filenames, nil
}

var _ repository.PermissionStore = (*PermissionRepo)(nil)
