package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/deptrag/internal/repository"
)

// DocumentRepo implements repository.DocumentCatalog over the files and categories tables
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document catalog repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// ListFilenames returns the original filenames of department files matching the filter
func (r *DocumentRepo) ListFilenames(ctx context.Context, departmentID int64, filter repository.FileFilter) ([]string, error) {
	query, args := buildListFilenamesQuery(departmentID, filter)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list filenames: %w", err)
	}

	filenames, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan filenames: %w", err)
	}
	return filenames, nil
}

func buildListFilenamesQuery(departmentID int64, filter repository.FileFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT original_filename FROM files WHERE department_id = $1`)
	args := []any{departmentID}

	if filter.IsPublic != nil {
		args = append(args, *filter.IsPublic)
		fmt.Fprintf(&sb, ` AND is_public = $%d`, len(args))
	}
	if filter.IsVectorized != nil {
		args = append(args, *filter.IsVectorized)
		fmt.Fprintf(&sb, ` AND is_vectorized = $%d`, len(args))
	}
	if len(filter.CategoryIDs) > 0 {
		args = append(args, filter.CategoryIDs)
		fmt.Fprintf(&sb, ` AND category_id = ANY($%d)`, len(args))
	}

	return sb.String(), args
}

// FindByFilename retrieves a department file by its original filename
func (r *DocumentRepo) FindByFilename(ctx context.Context, departmentID int64, filename string) (*repository.Document, error) {
	query := `
		SELECT id, department_id, category_id, original_filename, is_public, is_vectorized
		FROM files
		WHERE department_id = $1 AND original_filename = $2
		ORDER BY id
		LIMIT 1
	`
	var doc repository.Document
	err := r.db.Pool.QueryRow(ctx, query, departmentID, filename).Scan(
		&doc.ID, &doc.DepartmentID, &doc.CategoryID, &doc.Filename, &doc.IsPublic, &doc.IsVectorized,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// ResolveCategoryIDByName returns the id of the department category with the given name
func (r *DocumentRepo) ResolveCategoryIDByName(ctx context.Context, departmentID int64, name string) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id FROM categories WHERE department_id = $1 AND name = $2 ORDER BY id LIMIT 1`,
		departmentID, name,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("failed to resolve category: %w", err)
	}
	return id, nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentCatalog = (*DocumentRepo)(nil)
