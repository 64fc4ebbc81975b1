package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/knoguchi/deptrag/internal/repository"
)

// rollbackTimeout bounds a rollback that runs after the write context has ended
const rollbackTimeout = 5 * time.Second

// QueryHistoryRepo implements repository.QueryHistoryRepository
type QueryHistoryRepo struct {
	db *DB
}

// NewQueryHistoryRepo creates a new query history repository
func NewQueryHistoryRepo(db *DB) *QueryHistoryRepo {
	return &QueryHistoryRepo{db: db}
}

// Create appends a query history record in its own transaction.
// The transaction is rolled back if the insert or commit fails.
func (r *QueryHistoryRepo) Create(ctx context.Context, record *repository.QueryHistory) (err error) {
	extraJSON, err := json.Marshal(record.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to marshal extra data: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			rbCtx, cancel := rollbackContext(ctx)
			defer cancel()
			_ = tx.Rollback(rbCtx)
		}
	}()

	query := `
		INSERT INTO query_history (user_id, department_id, query, answer, processing_time, source_count, query_type, scope, extra_data, created_at)
		VALUES (NULL, $1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		record.DepartmentID, record.Query, record.Answer, record.ProcessingTime,
		record.SourceCount, record.QueryType, record.Scope, extraJSON,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert query history: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit query history: %w", err)
	}
	return nil
}

// rollbackContext keeps ctx values but not its deadline or cancellation,
// so a write that timed out can still release its transaction.
func rollbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}

var _ repository.QueryHistoryRepository = (*QueryHistoryRepo)(nil)
