package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// PostgresApplicationRepo はPostgreSQLを使用した応募リポジトリ。
type PostgresApplicationRepo struct {
	db *sql.DB
}

// NewPostgresApplicationRepo はPostgresApplicationRepoを生成する。
func NewPostgresApplicationRepo(db *sql.DB) *PostgresApplicationRepo {
	return &PostgresApplicationRepo{db: db}
}

// Create は応募を作成する。(job_id, worker_id) のユニーク制約違反はErrDuplicateになる。
func (r *PostgresApplicationRepo) Create(ctx context.Context, a *model.Application) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_applications (id, job_id, worker_id, status, message, applied_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.JobID, a.WorkerID, a.Status, a.Message, a.AppliedAt, a.UpdatedAt,
	)
	if err != nil {
		return wrapInsertError("application", err)
	}
	return nil
}

// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) FindByID(ctx context.Context, id string) (*model.Application, error) {
	a := &model.Application{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, job_id, worker_id, status, message, applied_at, updated_at
		 FROM job_applications WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.JobID, &a.WorkerID, &a.Status, &a.Message, &a.AppliedAt, &a.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find application: %w", err)
	}
	return a, nil
}

// ListByJob は求人への応募を応募者情報付きで返す。
// プロフィール未作成の応募者も含めるためLEFT JOINする。
func (r *PostgresApplicationRepo) ListByJob(ctx context.Context, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.job_id, a.worker_id, a.status, a.message, a.applied_at, a.updated_at,
		        COALESCE(p.display_name, ''), COALESCE(p.phone, ''), COALESCE(p.location, '')
		 FROM job_applications a
		 LEFT JOIN profiles p ON p.account_id = a.worker_id
		 WHERE a.job_id = $1 AND ($2 = '' OR a.status = $2)
		 ORDER BY a.applied_at DESC`,
		jobID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job applications: %w", err)
	}
	defer rows.Close()

	result := make([]model.ApplicationWithWorker, 0)
	for rows.Next() {
		var aw model.ApplicationWithWorker
		if err := rows.Scan(
			&aw.ID, &aw.JobID, &aw.WorkerID, &aw.Status, &aw.Message, &aw.AppliedAt, &aw.UpdatedAt,
			&aw.WorkerName, &aw.WorkerPhone, &aw.WorkerLocation,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job application: %w", err)
		}
		result = append(result, aw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job applications: %w", err)
	}
	return result, nil
}

// ListByWorker は労働者の応募を応募日時の新しい順に返す。
func (r *PostgresApplicationRepo) ListByWorker(ctx context.Context, workerID string) ([]model.Application, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, job_id, worker_id, status, message, applied_at, updated_at
		 FROM job_applications
		 WHERE worker_id = $1
		 ORDER BY applied_at DESC`,
		workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker applications: %w", err)
	}
	defer rows.Close()

	result := make([]model.Application, 0)
	for rows.Next() {
		var a model.Application
		if err := rows.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.Status, &a.Message, &a.AppliedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan worker application: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate worker applications: %w", err)
	}
	return result, nil
}

// UpdateStatus は状態がfromの応募をtoに更新する。該当しない場合はfalseを返す。
func (r *PostgresApplicationRepo) UpdateStatus(ctx context.Context, id string, from, to model.ApplicationStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE job_applications SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update application status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ ApplicationRepository = (*PostgresApplicationRepo)(nil)
