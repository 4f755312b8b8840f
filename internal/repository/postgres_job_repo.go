package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// PostgresJobRepo はPostgreSQLを使用した求人リポジトリ。
type PostgresJobRepo struct {
	db *sql.DB
}

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

const jobColumns = `id, employer_id, title, category, description, location, lat, lng,
	job_date, job_time, pay, urgent, status, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*model.JobPosting, error) {
	j := &model.JobPosting{}
	var lat, lng sql.NullFloat64
	err := s.Scan(&j.ID, &j.EmployerID, &j.Title, &j.Category, &j.Description, &j.Location,
		&lat, &lng, &j.Date, &j.Time, &j.Pay, &j.Urgent, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		j.Lat = &lat.Float64
	}
	if lng.Valid {
		j.Lng = &lng.Float64
	}
	return j, nil
}

func (r *PostgresJobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]model.JobPosting, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]model.JobPosting, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
func (r *PostgresJobRepo) FindByID(ctx context.Context, id string) (*model.JobPosting, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return j, nil
}

// ListOpen は募集中の求人を新しい順に最大limit件返す。
func (r *PostgresJobRepo) ListOpen(ctx context.Context, limit int) ([]model.JobPosting, error) {
	jobs, err := r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'open'
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open jobs: %w", err)
	}
	return jobs, nil
}

// ListByEmployer は雇用主の求人を状態に関わらず新しい順に返す。
func (r *PostgresJobRepo) ListByEmployer(ctx context.Context, employerID string) ([]model.JobPosting, error) {
	jobs, err := r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE employer_id = $1
		 ORDER BY created_at DESC`,
		employerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list employer jobs: %w", err)
	}
	return jobs, nil
}

// Create は求人を作成する。
func (r *PostgresJobRepo) Create(ctx context.Context, j *model.JobPosting) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, employer_id, title, category, description, location, lat, lng,
		                   job_date, job_time, pay, urgent, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID, j.EmployerID, j.Title, j.Category, j.Description, j.Location, j.Lat, j.Lng,
		j.Date, j.Time, j.Pay, j.Urgent, j.Status, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return wrapInsertError("job", err)
	}
	return nil
}

// Delete は雇用主自身の求人を削除する。対象がない場合はfalseを返す。
func (r *PostgresJobRepo) Delete(ctx context.Context, id, employerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = $1 AND employer_id = $2`,
		id, employerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateStatus は雇用主自身の求人の状態を更新する。対象がない場合はfalseを返す。
func (r *PostgresJobRepo) UpdateStatus(ctx context.Context, id, employerID string, status model.JobStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $3, updated_at = now() WHERE id = $1 AND employer_id = $2`,
		id, employerID, status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ JobRepository = (*PostgresJobRepo)(nil)
