package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用した集計リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// Counts は労働者数・求人数・終了済み求人数を1クエリで取得する。
func (r *PostgresStatsRepo) Counts(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM profiles WHERE role = 'worker'),
		   (SELECT count(*) FROM jobs),
		   (SELECT count(*) FROM jobs WHERE status = 'closed')`,
	).Scan(&c.Workers, &c.Jobs, &c.ClosedJobs)
	if err != nil {
		return model.Counts{}, fmt.Errorf("failed to count stats: %w", err)
	}
	return c, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
