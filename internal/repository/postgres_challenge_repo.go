package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// PostgresChallengeRepo はPostgreSQLを使用したOTPチャレンジリポジトリ。
type PostgresChallengeRepo struct {
	db *sql.DB
}

// NewPostgresChallengeRepo はPostgresChallengeRepoを生成する。
func NewPostgresChallengeRepo(db *sql.DB) *PostgresChallengeRepo {
	return &PostgresChallengeRepo{db: db}
}

// Create はチャレンジを作成する。
func (r *PostgresChallengeRepo) Create(ctx context.Context, c *model.Challenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_challenges (id, identifier, code_hash, attempts, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Identifier, c.CodeHash, c.Attempts, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

// FindLatestActive は識別子に対する未使用かつ有効期限内の最新チャレンジを取得する。
func (r *PostgresChallengeRepo) FindLatestActive(ctx context.Context, identifier string, now time.Time) (*model.Challenge, error) {
	c := &model.Challenge{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, identifier, code_hash, attempts, expires_at, created_at
		 FROM otp_challenges
		 WHERE identifier = $1 AND consumed_at IS NULL AND expires_at > $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		identifier, now,
	).Scan(&c.ID, &c.Identifier, &c.CodeHash, &c.Attempts, &c.ExpiresAt, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find challenge: %w", err)
	}
	return c, nil
}

// ReserveAttempt は試行回数がmaxAttempts未満の場合に限り1増やし、試行枠を確保する。
// 上限に達している場合はfalseを返す。
func (r *PostgresChallengeRepo) ReserveAttempt(ctx context.Context, id string, maxAttempts int) (bool, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_challenges SET attempts = attempts + 1
		 WHERE id = $1 AND attempts < $2
		 RETURNING attempts`,
		id, maxAttempts,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve challenge attempt: %w", err)
	}
	return true, nil
}

// Consume はチャレンジを使用済みにする。既に使用済みの場合はfalseを返す。
func (r *PostgresChallengeRepo) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired はbefore以前に期限切れとなったチャレンジを削除する。
func (r *PostgresChallengeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return execRowsAffected(ctx, r.db, "expired challenges",
		`DELETE FROM otp_challenges WHERE expires_at <= $1`, before)
}

// compile-time interface check
var _ ChallengeRepository = (*PostgresChallengeRepo)(nil)
