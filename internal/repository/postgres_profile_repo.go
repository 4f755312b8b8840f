package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByAccountID はアカウントのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByAccountID(ctx context.Context, accountID string) (*model.Profile, error) {
	p := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, display_name, role, phone, email, location, avatar_url, created_at, updated_at
		 FROM profiles WHERE account_id = $1`,
		accountID,
	).Scan(&p.ID, &p.AccountID, &p.DisplayName, &p.Role, &p.Phone, &p.Email, &p.Location, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// Create はプロフィールを作成する。作成済みの場合はErrDuplicateを返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, account_id, display_name, role, phone, email, location, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.AccountID, p.DisplayName, p.Role, p.Phone, p.Email, p.Location, p.AvatarURL, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapInsertError("profile", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
