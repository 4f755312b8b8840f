package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, identifier_kind, identifier, COALESCE(password_hash, ''), verified, created_at, updated_at`

func scanAccount(row *sql.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(&a.ID, &a.IdentifierKind, &a.Identifier, &a.PasswordHash, &a.Verified, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return a, nil
}

// FindByIdentifier は識別子でアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByIdentifier(ctx context.Context, kind model.IdentifierKind, identifier string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE identifier_kind = $1 AND identifier = $2`,
		kind, identifier,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by identifier: %w", err)
	}
	return a, nil
}

// Create はアカウントを作成する。識別子が登録済みの場合はErrDuplicateを返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	var passwordHash sql.NullString
	if account.PasswordHash != "" {
		passwordHash = sql.NullString{String: account.PasswordHash, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, identifier_kind, identifier, password_hash, verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, account.IdentifierKind, account.Identifier, passwordHash,
		account.Verified, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return wrapInsertError("account", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
