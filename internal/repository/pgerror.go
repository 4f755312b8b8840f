package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意性制約違反のSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はerrが一意性制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// wrapInsertError はINSERTのエラーを変換する。一意性制約違反はErrDuplicateにする。
func wrapInsertError(what string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to create %s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("failed to create %s: %w", what, err)
}

// execRowsAffected は削除系の文を実行し、影響行数を返す。
func execRowsAffected(ctx context.Context, db *sql.DB, what, query string, args ...any) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
