package model

import "github.com/google/uuid"

// IsValidID はidがハイフン区切りの標準形式のUUIDである場合にtrueを返す。
// パスから受け取ったIDをデータベースへ渡す前に検査する。
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
