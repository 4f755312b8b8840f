package model

import "time"

// IdentifierKind はアカウント識別子の種別を表す。
type IdentifierKind string

const (
	IdentifierPhone    IdentifierKind = "phone"
	IdentifierEmail    IdentifierKind = "email"
	IdentifierUsername IdentifierKind = "username"
)

// Account は認証サービスが発行するアカウントを表す。
// パスワードハッシュは認証サービスだけが扱う。
type Account struct {
	ID             string
	IdentifierKind IdentifierKind
	Identifier     string
	PasswordHash   string
	Verified       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session はアカウントのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Challenge はSMSで送信したワンタイムコードを表す。
// コードはbcryptハッシュとしてのみ保持する。
type Challenge struct {
	ID         string
	Identifier string
	CodeHash   string
	Attempts   int
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Expired はチャレンジが有効期限切れかどうかを返す。
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AuthResult は認証成功時に認証サービスが返す結果。
type AuthResult struct {
	AccountID    string `json:"account_id"`
	Token        string `json:"token"`
	Identifier   string `json:"identifier"`
	IsNewAccount bool   `json:"is_new_account"`
}

// RegistrationMeta はパスワード登録時に添付するメタデータ。
type RegistrationMeta struct {
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}
