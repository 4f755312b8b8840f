package model

import "time"

// Role は利用者の立場（労働者または雇用主）を表す。
// 登録時に一度だけ選択し、以降は変更しない。
type Role string

const (
	RoleWorker   Role = "worker"
	RoleEmployer Role = "employer"
)

// Valid はロールが既知の値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleWorker || r == RoleEmployer
}

// Profile はアカウントに1対1で紐づく利用者情報を表す。
type Profile struct {
	ID          string
	AccountID   string
	DisplayName string
	Role        Role
	Phone       string
	Email       string
	Location    string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contact はプロフィールの連絡先を返す。電話番号を優先する。
func (p *Profile) Contact() string {
	if p.Phone != "" {
		return p.Phone
	}
	return p.Email
}

// ProfileFields はプロフィール作成時の入力値。
type ProfileFields struct {
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Location    string `json:"location"`
}
