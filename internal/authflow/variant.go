// Package authflow はログイン・新規登録の多段階フローを状態機械として提供する。
//
// 電話番号+OTP、ユーザー名+パスワード、メールアドレス+パスワードの3方式を
// Variantで切り替える1つの状態機械として実装する。
package authflow

import (
	"context"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// Variant は識別子の種類と本人確認方式の組み合わせを表す。
type Variant int

const (
	// PhoneOTP は電話番号にSMSで送ったワンタイムコードで本人確認する方式。
	PhoneOTP Variant = iota
	// UsernamePassword はユーザー名とパスワードで本人確認する方式。
	UsernamePassword
	// EmailPassword はメールアドレスとパスワードで本人確認する方式。
	EmailPassword
)

// String はVariantの名前を返す。
func (v Variant) String() string {
	switch v {
	case PhoneOTP:
		return "phone_otp"
	case UsernamePassword:
		return "username_password"
	case EmailPassword:
		return "email_password"
	default:
		return "unknown"
	}
}

// UsesChallenge はOTPチャレンジを使う方式かどうかを返す。
func (v Variant) UsesChallenge() bool {
	return v == PhoneOTP
}

// IdentifierKind はVariantが扱う識別子の種別を返す。
func (v Variant) IdentifierKind() model.IdentifierKind {
	switch v {
	case PhoneOTP:
		return model.IdentifierPhone
	case EmailPassword:
		return model.IdentifierEmail
	default:
		return model.IdentifierUsername
	}
}

// Mode はフローがログインか新規登録かを表す。
type Mode string

const (
	ModeLogin    Mode = "login"
	ModeRegister Mode = "register"
)

// State はフローの状態を表す。
type State string

const (
	StateIdle                      State = "idle"
	StateAwaitingChallenge         State = "awaiting_challenge"
	StateVerifyingChallenge        State = "verifying_challenge"
	StateAwaitingProfileCompletion State = "awaiting_profile_completion"
	StateResolvingProfile          State = "resolving_profile"
	StateRoleSelectionFallback     State = "role_selection_fallback"
	StateAuthenticated             State = "authenticated"
	StateFailed                    State = "failed"
)

// IdentityService はフローが利用する認証サービスのインターフェース。
type IdentityService interface {
	// SendChallenge は識別子宛てにワンタイムコードを送信する。
	SendChallenge(ctx context.Context, identifier string) error
	// VerifyChallenge はワンタイムコードを検証し、セッションを発行する。
	VerifyChallenge(ctx context.Context, identifier, code string) (*model.AuthResult, error)
	// PasswordLogin はパスワードでログインする。
	PasswordLogin(ctx context.Context, identifier, password string) (*model.AuthResult, error)
	// PasswordRegister はパスワードでアカウントを新規登録する。
	PasswordRegister(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error)
}

// ProfileStore はフローが利用するプロフィールストアのインターフェース。
type ProfileStore interface {
	// FetchProfile はアカウントのプロフィールを取得する。
	// 未作成の場合はKindNotFoundのAPIErrorを返す。
	FetchProfile(ctx context.Context, accountID string) (*model.Profile, error)
	// CreateProfile はアカウントのプロフィールを作成する。
	CreateProfile(ctx context.Context, accountID string, fields model.ProfileFields) (*model.Profile, error)
}

// Timer は停止可能なタイマー。
type Timer interface {
	Stop() bool
}

// Clock はタイマーの生成を抽象化する。テストで時間を制御するために使う。
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// EventType はフローが通知するイベントの種類。
type EventType string

const (
	// EventStateChanged は状態が変化したことを表す。
	EventStateChanged EventType = "state_changed"
	// EventChallengeSent はOTPが送信されたことを表す。
	EventChallengeSent EventType = "challenge_sent"
	// EventLoginSucceeded はログインが完了したことを表す。1回の試行で1度だけ発火する。
	EventLoginSucceeded EventType = "login_succeeded"
	// EventFailed はリモート呼び出しが失敗したことを表す。
	EventFailed EventType = "failed"
)

// LoginSuccess はログイン完了時に通知する利用者情報。
type LoginSuccess struct {
	AccountID   string
	Token       string
	Role        model.Role
	DisplayName string
	Contact     string
	NewAccount  bool
}

// Event はフローからの通知。
type Event struct {
	Type  EventType
	State State
	Login *LoginSuccess
	Err   *model.APIError
}

// Credentials はパスワード方式の入力値。
type Credentials struct {
	Identifier      string
	Password        string
	ConfirmPassword string // 新規登録時のみ
	DisplayName     string // 新規登録時のみ（任意）
}
