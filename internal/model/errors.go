// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// UI層はKindに応じて通知の出し方を切り替える。
type ErrorKind string

const (
	// KindValidation はリモート呼び出し前に検出される入力エラー。
	KindValidation ErrorKind = "validation"
	// KindCredential は識別子・パスワード・確認コードがリモートで拒否されたことを表す。
	KindCredential ErrorKind = "credential"
	// KindConflict は一意性制約違反（重複応募、登録済み識別子など）を表す。
	KindConflict ErrorKind = "conflict"
	// KindNotFound はプロフィール・求人などが存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindTransient はネットワーク障害・サービス停止など一時的なエラーを表す。
	KindTransient ErrorKind = "transient"
)

// Severity は通知の重要度を表す。
type Severity string

const (
	SeverityDestructive Severity = "destructive"
	SeverityInfo        Severity = "info"
)

// APIError は統一エラーフォーマットを表す。
// ユーザーに表示するタイトルと説明文の組を持つ。
type APIError struct {
	Kind     ErrorKind
	Code     string   // エラーコード
	Title    string   // 通知タイトル
	Message  string   // 通知本文
	Field    string   // バリデーションエラーの対象フィールド（任意）
	Severity Severity // 通知の重要度
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeCSRFRejected        = "CSRF_REJECTED"
	ErrCodeAlreadyApplied      = "ALREADY_APPLIED"
	ErrCodeIdentifierTaken     = "IDENTIFIER_TAKEN"
	ErrCodeProfileExists       = "PROFILE_EXISTS"
	ErrCodeApplicationDecided  = "APPLICATION_ALREADY_DECIDED"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeJobNotFound         = "JOB_NOT_FOUND"
	ErrCodeApplicationNotFound = "APPLICATION_NOT_FOUND"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(field, title, message string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Title:    title,
		Message:  message,
		Field:    field,
		Severity: SeverityDestructive,
	}
}

// NewCredentialError は認証情報の拒否エラーを生成する。
// reasonには認証サービスが返した理由をそのまま渡す。
func NewCredentialError(title, reason string) *APIError {
	if reason == "" {
		reason = "Please check your credentials and try again."
	}
	return &APIError{
		Kind:     KindCredential,
		Code:     ErrCodeInvalidCredentials,
		Title:    title,
		Message:  reason,
		Severity: SeverityDestructive,
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Kind:     KindCredential,
		Code:     ErrCodeUnauthorized,
		Title:    "Login Required",
		Message:  "Please log in to continue.",
		Severity: SeverityDestructive,
	}
}

// NewAlreadyAppliedError は同一求人への重複応募エラーを生成する。
func NewAlreadyAppliedError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAlreadyApplied,
		Title:    "Already Applied",
		Message:  "You have already applied to this job.",
		Severity: SeverityDestructive,
	}
}

// NewIdentifierTakenError は登録済み識別子での新規登録エラーを生成する。
func NewIdentifierTakenError(identifier string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeIdentifierTaken,
		Title:    "Account Exists",
		Message:  fmt.Sprintf("An account already exists for %s.", identifier),
		Severity: SeverityDestructive,
	}
}

// NewProfileExistsError はプロフィールの二重作成エラーを生成する。
func NewProfileExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeProfileExists,
		Title:    "Profile Exists",
		Message:  "A profile has already been created for this account.",
		Severity: SeverityDestructive,
	}
}

// NewApplicationDecidedError は判定済み応募の再判定エラーを生成する。
func NewApplicationDecidedError(status ApplicationStatus) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeApplicationDecided,
		Title:    "Already Decided",
		Message:  fmt.Sprintf("This application has already been %s.", status),
		Severity: SeverityDestructive,
	}
}

// NewProfileNotFoundError はプロフィール未作成エラーを生成する。
func NewProfileNotFoundError(accountID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeProfileNotFound,
		Title:    "Profile Not Found",
		Message:  fmt.Sprintf("No profile exists for account %s.", accountID),
		Severity: SeverityInfo,
	}
}

// NewJobNotFoundError は求人未検出エラーを生成する。
// 他の雇用主の求人に対する操作もこのエラーとして扱う。
func NewJobNotFoundError(jobID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeJobNotFound,
		Title:    "Job Not Found",
		Message:  fmt.Sprintf("The job %s does not exist or is no longer open.", jobID),
		Severity: SeverityDestructive,
	}
}

// NewApplicationNotFoundError は応募未検出エラーを生成する。
func NewApplicationNotFoundError(applicationID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeApplicationNotFound,
		Title:    "Application Not Found",
		Message:  fmt.Sprintf("The application %s does not exist.", applicationID),
		Severity: SeverityDestructive,
	}
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeAccountNotFound,
		Title:    "Account Not Found",
		Message:  "Your account could not be found. Please log in again.",
		Severity: SeverityDestructive,
	}
}

// NewTransientError は一時的な障害のエラーを生成する。
// reasonが空の場合は汎用メッセージを使用する。
func NewTransientError(reason string) *APIError {
	if reason == "" {
		reason = "Something went wrong. Please try again."
	}
	return &APIError{
		Kind:     KindTransient,
		Code:     ErrCodeServiceUnavailable,
		Title:    "Error",
		Message:  reason,
		Severity: SeverityDestructive,
	}
}

// AsAPIError はerrorチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind はerrがkindに分類されるAPIErrorかどうかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == kind
}

// Classify はerrをユーザー向けのAPIErrorに変換する。
// 分類済みのエラーはそのまま返し、それ以外はTransientErrorとして扱う。
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	return NewTransientError("")
}
