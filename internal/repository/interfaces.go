// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// ErrDuplicate は一意性制約に違反したことを示す。
// サービス層はこのエラーを重複応募・登録済み識別子などのドメインエラーに変換する。
var ErrDuplicate = errors.New("repository: duplicate key")

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByIdentifier は識別子でアカウントを検索する。見つからない場合はnilを返す。
	FindByIdentifier(ctx context.Context, kind model.IdentifierKind, identifier string) (*model.Account, error)

	// Create はアカウントを作成する。識別子が登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error
}

// ChallengeRepository はOTPチャレンジの永続化インターフェース。
type ChallengeRepository interface {
	// Create はチャレンジを作成する。
	Create(ctx context.Context, challenge *model.Challenge) error

	// FindLatestActive は識別子に対する未使用かつ有効期限内の最新チャレンジを取得する。
	// 見つからない場合はnilを返す。
	FindLatestActive(ctx context.Context, identifier string, now time.Time) (*model.Challenge, error)

	// ReserveAttempt は試行回数がmaxAttempts未満なら原子的に1増やしてtrueを返す。
	// コード照合の前に呼び出す。
	ReserveAttempt(ctx context.Context, id string, maxAttempts int) (bool, error)

	// Consume はチャレンジを使用済みにする。既に使用済みの場合はfalseを返す。
	Consume(ctx context.Context, id string, at time.Time) (bool, error)

	// DeleteExpired はbefore以前に期限切れとなったチャレンジを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindActive はnow時点で有効なセッションを取得する。無効な場合はnilを返す。
	FindActive(ctx context.Context, id string, now time.Time) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByAccountID はアカウントのプロフィールを取得する。見つからない場合はnilを返す。
	FindByAccountID(ctx context.Context, accountID string) (*model.Profile, error)

	// Create はプロフィールを作成する。作成済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, profile *model.Profile) error
}

// JobRepository は求人データの永続化インターフェース。
type JobRepository interface {
	// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.JobPosting, error)

	// ListOpen は募集中の求人を新しい順に最大limit件返す。
	ListOpen(ctx context.Context, limit int) ([]model.JobPosting, error)

	// ListByEmployer は雇用主の求人を状態に関わらず新しい順に返す。
	ListByEmployer(ctx context.Context, employerID string) ([]model.JobPosting, error)

	// Create は求人を作成する。
	Create(ctx context.Context, job *model.JobPosting) error

	// Delete は雇用主自身の求人を削除する。対象がない場合はfalseを返す。
	Delete(ctx context.Context, id, employerID string) (bool, error)

	// UpdateStatus は雇用主自身の求人の状態を更新する。対象がない場合はfalseを返す。
	UpdateStatus(ctx context.Context, id, employerID string, status model.JobStatus) (bool, error)
}

// ApplicationRepository は応募データの永続化インターフェース。
type ApplicationRepository interface {
	// Create は応募を作成する。同一求人に応募済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, application *model.Application) error

	// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Application, error)

	// ListByJob は求人への応募を応募者情報付きで応募日時の新しい順に返す。
	// statusが空でない場合はその状態の応募のみ返す。
	ListByJob(ctx context.Context, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error)

	// ListByWorker は労働者の応募を応募日時の新しい順に返す。
	ListByWorker(ctx context.Context, workerID string) ([]model.Application, error)

	// UpdateStatus は状態がfromの応募をtoに更新する。該当しない場合はfalseを返す。
	UpdateStatus(ctx context.Context, id string, from, to model.ApplicationStatus) (bool, error)
}

// StatsRepository は集計値の取得インターフェース。
type StatsRepository interface {
	// Counts は労働者数・求人数・終了済み求人数を返す。SuccessRateは設定しない。
	Counts(ctx context.Context) (model.Counts, error)
}
