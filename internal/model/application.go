package model

import "time"

// ApplicationStatus は応募の状態を表す。
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationAccepted ApplicationStatus = "accepted"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Valid は状態が既知の値かどうかを返す。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationPending, ApplicationAccepted, ApplicationRejected:
		return true
	}
	return false
}

// Application は労働者から求人への応募を表す。
// (JobID, WorkerID) の組は一意。
type Application struct {
	ID        string
	JobID     string
	WorkerID  string
	Status    ApplicationStatus
	Message   string
	AppliedAt time.Time
	UpdatedAt time.Time
}

// ApplicationWithWorker は応募と応募者のプロフィール情報を結合したモデル。
// 雇用主向けの応募一覧で使用する。
type ApplicationWithWorker struct {
	Application
	WorkerName     string
	WorkerPhone    string
	WorkerLocation string
}

// Counts はトップページに表示する集計値。
type Counts struct {
	Workers     int
	Jobs        int
	ClosedJobs  int
	SuccessRate int // closed/jobs を百分率で四捨五入した値
}
