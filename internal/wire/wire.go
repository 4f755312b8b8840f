// Package wire はHTTP APIでやり取りするJSON表現と、ドメインモデルとの変換を提供する。
// サーバー（handler）とクライアント（client）が同じ表現を共有する。
package wire

import (
	"fmt"
	"time"

	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/model"
)

// DateLayout は求人日付のJSON表現。
const DateLayout = "2006-01-02"

// ChallengeRequest はOTP送信リクエストのボディ。
type ChallengeRequest struct {
	Identifier string `json:"identifier"`
}

// VerifyRequest はOTP検証リクエストのボディ。
type VerifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// LoginRequest はパスワードログインリクエストのボディ。
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// RegisterRequest はパスワード登録リクエストのボディ。
type RegisterRequest struct {
	Identifier  string     `json:"identifier"`
	Password    string     `json:"password"`
	Role        model.Role `json:"role"`
	DisplayName string     `json:"display_name"`
}

// ApplyRequest は求人への応募リクエストのボディ。
type ApplyRequest struct {
	Message string `json:"message"`
}

// StatusUpdateRequest は応募ステータス更新リクエストのボディ。
type StatusUpdateRequest struct {
	Status model.ApplicationStatus `json:"status"`
}

// Account はアカウント情報のレスポンス。パスワードハッシュは含めない。
type Account struct {
	ID             string `json:"id"`
	IdentifierKind string `json:"identifier_kind"`
	Identifier     string `json:"identifier"`
	Verified       bool   `json:"verified"`
}

// FromAccount はmodel.AccountをAccountに変換する。
func FromAccount(a *model.Account) Account {
	return Account{
		ID:             a.ID,
		IdentifierKind: string(a.IdentifierKind),
		Identifier:     a.Identifier,
		Verified:       a.Verified,
	}
}

// Me はGET /auth/me のレスポンス。プロフィール未作成の場合はProfileがnilになる。
type Me struct {
	Account Account  `json:"account"`
	Profile *Profile `json:"profile,omitempty"`
}

// Profile はプロフィールのレスポンス。
type Profile struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	Location    string    `json:"location,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromProfile はmodel.ProfileをProfileに変換する。
func FromProfile(p *model.Profile) Profile {
	return Profile{
		ID:          p.ID,
		AccountID:   p.AccountID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Phone:       p.Phone,
		Email:       p.Email,
		Location:    p.Location,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   p.CreatedAt,
	}
}

// Model はProfileをmodel.Profileに戻す。
func (p Profile) Model() *model.Profile {
	return &model.Profile{
		ID:          p.ID,
		AccountID:   p.AccountID,
		DisplayName: p.DisplayName,
		Role:        model.Role(p.Role),
		Phone:       p.Phone,
		Email:       p.Email,
		Location:    p.Location,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   p.CreatedAt,
	}
}

// Job は求人のレスポンス。近い順の検索結果ではDistanceKmが設定される。
type Job struct {
	ID          string    `json:"id"`
	EmployerID  string    `json:"employer_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Lat         *float64  `json:"lat"`
	Lng         *float64  `json:"lng"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Pay         string    `json:"pay"`
	Urgent      bool      `json:"urgent"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	DistanceKm  *float64  `json:"distance_km,omitempty"`
}

// FromJob はmodel.JobPostingをJobに変換する。
func FromJob(j *model.JobPosting) Job {
	return Job{
		ID:          j.ID,
		EmployerID:  j.EmployerID,
		Title:       j.Title,
		Category:    j.Category,
		Description: j.Description,
		Location:    j.Location,
		Lat:         j.Lat,
		Lng:         j.Lng,
		Date:        j.Date.Format(DateLayout),
		Time:        j.Time,
		Pay:         j.Pay,
		Urgent:      j.Urgent,
		Status:      string(j.Status),
		CreatedAt:   j.CreatedAt,
	}
}

// FromJobs はmodel.JobPostingのスライスを変換する。nilの場合も空配列を返す。
func FromJobs(jobs []model.JobPosting) []Job {
	out := make([]Job, 0, len(jobs))
	for i := range jobs {
		out = append(out, FromJob(&jobs[i]))
	}
	return out
}

// FromRankedJobs は距離付きの検索結果を変換する。
func FromRankedJobs(ranked []geo.RankedJob) []Job {
	out := make([]Job, 0, len(ranked))
	for _, r := range ranked {
		j := FromJob(&r.Job)
		j.DistanceKm = r.DistanceKm
		out = append(out, j)
	}
	return out
}

// Model はJobをmodel.JobPostingに戻す。
func (j Job) Model() (*model.JobPosting, error) {
	var date time.Time
	if j.Date != "" {
		d, err := time.Parse(DateLayout, j.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid job date %q: %w", j.Date, err)
		}
		date = d
	}
	return &model.JobPosting{
		ID:          j.ID,
		EmployerID:  j.EmployerID,
		Title:       j.Title,
		Category:    j.Category,
		Description: j.Description,
		Location:    j.Location,
		Lat:         j.Lat,
		Lng:         j.Lng,
		Date:        date,
		Time:        j.Time,
		Pay:         j.Pay,
		Urgent:      j.Urgent,
		Status:      model.JobStatus(j.Status),
		CreatedAt:   j.CreatedAt,
	}, nil
}

// Application は応募のレスポンス。雇用主向けの一覧では応募者情報が付く。
type Application struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	WorkerID       string    `json:"worker_id"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	AppliedAt      time.Time `json:"applied_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	WorkerName     string    `json:"worker_name,omitempty"`
	WorkerPhone    string    `json:"worker_phone,omitempty"`
	WorkerLocation string    `json:"worker_location,omitempty"`
}

// FromApplication はmodel.ApplicationをApplicationに変換する。
func FromApplication(a *model.Application) Application {
	return Application{
		ID:        a.ID,
		JobID:     a.JobID,
		WorkerID:  a.WorkerID,
		Status:    string(a.Status),
		Message:   a.Message,
		AppliedAt: a.AppliedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// FromApplications はmodel.Applicationのスライスを変換する。
func FromApplications(apps []model.Application) []Application {
	out := make([]Application, 0, len(apps))
	for i := range apps {
		out = append(out, FromApplication(&apps[i]))
	}
	return out
}

// FromApplicationsWithWorker は応募者情報付きの一覧を変換する。
func FromApplicationsWithWorker(apps []model.ApplicationWithWorker) []Application {
	out := make([]Application, 0, len(apps))
	for i := range apps {
		a := FromApplication(&apps[i].Application)
		a.WorkerName = apps[i].WorkerName
		a.WorkerPhone = apps[i].WorkerPhone
		a.WorkerLocation = apps[i].WorkerLocation
		out = append(out, a)
	}
	return out
}

// Model はApplicationをmodel.ApplicationWithWorkerに戻す。
func (a Application) Model() model.ApplicationWithWorker {
	return model.ApplicationWithWorker{
		Application: model.Application{
			ID:        a.ID,
			JobID:     a.JobID,
			WorkerID:  a.WorkerID,
			Status:    model.ApplicationStatus(a.Status),
			Message:   a.Message,
			AppliedAt: a.AppliedAt,
			UpdatedAt: a.UpdatedAt,
		},
		WorkerName:     a.WorkerName,
		WorkerPhone:    a.WorkerPhone,
		WorkerLocation: a.WorkerLocation,
	}
}

// Counts は統計情報のレスポンス。
type Counts struct {
	Workers     int `json:"workers"`
	Jobs        int `json:"jobs"`
	ClosedJobs  int `json:"closed_jobs"`
	SuccessRate int `json:"success_rate"`
}

// FromCounts はmodel.CountsをCountsに変換する。
func FromCounts(c model.Counts) Counts {
	return Counts{
		Workers:     c.Workers,
		Jobs:        c.Jobs,
		ClosedJobs:  c.ClosedJobs,
		SuccessRate: c.SuccessRate,
	}
}

// Model はCountsをmodel.Countsに戻す。
func (c Counts) Model() model.Counts {
	return model.Counts{
		Workers:     c.Workers,
		Jobs:        c.Jobs,
		ClosedJobs:  c.ClosedJobs,
		SuccessRate: c.SuccessRate,
	}
}
