// Package job は求人掲載のドメインロジックを提供する。
package job

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/metrics"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/repository"
	"github.com/ruralink/kaaryasetu/internal/security"
)

const (
	// DefaultListLimit は募集中求人の一覧で返す最大件数。
	DefaultListLimit = 200
	// PayPrefix は報酬文字列の先頭に付ける通貨記号。
	PayPrefix = "₹"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ServiceConfig はServiceの設定値。
type ServiceConfig struct {
	// RadiusKm はListNearbyの検索半径の既定値。
	RadiusKm float64
	// ListLimit はListOpenで返す最大件数。
	ListLimit int
	// Categories は受け付ける求人カテゴリ。空の場合はmodel.JobCategoriesを使う。
	Categories []string
}

// Service は求人掲載のサービス層。
type Service struct {
	jobs      repository.JobRepository
	profiles  repository.ProfileRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	jobs repository.JobRepository,
	profiles repository.ProfileRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if config.RadiusKm <= 0 {
		config.RadiusKm = geo.DefaultRadiusKm
	}
	if config.ListLimit <= 0 {
		config.ListLimit = DefaultListLimit
	}
	if len(config.Categories) == 0 {
		config.Categories = model.JobCategories
	}
	return &Service{
		jobs:      jobs,
		profiles:  profiles,
		sanitizer: sanitizer,
		metrics:   metrics.OrNop(collector),
		config:    config,
		now:       time.Now,
	}
}

// RadiusKm は既定の検索半径を返す。
func (s *Service) RadiusKm() float64 {
	return s.config.RadiusKm
}

// ListOpen は募集中の求人を新しい順に返す。
func (s *Service) ListOpen(ctx context.Context) ([]model.JobPosting, error) {
	jobs, err := s.jobs.ListOpen(ctx, s.config.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗しました: %w", err)
	}
	return jobs, nil
}

// ListNearby は募集中の求人のうちoriginから半径radiusKm以内のものを近い順に返す。
// radiusKmが0以下の場合は既定の半径を使う。座標のない求人は末尾に含める。
func (s *Service) ListNearby(ctx context.Context, origin model.GeoPoint, radiusKm float64) ([]geo.RankedJob, error) {
	if !validCoordinate(origin.Lat, origin.Lng) {
		return nil, model.NewValidationError("lat", "Invalid Location", "Location must be a valid latitude and longitude")
	}
	if radiusKm <= 0 {
		radiusKm = s.config.RadiusKm
	}
	jobs, err := s.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	return geo.FilterAndRank(jobs, origin, radiusKm), nil
}

// ListByEmployer は雇用主自身の求人を状態に関わらず返す。
func (s *Service) ListByEmployer(ctx context.Context, employerID string) ([]model.JobPosting, error) {
	jobs, err := s.jobs.ListByEmployer(ctx, employerID)
	if err != nil {
		return nil, fmt.Errorf("雇用主の求人一覧の取得に失敗しました: %w", err)
	}
	return jobs, nil
}

// Get は指定IDの求人を返す。
func (s *Service) Get(ctx context.Context, jobID string) (*model.JobPosting, error) {
	if !model.IsValidID(jobID) {
		return nil, model.NewJobNotFoundError(jobID)
	}
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	if job == nil {
		return nil, model.NewJobNotFoundError(jobID)
	}
	return job, nil
}

// Create は雇用主の求人を掲載する。
// 報酬文字列に通貨記号がない場合は先頭に付与する。
func (s *Service) Create(ctx context.Context, employerID string, fields model.JobFields) (*model.JobPosting, error) {
	// 1. 掲載者が雇用主であることを確認
	profile, err := s.profiles.FindByAccountID(ctx, employerID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError(employerID)
	}
	if profile.Role != model.RoleEmployer {
		return nil, model.NewValidationError("role", "Employers Only", "Only employers can post jobs.")
	}

	// 2. 入力値を整形して検証
	job, err := s.buildJob(employerID, fields)
	if err != nil {
		return nil, err
	}

	// 3. 保存
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("求人の作成に失敗しました: %w", err)
	}

	s.metrics.RecordJobCreated(job.Category)
	slog.Info("求人を掲載しました",
		slog.String("job_id", job.ID),
		slog.String("employer_id", employerID),
		slog.String("category", job.Category),
	)
	return job, nil
}

// Delete は雇用主自身の求人を削除する。
// 存在しない求人と他の雇用主の求人はどちらもNotFoundとして扱う。
func (s *Service) Delete(ctx context.Context, employerID, jobID string) error {
	if !model.IsValidID(jobID) {
		return model.NewJobNotFoundError(jobID)
	}
	deleted, err := s.jobs.Delete(ctx, jobID, employerID)
	if err != nil {
		return fmt.Errorf("求人の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewJobNotFoundError(jobID)
	}
	slog.Info("求人を削除しました", slog.String("job_id", jobID))
	return nil
}

// Close は雇用主自身の求人の募集を終了する。
// 終了済みの求人に対しても成功として扱う。
func (s *Service) Close(ctx context.Context, employerID, jobID string) error {
	if !model.IsValidID(jobID) {
		return model.NewJobNotFoundError(jobID)
	}
	updated, err := s.jobs.UpdateStatus(ctx, jobID, employerID, model.JobStatusClosed)
	if err != nil {
		return fmt.Errorf("求人の状態更新に失敗しました: %w", err)
	}
	if !updated {
		return model.NewJobNotFoundError(jobID)
	}
	slog.Info("求人の募集を終了しました", slog.String("job_id", jobID))
	return nil
}

// buildJob は入力値を検証し、保存するJobPostingを組み立てる。
func (s *Service) buildJob(employerID string, f model.JobFields) (*model.JobPosting, error) {
	title := s.sanitizer.Sanitize(f.Title)
	category := strings.TrimSpace(f.Category)
	description := s.sanitizer.Sanitize(f.Description)
	location := s.sanitizer.Sanitize(f.Location)
	pay := s.sanitizer.Sanitize(f.Pay)
	start := strings.TrimSpace(f.StartTime)
	end := strings.TrimSpace(f.EndTime)
	date := strings.TrimSpace(f.Date)

	if title == "" || category == "" || description == "" || location == "" ||
		date == "" || start == "" || end == "" || pay == "" {
		return nil, model.NewValidationError("job", "Missing Information", "Please fill in all required fields")
	}
	if !s.isCategory(category) {
		return nil, model.NewValidationError("category", "Invalid Category", fmt.Sprintf("%q is not a supported job category.", category))
	}

	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, model.NewValidationError("date", "Invalid Date", "Please choose a valid date.")
	}
	if _, err := time.Parse(timeLayout, start); err != nil {
		return nil, model.NewValidationError("start_time", "Invalid Time", "Please enter the start time as HH:MM.")
	}
	if _, err := time.Parse(timeLayout, end); err != nil {
		return nil, model.NewValidationError("end_time", "Invalid Time", "Please enter the end time as HH:MM.")
	}

	if (f.Lat == nil) != (f.Lng == nil) {
		return nil, model.NewValidationError("location", "Invalid Location", "Latitude and longitude must be given together.")
	}
	if f.Lat != nil && !validCoordinate(*f.Lat, *f.Lng) {
		return nil, model.NewValidationError("location", "Invalid Location", "Coordinates are out of range.")
	}

	if !strings.HasPrefix(pay, PayPrefix) {
		pay = PayPrefix + pay
	}

	now := s.now()
	return &model.JobPosting{
		ID:          uuid.New().String(),
		EmployerID:  employerID,
		Title:       title,
		Category:    category,
		Description: description,
		Location:    location,
		Lat:         f.Lat,
		Lng:         f.Lng,
		Date:        day,
		Time:        start + " - " + end,
		Pay:         pay,
		Urgent:      f.Urgent,
		Status:      model.JobStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) isCategory(category string) bool {
	for _, c := range s.config.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
