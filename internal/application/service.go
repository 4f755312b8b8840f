// Package application は求人への応募と選考のドメインロジックを提供する。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ruralink/kaaryasetu/internal/metrics"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/repository"
	"github.com/ruralink/kaaryasetu/internal/security"
)

// Service は応募管理のサービス層。
type Service struct {
	applications repository.ApplicationRepository
	jobs         repository.JobRepository
	profiles     repository.ProfileRepository
	sanitizer    security.TextSanitizer
	metrics      metrics.MetricsCollector
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	applications repository.ApplicationRepository,
	jobs repository.JobRepository,
	profiles repository.ProfileRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		applications: applications,
		jobs:         jobs,
		profiles:     profiles,
		sanitizer:    sanitizer,
		metrics:      metrics.OrNop(collector),
		now:          time.Now,
	}
}

// Apply は労働者として募集中の求人に応募する。
// 同じ求人への2回目の応募はAlreadyAppliedエラーになる。
func (s *Service) Apply(ctx context.Context, workerID, jobID, message string) (*model.Application, error) {
	// 1. 求人が募集中であることを確認
	if !model.IsValidID(jobID) {
		s.metrics.RecordApplication("job_unavailable")
		return nil, model.NewJobNotFoundError(jobID)
	}
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	if job == nil || job.Status != model.JobStatusOpen {
		s.metrics.RecordApplication("job_unavailable")
		return nil, model.NewJobNotFoundError(jobID)
	}

	// 2. 応募者が労働者であることを確認
	profile, err := s.profiles.FindByAccountID(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError(workerID)
	}
	if profile.Role != model.RoleWorker {
		return nil, model.NewValidationError("role", "Workers Only", "Only workers can apply to jobs.")
	}

	// 3. 応募を保存
	now := s.now()
	app := &model.Application{
		ID:        uuid.New().String(),
		JobID:     jobID,
		WorkerID:  workerID,
		Status:    model.ApplicationPending,
		Message:   s.sanitizer.Sanitize(message),
		AppliedAt: now,
		UpdatedAt: now,
	}
	if err := s.applications.Create(ctx, app); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.metrics.RecordApplication("duplicate")
			return nil, model.NewAlreadyAppliedError()
		}
		return nil, fmt.Errorf("応募の作成に失敗しました: %w", err)
	}

	s.metrics.RecordApplication("success")
	slog.Info("求人に応募しました",
		slog.String("application_id", app.ID),
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return app, nil
}

// UpdateStatus は雇用主として自身の求人への応募を採用または不採用にする。
// 判定できるのは保留中の応募のみで、判定済みの応募はApplicationDecidedエラーになる。
func (s *Service) UpdateStatus(ctx context.Context, employerID, applicationID string, status model.ApplicationStatus) (*model.Application, error) {
	if status != model.ApplicationAccepted && status != model.ApplicationRejected {
		return nil, model.NewValidationError("status", "Invalid Status", "Applications can only be accepted or rejected.")
	}

	// 1. 応募と求人の所有者を確認
	app, err := s.findOwned(ctx, employerID, applicationID)
	if err != nil {
		return nil, err
	}

	// 2. 保留中の場合のみ更新
	updated, err := s.applications.UpdateStatus(ctx, applicationID, model.ApplicationPending, status)
	if err != nil {
		return nil, fmt.Errorf("応募の状態更新に失敗しました: %w", err)
	}
	if !updated {
		current, err := s.applications.FindByID(ctx, applicationID)
		if err != nil {
			return nil, fmt.Errorf("応募の再取得に失敗しました: %w", err)
		}
		if current == nil {
			return nil, model.NewApplicationNotFoundError(applicationID)
		}
		return nil, model.NewApplicationDecidedError(current.Status)
	}

	app.Status = status
	app.UpdatedAt = s.now()
	slog.Info("応募の状態を更新しました",
		slog.String("application_id", applicationID),
		slog.String("status", string(status)),
	)
	return app, nil
}

// ListForJob は雇用主自身の求人への応募を応募者情報付きで返す。
// statusが空の場合は全ての応募を返す。
func (s *Service) ListForJob(ctx context.Context, employerID, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error) {
	if status != "" && !status.Valid() {
		return nil, model.NewValidationError("status", "Invalid Status", fmt.Sprintf("Unknown application status %q.", status))
	}
	if !model.IsValidID(jobID) {
		return nil, model.NewJobNotFoundError(jobID)
	}

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	if job == nil || job.EmployerID != employerID {
		return nil, model.NewJobNotFoundError(jobID)
	}

	apps, err := s.applications.ListByJob(ctx, jobID, status)
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	return apps, nil
}

// ListForWorker は労働者自身の応募を新しい順に返す。
func (s *Service) ListForWorker(ctx context.Context, workerID string) ([]model.Application, error) {
	apps, err := s.applications.ListByWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	return apps, nil
}

// findOwned は雇用主自身の求人への応募を取得する。
// 他の雇用主の求人への応募は存在しないものとして扱う。
func (s *Service) findOwned(ctx context.Context, employerID, applicationID string) (*model.Application, error) {
	if !model.IsValidID(applicationID) {
		return nil, model.NewApplicationNotFoundError(applicationID)
	}
	app, err := s.applications.FindByID(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("応募の取得に失敗しました: %w", err)
	}
	if app == nil {
		return nil, model.NewApplicationNotFoundError(applicationID)
	}

	job, err := s.jobs.FindByID(ctx, app.JobID)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	if job == nil || job.EmployerID != employerID {
		return nil, model.NewApplicationNotFoundError(applicationID)
	}
	return app, nil
}
