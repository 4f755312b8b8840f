// Package profile はプロフィール管理のドメインロジックを提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/repository"
	"github.com/ruralink/kaaryasetu/internal/security"
)

// Service はプロフィール管理のサービス層。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// sanitizerがnilの場合は既定のTextSanitizerを使用する。
func NewService(repo repository.ProfileRepository, sanitizer security.TextSanitizer) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Fetch はアカウントのプロフィールを返す。
// 未作成の場合はNotFoundのAPIErrorを返す。
func (s *Service) Fetch(ctx context.Context, accountID string) (*model.Profile, error) {
	if !model.IsValidID(accountID) {
		return nil, model.NewProfileNotFoundError(accountID)
	}
	p, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError(accountID)
	}
	return p, nil
}

// Create はアカウントのプロフィールを作成する。
// 作成済みの場合はProfileExistsエラーを返す。
func (s *Service) Create(ctx context.Context, accountID string, fields model.ProfileFields) (*model.Profile, error) {
	// 1. 入力値を整形して検証
	fields = model.ProfileFields{
		DisplayName: s.sanitizer.Sanitize(fields.DisplayName),
		Role:        fields.Role,
		Phone:       s.sanitizer.Sanitize(fields.Phone),
		Email:       s.sanitizer.Sanitize(fields.Email),
		Location:    s.sanitizer.Sanitize(fields.Location),
	}
	if err := validate(fields); err != nil {
		return nil, err
	}

	// 2. 保存
	now := s.now()
	p := &model.Profile{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		DisplayName: fields.DisplayName,
		Role:        fields.Role,
		Phone:       fields.Phone,
		Email:       fields.Email,
		Location:    fields.Location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewProfileExistsError()
		}
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	slog.Info("プロフィールを作成しました",
		slog.String("account_id", accountID),
		slog.String("role", string(p.Role)),
	)
	return p, nil
}

func validate(fields model.ProfileFields) error {
	if fields.DisplayName == "" {
		return model.NewValidationError("display_name", "Missing Information", "Please enter your name.")
	}
	if !fields.Role.Valid() {
		return model.NewValidationError("role", "Invalid Role", "Please choose whether you are a worker or an employer.")
	}
	return nil
}
