// Package stats はトップページに表示する集計値を提供する。
package stats

import (
	"context"
	"fmt"
	"math"

	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/repository"
)

// Service は集計値のサービス層。
type Service struct {
	repo repository.StatsRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.StatsRepository) *Service {
	return &Service{repo: repo}
}

// Counts は労働者数・求人数・終了済み求人数と成功率を返す。
func (s *Service) Counts(ctx context.Context) (model.Counts, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return model.Counts{}, fmt.Errorf("集計値の取得に失敗しました: %w", err)
	}
	counts.SuccessRate = SuccessRate(counts.ClosedJobs, counts.Jobs)
	return counts, nil
}

// SuccessRate は終了済み求人の割合を百分率で四捨五入して返す。
// 求人がない場合は0を返す。
func SuccessRate(closed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(closed) / float64(total) * 100))
}
