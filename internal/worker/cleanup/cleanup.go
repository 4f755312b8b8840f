// Package cleanup は期限切れのOTPチャレンジとセッションの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruralink/kaaryasetu/internal/metrics"
)

// DefaultInterval は削除ジョブの実行間隔の既定値。
const DefaultInterval = time.Hour

// ExpiredDeleter はbefore以前に期限切れとなった行を削除し、削除件数を返す。
// repository.ChallengeRepositoryとrepository.SessionRepositoryが実装する。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れのOTPチャレンジとセッションを削除する。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	challenges ExpiredDeleter
	sessions   ExpiredDeleter
	collector  metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(challenges, sessions ExpiredDeleter, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		challenges: challenges,
		sessions:   sessions,
		collector:  metrics.OrNop(collector),
		logger:     logger,
		now:        time.Now,
	}
}

// Run は期限切れのチャレンジとセッションを1回削除する。
// 片方が失敗してももう片方は実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	targets := []struct {
		kind    string
		deleter ExpiredDeleter
	}{
		{"challenges", j.challenges},
		{"sessions", j.sessions},
	}

	var firstErr error
	for _, target := range targets {
		deleted, err := target.deleter.DeleteExpired(ctx, cutoff)
		if err != nil {
			j.logger.Error("期限切れデータの削除に失敗しました",
				slog.String("kind", target.kind),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("%sの削除に失敗: %w", target.kind, err)
			}
			continue
		}

		j.collector.RecordCleanupPurged(target.kind, deleted)
		j.logger.Info("期限切れデータを削除しました",
			slog.String("kind", target.kind),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return firstErr
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
