package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/realtime"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

// defaultKeepAlive はSSEストリームでコメント行を送る間隔。
const defaultKeepAlive = 25 * time.Second

// StatsServiceInterface は統計ハンドラーが必要とするサービスインターフェース。
type StatsServiceInterface interface {
	Counts(ctx context.Context) (model.Counts, error)
}

// ChangeSubscriber はデータ変更通知の購読インターフェース。
type ChangeSubscriber interface {
	Subscribe() (<-chan realtime.Change, func())
}

// StatsHandler は統計情報のHTTPハンドラー。
type StatsHandler struct {
	service   StatsServiceInterface
	changes   ChangeSubscriber
	keepAlive time.Duration
}

// NewStatsHandler はStatsHandlerを生成する。
// changesがnilの場合、ストリームは初回の統計のみを送る。
func NewStatsHandler(service StatsServiceInterface, changes ChangeSubscriber) *StatsHandler {
	return &StatsHandler{
		service:   service,
		changes:   changes,
		keepAlive: defaultKeepAlive,
	}
}

// GetStats は労働者数・求人数・締切済み求人数・成約率を返す。
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Counts(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromCounts(counts))
}

// Stream は統計情報をServer-Sent Eventsで配信する。
// 接続直後に1回送り、以降はprofiles・jobsの変更通知を受けるたびに再送する。
// GET /api/stats/stream
func (h *StatsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var changes <-chan realtime.Change
	if h.changes != nil {
		ch, unsubscribe := h.changes.Subscribe()
		defer unsubscribe()
		changes = ch
	}

	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutで長時間接続が切られないよう期限を解除する
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("write deadline not supported", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := h.sendCounts(ctx, w, rc); err != nil {
		slog.Warn("stats stream closed", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !affectsCounts(change.Table) {
				continue
			}
			if err := h.sendCounts(ctx, w, rc); err != nil {
				slog.Warn("stats stream closed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// sendCounts は現在の統計を1イベントとして書き込む。
// 統計の取得に失敗した場合はerrorイベントを送り、接続は維持する。
func (h *StatsHandler) sendCounts(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController) error {
	counts, err := h.service.Counts(ctx)
	if err != nil {
		slog.Error("failed to load stats for stream", slog.String("error", err.Error()))
		if _, werr := fmt.Fprint(w, "event: error\ndata: {}\n\n"); werr != nil {
			return werr
		}
		return rc.Flush()
	}

	data, err := json.Marshal(wire.FromCounts(counts))
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data); err != nil {
		return err
	}
	return rc.Flush()
}

// affectsCounts は変更されたテーブルが統計に影響するかを判定する。
// テーブル名が空の通知は取りこぼしの可能性があるため再送対象とする。
func affectsCounts(table string) bool {
	switch table {
	case "", "profiles", "jobs":
		return true
	}
	return false
}
