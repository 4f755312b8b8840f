package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

// JobServiceInterface は求人ハンドラーが必要とするサービスインターフェース。
type JobServiceInterface interface {
	ListOpen(ctx context.Context) ([]model.JobPosting, error)
	ListNearby(ctx context.Context, origin model.GeoPoint, radiusKm float64) ([]geo.RankedJob, error)
	ListByEmployer(ctx context.Context, employerID string) ([]model.JobPosting, error)
	Create(ctx context.Context, employerID string, fields model.JobFields) (*model.JobPosting, error)
	Delete(ctx context.Context, employerID, jobID string) error
	Close(ctx context.Context, employerID, jobID string) error
}

// JobHandler は求人のHTTPハンドラー。
type JobHandler struct {
	service JobServiceInterface
}

// NewJobHandler はJobHandlerを生成する。
func NewJobHandler(service JobServiceInterface) *JobHandler {
	return &JobHandler{service: service}
}

// ListJobs は募集中の求人を新しい順に返す。
// lat・lngが指定された場合は既定の半径内の求人を近い順に返す。
// GET /api/jobs?lat=&lng=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		jobs, err := h.service.ListOpen(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wire.FromJobs(jobs))
		return
	}

	origin, err := parseNearbyQuery(q.Get("lat"), q.Get("lng"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	ranked, err := h.service.ListNearby(r.Context(), origin, 0)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromRankedJobs(ranked))
}

// ListMyJobs はログイン中の雇用主が投稿した求人を返す。
// GET /api/jobs/mine
func (h *JobHandler) ListMyJobs(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	jobs, err := h.service.ListByEmployer(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromJobs(jobs))
}

// CreateJob は求人を投稿する。
// POST /api/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var fields model.JobFields
	if err := decodeJSON(w, r, &fields); err != nil {
		handleServiceError(w, r, err)
		return
	}

	job, err := h.service.Create(r.Context(), accountID, fields)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.FromJob(job))
}

// DeleteJob は求人を削除する。投稿者以外は404になる。
// DELETE /api/jobs/{id}
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), accountID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseJob は求人の募集を締め切る。
// POST /api/jobs/{id}/close
func (h *JobHandler) CloseJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	if err := h.service.Close(r.Context(), accountID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseNearbyQuery は近隣検索のクエリパラメータを解析する。
// 半径はサーバー設定で固定のため受け付けない。
func parseNearbyQuery(latStr, lngStr string) (model.GeoPoint, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || !isFinite(lat) || lat < -90 || lat > 90 {
		return model.GeoPoint{}, model.NewValidationError("lat", "Invalid Location", "Latitude must be between -90 and 90")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil || !isFinite(lng) || lng < -180 || lng > 180 {
		return model.GeoPoint{}, model.NewValidationError("lng", "Invalid Location", "Longitude must be between -180 and 180")
	}
	return model.GeoPoint{Lat: lat, Lng: lng}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
