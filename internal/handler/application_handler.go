package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

// ApplicationServiceInterface は応募ハンドラーが必要とするサービスインターフェース。
type ApplicationServiceInterface interface {
	Apply(ctx context.Context, workerID, jobID, message string) (*model.Application, error)
	UpdateStatus(ctx context.Context, employerID, applicationID string, status model.ApplicationStatus) (*model.Application, error)
	ListForJob(ctx context.Context, employerID, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error)
	ListForWorker(ctx context.Context, workerID string) ([]model.Application, error)
}

// ApplicationHandler は応募のHTTPハンドラー。
type ApplicationHandler struct {
	service ApplicationServiceInterface
}

// NewApplicationHandler はApplicationHandlerを生成する。
func NewApplicationHandler(service ApplicationServiceInterface) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// Apply はログイン中の労働者として求人に応募する。メッセージは任意。
// POST /api/jobs/{id}/applications
func (h *ApplicationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req wire.ApplyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	app, err := h.service.Apply(r.Context(), accountID, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.FromApplication(app))
}

// ListForJob は求人への応募一覧を返す。statusで絞り込める。
// GET /api/jobs/{id}/applications?status=
func (h *ApplicationHandler) ListForJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	status := model.ApplicationStatus(r.URL.Query().Get("status"))
	apps, err := h.service.ListForJob(r.Context(), accountID, chi.URLParam(r, "id"), status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromApplicationsWithWorker(apps))
}

// UpdateStatus は応募を承認または却下する。
// PATCH /api/applications/{id}
func (h *ApplicationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req wire.StatusUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	app, err := h.service.UpdateStatus(r.Context(), accountID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromApplication(app))
}

// ListMine はログイン中の労働者の応募一覧を返す。
// GET /api/applications/mine
func (h *ApplicationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	apps, err := h.service.ListForWorker(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromApplications(apps))
}
