package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Fetch(ctx context.Context, accountID string) (*model.Profile, error)
	Create(ctx context.Context, accountID string, fields model.ProfileFields) (*model.Profile, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// GetProfile はアカウントのプロフィールを返す。
// GET /api/profiles/{accountID}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Fetch(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wire.FromProfile(profile))
}

// CreateProfile はログイン中のアカウントのプロフィールを作成する。
// POST /api/profiles
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var fields model.ProfileFields
	if err := decodeJSON(w, r, &fields); err != nil {
		handleServiceError(w, r, err)
		return
	}

	profile, err := h.service.Create(r.Context(), accountID, fields)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, wire.FromProfile(profile))
}
