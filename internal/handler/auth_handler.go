// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ruralink/kaaryasetu/internal/middleware"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

// IdentityServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type IdentityServiceInterface interface {
	SendChallenge(ctx context.Context, identifier string) error
	VerifyChallenge(ctx context.Context, identifier, code string) (*model.AuthResult, error)
	PasswordLogin(ctx context.Context, identifier, password string) (*model.AuthResult, error)
	PasswordRegister(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentAccount(ctx context.Context, accountID string) (*model.Account, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOTP・パスワード認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  IdentityServiceInterface
	profiles ProfileServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service IdentityServiceInterface, profiles ProfileServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		config:   config,
	}
}

// SendOTP はワンタイムコードを送信する。
// POST /auth/otp/send
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req wire.ChallengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.service.SendChallenge(r.Context(), req.Identifier); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// VerifyOTP はワンタイムコードを検証し、セッションを発行する。
// POST /auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req wire.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.VerifyChallenge(r.Context(), req.Identifier, req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, http.StatusOK, result)
}

// Login はパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.PasswordLogin(r.Context(), req.Identifier, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, http.StatusOK, result)
}

// Register はパスワードでアカウントを新規登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.PasswordRegister(r.Context(), req.Identifier, req.Password, model.RegistrationMeta{
		Role:        req.Role,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.writeAuthResult(w, http.StatusCreated, result)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err == nil {
		if logoutErr := h.service.Logout(r.Context(), sessionID); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.setSessionCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のアカウントとプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	account, err := h.service.CurrentAccount(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := wire.Me{Account: wire.FromAccount(account)}

	// プロフィール未作成はエラーにしない
	profile, err := h.profiles.Fetch(r.Context(), accountID)
	switch {
	case err == nil:
		p := wire.FromProfile(profile)
		resp.Profile = &p
	case model.IsKind(err, model.KindNotFound):
	default:
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeAuthResult はセッションCookieを設定し、認証結果を返す。
// ブラウザ以外のクライアントはレスポンスのトークンをBearerとして使う。
func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, statusCode int, result *model.AuthResult) {
	h.setSessionCookie(w, result.Token, h.config.SessionMaxAge)
	writeJSON(w, statusCode, result)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
