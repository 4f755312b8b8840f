// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// SessionCookieName はブラウザ向けにセッショントークンを保持するCookieの名前。
const SessionCookieName = "kaaryasetu_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// accountIDContextKey はリクエストコンテキストにアカウントIDを格納するためのキー。
	accountIDContextKey = contextKey("account_id")
	// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
)

// SessionAuthenticator はセッショントークンの検証に必要なインターフェース。
// identity.Serviceが実装する。
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はAuthorizationヘッダーのBearerトークン、
// またはセッションCookieからトークンを読み取り、有効性を検証するミドルウェアを返す。
// 認証済みアカウントIDとセッションIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(authenticator SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. トークンを取得
			token := TokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. トークンとセッションの有効性を検証
			session, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if !model.IsKind(err, model.KindCredential) {
					slog.Error("failed to authenticate session",
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済みアカウントIDをコンテキストに注入
			ctx := ContextWithSession(r.Context(), session.AccountID, session.ID)
			recordContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// Authorizationヘッダーを優先し、なければCookieを使う。
func TokenFromRequest(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("account ID not found in context")
	}
	return accountID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDContextKey, accountID)
}

// ContextWithSession はコンテキストにアカウントIDとセッションIDを注入する。
func ContextWithSession(ctx context.Context, accountID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, accountIDContextKey, accountID)
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
