package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
// ctxには後段のミドルウェアが注入したコンテキストを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
	ctx        context.Context
}

// Flush はSSEのストリーミングのために委譲する。
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap はhttp.ResponseControllerが元のResponseWriterに到達するために使う。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、route（chi配下の場合）、account_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				ctx:            r.Context(),
			}

			next.ServeHTTP(rec, r.WithContext(withRecorder(r.Context(), rec)))

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			// /api/jobs/{id} のようにIDを含まない形で集計できるよう、ルートパターンも出力する
			if rctx := chi.RouteContext(rec.ctx); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					args = append(args, slog.String("route", pattern))
				}
			}

			if accountID, err := AccountIDFromContext(rec.ctx); err == nil {
				args = append(args, slog.String("account_id", accountID))
			}

			logger.Log(r.Context(), requestLogLevel(r.URL.Path, rec.statusCode), "http_request", args...)
		})
	}
}

// requestLogLevel はステータスコードに応じたログレベルを返す。
// ヘルスチェックとメトリクス収集の成功はDebugに落とす。
func requestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case path == "/health" || path == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

var recorderContextKey = contextKey("status_recorder")

// withRecorder は後段でコンテキストを記録できるようにrecorderをコンテキストに格納する。
func withRecorder(ctx context.Context, rec *statusRecorder) context.Context {
	return context.WithValue(ctx, recorderContextKey, rec)
}

// recordContext はロギングミドルウェアに認証済みのコンテキストを伝える。
func recordContext(ctx context.Context) {
	if rec, ok := ctx.Value(recorderContextKey).(*statusRecorder); ok {
		rec.ctx = ctx
	}
}
