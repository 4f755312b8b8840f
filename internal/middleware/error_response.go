package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// クライアントはこの形式をmodel.APIErrorに復元する。
type ErrorResponseBody struct {
	Kind     string `json:"kind"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Severity string `json:"severity"`
}

// NewErrorResponseBody はAPIErrorをレスポンスボディに変換する。
func NewErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Kind:     string(apiErr.Kind),
		Code:     apiErr.Code,
		Title:    apiErr.Title,
		Message:  apiErr.Message,
		Field:    apiErr.Field,
		Severity: string(apiErr.Severity),
	}
}

// APIError はレスポンスボディをmodel.APIErrorに復元する。
func (b ErrorResponseBody) APIError() *model.APIError {
	return &model.APIError{
		Kind:     model.ErrorKind(b.Kind),
		Code:     b.Code,
		Title:    b.Title,
		Message:  b.Message,
		Field:    b.Field,
		Severity: model.Severity(b.Severity),
	}
}

// StatusForKind はエラー分類に対応するHTTPステータスコードを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindCredential:
		return http.StatusUnauthorized
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONBody(w, statusCode, NewErrorResponseBody(apiErr))
}

func writeJSONBody(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteAPIError はAPIErrorの分類に対応するステータスコードでレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForKind(apiErr.Kind), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Title:    "Error",
		Message:  "Something went wrong. Please try again.",
		Severity: model.SeverityDestructive,
	})
}
