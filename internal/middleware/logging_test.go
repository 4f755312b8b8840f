package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruralink/kaaryasetu/internal/model"
)

// logOneRequest はhandlerをロギングミドルウェアで包んでreqを処理し、出力されたログエントリを返す。
// エントリが出力されなかった場合はnilを返す。
func logOneRequest(t *testing.T, handler http.Handler, req *http.Request) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	NewLoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), req)

	if buf.Len() == 0 {
		return nil
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	entry := logOneRequest(t, statusHandler(http.StatusOK), httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

	if entry["msg"] != "http_request" || entry["method"] != "GET" || entry["path"] != "/api/jobs" {
		t.Errorf("entry = %v", entry)
	}
	if status, _ := entry["status"].(float64); status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v", entry["duration_ms"])
	}
	if _, ok := entry["account_id"]; ok {
		t.Error("account_id should be omitted for unauthenticated request")
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string // 空の場合はInfoレベルのロガーでは出力されない
	}{
		{name: "成功", path: "/api/jobs", status: http.StatusCreated, wantLevel: "INFO"},
		{name: "応募済み", path: "/api/jobs/j1/applications", status: http.StatusConflict, wantLevel: "WARN"},
		{name: "DB停止", path: "/api/stats", status: http.StatusServiceUnavailable, wantLevel: "ERROR"},
		{name: "ヘルスチェック成功", path: "/health", status: http.StatusOK, wantLevel: ""},
		{name: "ヘルスチェック失敗", path: "/health", status: http.StatusServiceUnavailable, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := logOneRequest(t, statusHandler(tt.status), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if tt.wantLevel == "" {
				if entry != nil {
					t.Errorf("expected no info log, got %v", entry)
				}
				return
			}
			if entry == nil {
				t.Fatal("expected a log entry")
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if status := int(entry["status"].(float64)); status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestLoggingMiddleware_ImplicitOKOnWrite(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workers":3}`))
	})

	entry := logOneRequest(t, handler, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}

func TestLoggingMiddleware_RecordsAccountFromSession(t *testing.T) {
	auth := &mockAuthenticator{sessions: map[string]*model.Session{
		"tok-1": {ID: "sess-1", AccountID: "acc-logged"},
	}}
	handler := NewSessionMiddleware(auth)(statusHandler(http.StatusNoContent))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/j1/close", nil)
	req.Header.Set("Authorization", "Bearer tok-1")

	entry := logOneRequest(t, handler, req)
	if entry["account_id"] != "acc-logged" {
		t.Errorf("account_id = %v, want acc-logged", entry["account_id"])
	}
}

func TestLoggingMiddleware_RecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger))
	r.Delete("/api/jobs/{id}", statusHandler(http.StatusNoContent).ServeHTTP)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/jobs/3f2a", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["route"] != "/api/jobs/{id}" {
		t.Errorf("route = %v, want /api/jobs/{id}", entry["route"])
	}
	if entry["path"] != "/api/jobs/3f2a" {
		t.Errorf("path = %v", entry["path"])
	}
}
