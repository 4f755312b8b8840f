package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/middleware"
	"github.com/ruralink/kaaryasetu/internal/model"
)

// --- モック定義 ---

// mockAuthenticator はトークンとセッションの対応表で認証する。
type mockAuthenticator struct {
	sessions map[string]*model.Session
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if s, ok := m.sessions[token]; ok {
		return s, nil
	}
	return nil, model.NewUnauthorizedError()
}

type mockIdentityService struct {
	sendChallengeFn    func(ctx context.Context, identifier string) error
	verifyChallengeFn  func(ctx context.Context, identifier, code string) (*model.AuthResult, error)
	passwordLoginFn    func(ctx context.Context, identifier, password string) (*model.AuthResult, error)
	passwordRegisterFn func(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error)
	logoutFn           func(ctx context.Context, sessionID string) error
	currentAccountFn   func(ctx context.Context, accountID string) (*model.Account, error)
}

func (m *mockIdentityService) SendChallenge(ctx context.Context, identifier string) error {
	if m.sendChallengeFn != nil {
		return m.sendChallengeFn(ctx, identifier)
	}
	return nil
}

func (m *mockIdentityService) VerifyChallenge(ctx context.Context, identifier, code string) (*model.AuthResult, error) {
	if m.verifyChallengeFn != nil {
		return m.verifyChallengeFn(ctx, identifier, code)
	}
	return nil, nil
}

func (m *mockIdentityService) PasswordLogin(ctx context.Context, identifier, password string) (*model.AuthResult, error) {
	if m.passwordLoginFn != nil {
		return m.passwordLoginFn(ctx, identifier, password)
	}
	return nil, nil
}

func (m *mockIdentityService) PasswordRegister(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error) {
	if m.passwordRegisterFn != nil {
		return m.passwordRegisterFn(ctx, identifier, password, meta)
	}
	return nil, nil
}

func (m *mockIdentityService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockIdentityService) CurrentAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if m.currentAccountFn != nil {
		return m.currentAccountFn(ctx, accountID)
	}
	return nil, model.NewAccountNotFoundError()
}

type mockProfileService struct {
	fetchFn  func(ctx context.Context, accountID string) (*model.Profile, error)
	createFn func(ctx context.Context, accountID string, fields model.ProfileFields) (*model.Profile, error)
}

func (m *mockProfileService) Fetch(ctx context.Context, accountID string) (*model.Profile, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, accountID)
	}
	return nil, model.NewProfileNotFoundError(accountID)
}

func (m *mockProfileService) Create(ctx context.Context, accountID string, fields model.ProfileFields) (*model.Profile, error) {
	if m.createFn != nil {
		return m.createFn(ctx, accountID, fields)
	}
	return nil, nil
}

type mockJobService struct {
	listOpenFn       func(ctx context.Context) ([]model.JobPosting, error)
	listNearbyFn     func(ctx context.Context, origin model.GeoPoint, radiusKm float64) ([]geo.RankedJob, error)
	listByEmployerFn func(ctx context.Context, employerID string) ([]model.JobPosting, error)
	createFn         func(ctx context.Context, employerID string, fields model.JobFields) (*model.JobPosting, error)
	deleteFn         func(ctx context.Context, employerID, jobID string) error
	closeFn          func(ctx context.Context, employerID, jobID string) error
}

func (m *mockJobService) ListOpen(ctx context.Context) ([]model.JobPosting, error) {
	if m.listOpenFn != nil {
		return m.listOpenFn(ctx)
	}
	return nil, nil
}

func (m *mockJobService) ListNearby(ctx context.Context, origin model.GeoPoint, radiusKm float64) ([]geo.RankedJob, error) {
	if m.listNearbyFn != nil {
		return m.listNearbyFn(ctx, origin, radiusKm)
	}
	return nil, nil
}

func (m *mockJobService) ListByEmployer(ctx context.Context, employerID string) ([]model.JobPosting, error) {
	if m.listByEmployerFn != nil {
		return m.listByEmployerFn(ctx, employerID)
	}
	return nil, nil
}

func (m *mockJobService) Create(ctx context.Context, employerID string, fields model.JobFields) (*model.JobPosting, error) {
	if m.createFn != nil {
		return m.createFn(ctx, employerID, fields)
	}
	return nil, nil
}

func (m *mockJobService) Delete(ctx context.Context, employerID, jobID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, employerID, jobID)
	}
	return nil
}

func (m *mockJobService) Close(ctx context.Context, employerID, jobID string) error {
	if m.closeFn != nil {
		return m.closeFn(ctx, employerID, jobID)
	}
	return nil
}

type mockApplicationService struct {
	applyFn         func(ctx context.Context, workerID, jobID, message string) (*model.Application, error)
	updateStatusFn  func(ctx context.Context, employerID, applicationID string, status model.ApplicationStatus) (*model.Application, error)
	listForJobFn    func(ctx context.Context, employerID, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error)
	listForWorkerFn func(ctx context.Context, workerID string) ([]model.Application, error)
}

func (m *mockApplicationService) Apply(ctx context.Context, workerID, jobID, message string) (*model.Application, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, workerID, jobID, message)
	}
	return nil, nil
}

func (m *mockApplicationService) UpdateStatus(ctx context.Context, employerID, applicationID string, status model.ApplicationStatus) (*model.Application, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, employerID, applicationID, status)
	}
	return nil, nil
}

func (m *mockApplicationService) ListForJob(ctx context.Context, employerID, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error) {
	if m.listForJobFn != nil {
		return m.listForJobFn(ctx, employerID, jobID, status)
	}
	return nil, nil
}

func (m *mockApplicationService) ListForWorker(ctx context.Context, workerID string) ([]model.Application, error) {
	if m.listForWorkerFn != nil {
		return m.listForWorkerFn(ctx, workerID)
	}
	return nil, nil
}

type mockStatsService struct {
	countsFn func(ctx context.Context) (model.Counts, error)
}

func (m *mockStatsService) Counts(ctx context.Context) (model.Counts, error) {
	if m.countsFn != nil {
		return m.countsFn(ctx)
	}
	return model.Counts{}, nil
}

// --- ヘルパー ---

const (
	workerToken   = "worker-token"
	employerToken = "employer-token"
)

// newTestDeps は全サービスをモックにしたRouterDepsを返す。
// workerToken・employerTokenの2つのトークンで認証できる。
func newTestDeps(t *testing.T) *RouterDeps {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	expires := time.Now().Add(time.Hour)
	return &RouterDeps{
		Authenticator: &mockAuthenticator{sessions: map[string]*model.Session{
			workerToken:   {ID: "session-w", AccountID: "worker-1", ExpiresAt: expires},
			employerToken: {ID: "session-e", AccountID: "employer-1", ExpiresAt: expires},
		}},
		CORSAllowedOrigin:  "http://localhost:5173",
		RateLimiter:        rl,
		Logger:             discardLogger(),
		IdentityService:    &mockIdentityService{},
		ProfileService:     &mockProfileService{},
		JobService:         &mockJobService{},
		ApplicationService: &mockApplicationService{},
		StatsService:       &mockStatsService{},
	}
}

// serve はルーターにリクエストを送り、レスポンスを返す。
// tokenが空でない場合はBearerトークンを付与する。
func serve(t *testing.T, deps *RouterDeps, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serveRequest(NewRouter(deps), req)
}

// serveWith は構築済みのルーターにリクエストを送る。
func serveWith(router http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serveRequest(router, req)
}

func serveRequest(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// decodeError はエラーレスポンスのボディをデコードする。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}

func ptr(f float64) *float64 { return &f }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newCookieRequest はセッションCookieで認証するリクエストを生成する。
func newCookieRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	return req
}
