// Package client はバックエンドAPIのHTTPクライアントと、端末側のサインイン状態を管理するSessionを提供する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/middleware"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

const (
	// DefaultTimeout はAPI呼び出しのタイムアウトの既定値。
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 4 << 20
)

// APIClient はバックエンドAPIのHTTPクライアント。
// authflow.IdentityServiceとauthflow.ProfileStoreを実装する。
// 認証に成功するとトークンを保持し、以降のリクエストにBearerトークンとして付与する。
type APIClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPIClient はAPIClientの新しいインスタンスを生成する。
// httpClientがnilの場合はDefaultTimeoutのクライアントを使用する。
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Token は保持しているセッショントークンを返す。
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken はセッショントークンを設定する。空文字で破棄する。
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// --- 認証 ---

// SendChallenge は識別子宛てにワンタイムコードを送信する。
func (c *APIClient) SendChallenge(ctx context.Context, identifier string) error {
	return c.do(ctx, http.MethodPost, "/auth/otp/send", wire.ChallengeRequest{Identifier: identifier}, nil)
}

// VerifyChallenge はワンタイムコードを検証する。
func (c *APIClient) VerifyChallenge(ctx context.Context, identifier, code string) (*model.AuthResult, error) {
	return c.authenticate(ctx, "/auth/otp/verify", wire.VerifyRequest{Identifier: identifier, Code: code})
}

// PasswordLogin はパスワードでログインする。
func (c *APIClient) PasswordLogin(ctx context.Context, identifier, password string) (*model.AuthResult, error) {
	return c.authenticate(ctx, "/auth/login", wire.LoginRequest{Identifier: identifier, Password: password})
}

// PasswordRegister はパスワードでアカウントを新規登録する。
func (c *APIClient) PasswordRegister(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error) {
	return c.authenticate(ctx, "/auth/register", wire.RegisterRequest{
		Identifier:  identifier,
		Password:    password,
		Role:        meta.Role,
		DisplayName: meta.DisplayName,
	})
}

func (c *APIClient) authenticate(ctx context.Context, path string, body any) (*model.AuthResult, error) {
	var result model.AuthResult
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	c.SetToken(result.Token)
	return &result, nil
}

// Logout はサーバー側のセッションを破棄し、保持しているトークンを捨てる。
// サーバー呼び出しが失敗してもトークンは破棄する。
func (c *APIClient) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// Me は現在のアカウントとプロフィールを返す。
func (c *APIClient) Me(ctx context.Context) (*wire.Me, error) {
	var me wire.Me
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// --- プロフィール ---

// FetchProfile はアカウントのプロフィールを取得する。
func (c *APIClient) FetchProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	var p wire.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(accountID), nil, &p); err != nil {
		return nil, err
	}
	return p.Model(), nil
}

// CreateProfile はログイン中のアカウントのプロフィールを作成する。
// accountIDはトークンから決まるため送信しない。
func (c *APIClient) CreateProfile(ctx context.Context, accountID string, fields model.ProfileFields) (*model.Profile, error) {
	var p wire.Profile
	if err := c.do(ctx, http.MethodPost, "/api/profiles", fields, &p); err != nil {
		return nil, err
	}
	return p.Model(), nil
}

// --- 求人 ---

// ListOpenJobs は募集中の求人を新しい順に返す。
func (c *APIClient) ListOpenJobs(ctx context.Context) ([]model.JobPosting, error) {
	var jobs []wire.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return toJobPostings(jobs)
}

// ListNearbyJobs はoriginからサーバー既定の半径以内の求人を近い順に返す。
func (c *APIClient) ListNearbyJobs(ctx context.Context, origin model.GeoPoint) ([]geo.RankedJob, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(origin.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(origin.Lng, 'f', -1, 64))

	var jobs []wire.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs?"+q.Encode(), nil, &jobs); err != nil {
		return nil, err
	}
	return toRankedJobs(jobs)
}

// ListMyJobs はログイン中の雇用主の求人を返す。
func (c *APIClient) ListMyJobs(ctx context.Context) ([]model.JobPosting, error) {
	var jobs []wire.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/mine", nil, &jobs); err != nil {
		return nil, err
	}
	return toJobPostings(jobs)
}

// CreateJob は求人を投稿する。
func (c *APIClient) CreateJob(ctx context.Context, fields model.JobFields) (*model.JobPosting, error) {
	var j wire.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", fields, &j); err != nil {
		return nil, err
	}
	return j.Model()
}

// DeleteJob は求人を削除する。
func (c *APIClient) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(jobID), nil, nil)
}

// CloseJob は求人の募集を締め切る。
func (c *APIClient) CloseJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/close", nil, nil)
}

// --- 応募 ---

// Apply は求人に応募する。
func (c *APIClient) Apply(ctx context.Context, jobID, message string) (*model.Application, error) {
	var a wire.Application
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/applications", wire.ApplyRequest{Message: message}, &a); err != nil {
		return nil, err
	}
	app := a.Model().Application
	return &app, nil
}

// ListApplications は求人への応募を返す。statusが空の場合は全件を返す。
func (c *APIClient) ListApplications(ctx context.Context, jobID string, status model.ApplicationStatus) ([]model.ApplicationWithWorker, error) {
	path := "/api/jobs/" + url.PathEscape(jobID) + "/applications"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}

	var apps []wire.Application
	if err := c.do(ctx, http.MethodGet, path, nil, &apps); err != nil {
		return nil, err
	}
	out := make([]model.ApplicationWithWorker, 0, len(apps))
	for _, a := range apps {
		out = append(out, a.Model())
	}
	return out, nil
}

// UpdateApplicationStatus は応募を承認または却下する。
func (c *APIClient) UpdateApplicationStatus(ctx context.Context, applicationID string, status model.ApplicationStatus) (*model.Application, error) {
	var a wire.Application
	if err := c.do(ctx, http.MethodPatch, "/api/applications/"+url.PathEscape(applicationID), wire.StatusUpdateRequest{Status: status}, &a); err != nil {
		return nil, err
	}
	app := a.Model().Application
	return &app, nil
}

// ListMyApplications はログイン中の労働者の応募を返す。
func (c *APIClient) ListMyApplications(ctx context.Context) ([]model.Application, error) {
	var apps []wire.Application
	if err := c.do(ctx, http.MethodGet, "/api/applications/mine", nil, &apps); err != nil {
		return nil, err
	}
	out := make([]model.Application, 0, len(apps))
	for _, a := range apps {
		out = append(out, a.Model().Application)
	}
	return out, nil
}

// --- 統計 ---

// Counts は労働者数・求人数・締切済み求人数・成約率を返す。
func (c *APIClient) Counts(ctx context.Context) (model.Counts, error) {
	var counts wire.Counts
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &counts); err != nil {
		return model.Counts{}, err
	}
	return counts.Model(), nil
}

// do はリクエストを送り、成功時はレスポンスをoutにデコードする。
// エラーレスポンスはAPIErrorに戻し、通信エラーはTransientErrorとして返す。
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w", method, path, model.NewTransientError("Unable to reach the server. Please check your connection."))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, model.NewTransientError("The server response was interrupted."))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeErrorResponse(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeErrorResponse はエラーレスポンスのボディをAPIErrorに戻す。
// 分類が読み取れない場合はTransientErrorとして扱う。
func decodeErrorResponse(statusCode int, data []byte) error {
	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(data, &body); err != nil || body.Kind == "" {
		return model.NewTransientError(fmt.Sprintf("The server returned status %d. Please try again.", statusCode))
	}
	return body.APIError()
}

func toRankedJobs(jobs []wire.Job) ([]geo.RankedJob, error) {
	out := make([]geo.RankedJob, 0, len(jobs))
	for _, j := range jobs {
		m, err := j.Model()
		if err != nil {
			return nil, err
		}
		out = append(out, geo.RankedJob{Job: *m, DistanceKm: j.DistanceKm})
	}
	return out, nil
}

func toJobPostings(jobs []wire.Job) ([]model.JobPosting, error) {
	out := make([]model.JobPosting, 0, len(jobs))
	for _, j := range jobs {
		m, err := j.Model()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}
