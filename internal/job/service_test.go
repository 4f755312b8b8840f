package job

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// --- モック ---

type mockJobRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*model.JobPosting, error)
	listOpenFn       func(ctx context.Context, limit int) ([]model.JobPosting, error)
	listByEmployerFn func(ctx context.Context, employerID string) ([]model.JobPosting, error)
	createFn         func(ctx context.Context, job *model.JobPosting) error
	deleteFn         func(ctx context.Context, id, employerID string) (bool, error)
	updateStatusFn   func(ctx context.Context, id, employerID string, status model.JobStatus) (bool, error)
}

func (m *mockJobRepo) FindByID(ctx context.Context, id string) (*model.JobPosting, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockJobRepo) ListOpen(ctx context.Context, limit int) ([]model.JobPosting, error) {
	return m.listOpenFn(ctx, limit)
}
func (m *mockJobRepo) ListByEmployer(ctx context.Context, employerID string) ([]model.JobPosting, error) {
	return m.listByEmployerFn(ctx, employerID)
}
func (m *mockJobRepo) Create(ctx context.Context, job *model.JobPosting) error {
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	return nil
}
func (m *mockJobRepo) Delete(ctx context.Context, id, employerID string) (bool, error) {
	return m.deleteFn(ctx, id, employerID)
}
func (m *mockJobRepo) UpdateStatus(ctx context.Context, id, employerID string, status model.JobStatus) (bool, error) {
	return m.updateStatusFn(ctx, id, employerID, status)
}

type mockProfileRepo struct {
	profiles map[string]*model.Profile
}

func (m *mockProfileRepo) FindByAccountID(_ context.Context, accountID string) (*model.Profile, error) {
	return m.profiles[accountID], nil
}
func (m *mockProfileRepo) Create(context.Context, *model.Profile) error {
	return nil
}

type recordingMetrics struct {
	categories []string
}

func (r *recordingMetrics) RecordAuthAttempt(string, string)   {}
func (r *recordingMetrics) RecordOTPSent()                     {}
func (r *recordingMetrics) RecordApplication(string)           {}
func (r *recordingMetrics) RecordHTTPStatus(int)               {}
func (r *recordingMetrics) RecordRequestLatency(time.Duration) {}
func (r *recordingMetrics) RecordCleanupPurged(string, int64)  {}

func (r *recordingMetrics) RecordJobCreated(category string) {
	r.categories = append(r.categories, category)
}

func employerProfiles() *mockProfileRepo {
	return &mockProfileRepo{profiles: map[string]*model.Profile{
		"emp-1":    {AccountID: "emp-1", Role: model.RoleEmployer, DisplayName: "Sunita"},
		"worker-1": {AccountID: "worker-1", Role: model.RoleWorker, DisplayName: "Ravi"},
	}}
}

func validFields() model.JobFields {
	return model.JobFields{
		Title:       "Paint school wall",
		Category:    "Painter",
		Description: "Two coats on the boundary wall",
		Location:    "Nashik",
		Date:        "2026-11-02",
		StartTime:   "09:00",
		EndTime:     "17:00",
		Pay:         "800/day",
	}
}

func ptr(f float64) *float64 { return &f }

func TestCreate_Success(t *testing.T) {
	var saved *model.JobPosting
	repo := &mockJobRepo{createFn: func(ctx context.Context, job *model.JobPosting) error {
		saved = job
		return nil
	}}
	rec := &recordingMetrics{}
	svc := NewService(repo, employerProfiles(), nil, rec, ServiceConfig{})

	fields := validFields()
	fields.Lat, fields.Lng = ptr(19.99), ptr(73.78)
	fields.Urgent = true

	job, err := svc.Create(context.Background(), "emp-1", fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil {
		t.Fatal("job was not saved")
	}
	if job.Pay != "₹800/day" {
		t.Errorf("Pay = %q, want ₹ prefixed", job.Pay)
	}
	if job.Time != "09:00 - 17:00" {
		t.Errorf("Time = %q", job.Time)
	}
	if !job.Date.Equal(time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", job.Date)
	}
	if job.Status != model.JobStatusOpen || job.EmployerID != "emp-1" || !job.Urgent {
		t.Errorf("job = %+v", job)
	}
	if len(rec.categories) != 1 || rec.categories[0] != "Painter" {
		t.Errorf("recorded categories = %v", rec.categories)
	}
}

func TestCreate_KeepsExistingPayPrefix(t *testing.T) {
	svc := NewService(&mockJobRepo{}, employerProfiles(), nil, nil, ServiceConfig{})

	fields := validFields()
	fields.Pay = "₹1,500/day"
	job, err := svc.Create(context.Background(), "emp-1", fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Pay != "₹1,500/day" {
		t.Errorf("Pay = %q, want unchanged", job.Pay)
	}
}

func TestCreate_SanitisesDescription(t *testing.T) {
	svc := NewService(&mockJobRepo{}, employerProfiles(), nil, nil, ServiceConfig{})

	fields := validFields()
	fields.Description = `<script>alert(1)</script>Bring <b>brushes</b>`
	job, err := svc.Create(context.Background(), "emp-1", fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(job.Description, "<") || strings.Contains(job.Description, "alert") {
		t.Errorf("Description = %q, markup leaked", job.Description)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(f *model.JobFields)
		wantField string
	}{
		{name: "タイトルなし", mutate: func(f *model.JobFields) { f.Title = "" }, wantField: "job"},
		{name: "報酬なし", mutate: func(f *model.JobFields) { f.Pay = " " }, wantField: "job"},
		{name: "不明なカテゴリ", mutate: func(f *model.JobFields) { f.Category = "Astronaut" }, wantField: "category"},
		{name: "日付形式不正", mutate: func(f *model.JobFields) { f.Date = "02/11/2026" }, wantField: "date"},
		{name: "開始時刻不正", mutate: func(f *model.JobFields) { f.StartTime = "9am" }, wantField: "start_time"},
		{name: "終了時刻不正", mutate: func(f *model.JobFields) { f.EndTime = "25:00" }, wantField: "end_time"},
		{name: "経度のみ", mutate: func(f *model.JobFields) { f.Lng = ptr(73.7) }, wantField: "location"},
		{name: "緯度範囲外", mutate: func(f *model.JobFields) { f.Lat, f.Lng = ptr(95), ptr(73.7) }, wantField: "location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockJobRepo{createFn: func(ctx context.Context, job *model.JobPosting) error {
				t.Error("Create should not be called")
				return nil
			}}
			svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})

			fields := validFields()
			tt.mutate(&fields)
			_, err := svc.Create(context.Background(), "emp-1", fields)
			apiErr, ok := model.AsAPIError(err)
			if !ok || apiErr.Kind != model.KindValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			if apiErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", apiErr.Field, tt.wantField)
			}
		})
	}
}

func TestCreate_ZeroCoordinateIsValid(t *testing.T) {
	svc := NewService(&mockJobRepo{}, employerProfiles(), nil, nil, ServiceConfig{})

	fields := validFields()
	fields.Lat, fields.Lng = ptr(0), ptr(0)
	job, err := svc.Create(context.Background(), "emp-1", fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := job.Coordinate(); !ok {
		t.Error("0,0 should be kept as a coordinate")
	}
}

func TestCreate_RequiresEmployer(t *testing.T) {
	svc := NewService(&mockJobRepo{}, employerProfiles(), nil, nil, ServiceConfig{})

	_, err := svc.Create(context.Background(), "worker-1", validFields())
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("worker: err = %v, want validation error", err)
	}

	_, err = svc.Create(context.Background(), "nobody", validFields())
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("no profile: err = %v, want not found", err)
	}
}

func TestListNearby_InvalidOrigin_ReturnsValidationError(t *testing.T) {
	repo := &mockJobRepo{listOpenFn: func(ctx context.Context, limit int) ([]model.JobPosting, error) {
		t.Error("ListOpen should not be called for an invalid origin")
		return nil, nil
	}}
	svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})

	for _, origin := range []model.GeoPoint{
		{Lat: math.NaN(), Lng: 73.78},
		{Lat: 19.99, Lng: math.Inf(-1)},
		{Lat: 91, Lng: 73.78},
	} {
		if _, err := svc.ListNearby(context.Background(), origin, 0); !model.IsKind(err, model.KindValidation) {
			t.Errorf("origin %v: err = %v, want validation error", origin, err)
		}
	}
}

func TestListNearby(t *testing.T) {
	// 基準点: ナーシク中心部
	origin := model.GeoPoint{Lat: 19.9975, Lng: 73.7898}
	repo := &mockJobRepo{listOpenFn: func(ctx context.Context, limit int) ([]model.JobPosting, error) {
		if limit != DefaultListLimit {
			t.Errorf("limit = %d, want %d", limit, DefaultListLimit)
		}
		return []model.JobPosting{
			{ID: "far", Lat: ptr(19.0760), Lng: ptr(72.8777)}, // ムンバイ（約160km）
			{ID: "none"}, // 座標なし
			{ID: "near", Lat: ptr(20.0059), Lng: ptr(73.7900)}, // 約1km
			{ID: "mid", Lat: ptr(20.0800), Lng: ptr(73.8000)},  // 約9km
		}, nil
	}}
	svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})

	ranked, err := svc.ListNearby(context.Background(), origin, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, r := range ranked {
		ids = append(ids, r.Job.ID)
	}
	if got := strings.Join(ids, ","); got != "near,mid,none" {
		t.Errorf("order = %s, want near,mid,none", got)
	}
}

func TestListOpen_RepoError(t *testing.T) {
	repo := &mockJobRepo{listOpenFn: func(ctx context.Context, limit int) ([]model.JobPosting, error) {
		return nil, errors.New("db down")
	}}
	svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})

	if _, err := svc.ListOpen(context.Background()); err == nil {
		t.Error("expected error")
	}
}

const testJobID = "6c1f4e2a-8b3d-4f5a-9e7c-2d1b0a3c4e5f"

func TestDeleteAndClose_NotOwner(t *testing.T) {
	repo := &mockJobRepo{
		deleteFn: func(ctx context.Context, id, employerID string) (bool, error) {
			return employerID == "emp-1", nil
		},
		updateStatusFn: func(ctx context.Context, id, employerID string, status model.JobStatus) (bool, error) {
			if status != model.JobStatusClosed {
				t.Errorf("status = %q, want closed", status)
			}
			return employerID == "emp-1", nil
		},
	}
	svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	if err := svc.Delete(ctx, "emp-1", testJobID); err != nil {
		t.Errorf("owner Delete: %v", err)
	}
	if err := svc.Delete(ctx, "emp-2", testJobID); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("non-owner Delete: err = %v, want not found", err)
	}
	if err := svc.Close(ctx, "emp-1", testJobID); err != nil {
		t.Errorf("owner Close: %v", err)
	}
	if err := svc.Close(ctx, "emp-2", testJobID); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("non-owner Close: err = %v, want not found", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := &mockJobRepo{findByIDFn: func(ctx context.Context, id string) (*model.JobPosting, error) {
		return nil, nil
	}}
	svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})

	if _, err := svc.Get(context.Background(), "00000000-0000-4000-8000-000000000000"); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestMalformedJobID_IsNotFound(t *testing.T) {
	repo := &mockJobRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.JobPosting, error) {
			t.Errorf("FindByID called with %q", id)
			return nil, nil
		},
		deleteFn: func(ctx context.Context, id, employerID string) (bool, error) {
			t.Errorf("Delete called with %q", id)
			return false, nil
		},
		updateStatusFn: func(ctx context.Context, id, employerID string, status model.JobStatus) (bool, error) {
			t.Errorf("UpdateStatus called with %q", id)
			return false, nil
		},
	}
	svc := NewService(repo, employerProfiles(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	for _, id := range []string{"abc", "", "1234", "6c1f4e2a8b3d4f5a9e7c2d1b0a3c4e5f"} {
		if _, err := svc.Get(ctx, id); !model.IsKind(err, model.KindNotFound) {
			t.Errorf("Get(%q): err = %v, want not found", id, err)
		}
		if err := svc.Delete(ctx, "emp-1", id); !model.IsKind(err, model.KindNotFound) {
			t.Errorf("Delete(%q): err = %v, want not found", id, err)
		}
		if err := svc.Close(ctx, "emp-1", id); !model.IsKind(err, model.KindNotFound) {
			t.Errorf("Close(%q): err = %v, want not found", id, err)
		}
	}
}
