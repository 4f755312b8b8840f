package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/ruralink/kaaryasetu/internal/geo"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

func sampleJob(id string) model.JobPosting {
	return model.JobPosting{
		ID:         id,
		EmployerID: "employer-1",
		Title:      "Wall painting",
		Category:   "Painter",
		Location:   "Nashik",
		Date:       time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		Time:       "09:00 - 17:00",
		Pay:        "₹600",
		Status:     model.JobStatusOpen,
	}
}

func TestJobHandler_ListJobs_WithoutLocation_ListsOpen(t *testing.T) {
	deps := newTestDeps(t)
	deps.JobService = &mockJobService{
		listOpenFn: func(ctx context.Context) ([]model.JobPosting, error) {
			return []model.JobPosting{sampleJob("job-1")}, nil
		},
		listNearbyFn: func(ctx context.Context, origin model.GeoPoint, radiusKm float64) ([]geo.RankedJob, error) {
			t.Error("ListNearby should not be called without coordinates")
			return nil, nil
		},
	}

	w := serve(t, deps, http.MethodGet, "/api/jobs", workerToken, "")
	assertStatus(t, w, http.StatusOK)

	var jobs []wire.Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Date != "2026-11-02" || jobs[0].DistanceKm != nil {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestJobHandler_ListJobs_Empty_ReturnsArray(t *testing.T) {
	w := serve(t, newTestDeps(t), http.MethodGet, "/api/jobs", workerToken, "")
	assertStatus(t, w, http.StatusOK)
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestJobHandler_ListJobs_WithLocation_Ranks(t *testing.T) {
	deps := newTestDeps(t)
	var gotOrigin model.GeoPoint
	var gotRadius float64
	deps.JobService = &mockJobService{
		listNearbyFn: func(ctx context.Context, origin model.GeoPoint, radiusKm float64) ([]geo.RankedJob, error) {
			gotOrigin, gotRadius = origin, radiusKm
			return []geo.RankedJob{
				{Job: sampleJob("near"), DistanceKm: ptr(1.2)},
				{Job: sampleJob("unknown")},
			}, nil
		},
	}

	// radiusはサーバー設定で固定のため無視される
	w := serve(t, deps, http.MethodGet, "/api/jobs?lat=19.99&lng=73.78&radius=100", workerToken, "")
	assertStatus(t, w, http.StatusOK)

	if gotOrigin.Lat != 19.99 || gotOrigin.Lng != 73.78 || gotRadius != 0 {
		t.Errorf("origin = %+v, radius = %v", gotOrigin, gotRadius)
	}

	var jobs []wire.Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(jobs) != 2 || jobs[0].DistanceKm == nil || *jobs[0].DistanceKm != 1.2 || jobs[1].DistanceKm != nil {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestJobHandler_ListJobs_InvalidQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantField string
	}{
		{name: "緯度が数値でない", query: "lat=abc&lng=73.7", wantField: "lat"},
		{name: "緯度が範囲外", query: "lat=91&lng=73.7", wantField: "lat"},
		{name: "経度のみ欠落", query: "lat=19.9", wantField: "lng"},
		{name: "緯度がNaN", query: "lat=NaN&lng=73.7", wantField: "lat"},
		{name: "経度が無限大", query: "lat=19.9&lng=Inf", wantField: "lng"},
		{name: "経度が負の無限大", query: "lat=19.9&lng=-Inf", wantField: "lng"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, newTestDeps(t), http.MethodGet, "/api/jobs?"+tt.query, workerToken, "")
			assertStatus(t, w, http.StatusBadRequest)
			if body := decodeError(t, w); body.Field != tt.wantField {
				t.Errorf("field = %q, want %q", body.Field, tt.wantField)
			}
		})
	}
}

func TestJobHandler_CreateJob(t *testing.T) {
	deps := newTestDeps(t)
	var gotEmployer string
	var gotFields model.JobFields
	deps.JobService = &mockJobService{
		createFn: func(ctx context.Context, employerID string, fields model.JobFields) (*model.JobPosting, error) {
			gotEmployer, gotFields = employerID, fields
			j := sampleJob("job-9")
			return &j, nil
		},
	}

	w := serve(t, deps, http.MethodPost, "/api/jobs", employerToken,
		`{"title":"Wall painting","category":"Painter","location":"Nashik","lat":19.9,"lng":73.7,"date":"2026-11-02","start_time":"09:00","end_time":"17:00","pay":"600"}`)

	assertStatus(t, w, http.StatusCreated)
	if gotEmployer != "employer-1" {
		t.Errorf("employer = %q, want %q", gotEmployer, "employer-1")
	}
	if gotFields.Lat == nil || *gotFields.Lat != 19.9 || gotFields.StartTime != "09:00" {
		t.Errorf("fields = %+v", gotFields)
	}
}

func TestJobHandler_CreateJob_ValidationError(t *testing.T) {
	deps := newTestDeps(t)
	deps.JobService = &mockJobService{
		createFn: func(ctx context.Context, employerID string, fields model.JobFields) (*model.JobPosting, error) {
			return nil, model.NewValidationError("category", "Invalid Category", "Please choose a category")
		},
	}

	w := serve(t, deps, http.MethodPost, "/api/jobs", employerToken, `{"title":"x"}`)

	assertStatus(t, w, http.StatusBadRequest)
	body := decodeError(t, w)
	if body.Field != "category" || body.Title != "Invalid Category" {
		t.Errorf("body = %+v", body)
	}
}

func TestJobHandler_DeleteJob(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "削除成功", wantStatus: http.StatusNoContent},
		{name: "存在しないか他人の求人", err: model.NewJobNotFoundError("job-1"), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			deps.JobService = &mockJobService{
				deleteFn: func(ctx context.Context, employerID, jobID string) error {
					if employerID != "employer-1" || jobID != "job-1" {
						t.Errorf("Delete(%q, %q)", employerID, jobID)
					}
					return tt.err
				},
			}

			w := serve(t, deps, http.MethodDelete, "/api/jobs/job-1", employerToken, "")
			assertStatus(t, w, tt.wantStatus)
		})
	}
}

func TestJobHandler_CloseAndMine(t *testing.T) {
	deps := newTestDeps(t)
	closed := ""
	deps.JobService = &mockJobService{
		closeFn: func(ctx context.Context, employerID, jobID string) error {
			closed = jobID
			return nil
		},
		listByEmployerFn: func(ctx context.Context, employerID string) ([]model.JobPosting, error) {
			j := sampleJob("job-1")
			j.Status = model.JobStatusClosed
			return []model.JobPosting{j}, nil
		},
	}

	assertStatus(t, serve(t, deps, http.MethodPost, "/api/jobs/job-1/close", employerToken, ""), http.StatusNoContent)
	if closed != "job-1" {
		t.Errorf("closed = %q, want %q", closed, "job-1")
	}

	w := serve(t, deps, http.MethodGet, "/api/jobs/mine", employerToken, "")
	assertStatus(t, w, http.StatusOK)
	var jobs []wire.Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != "closed" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestJobHandler_CookieSession_RequiresCSRFToken(t *testing.T) {
	deps := newTestDeps(t)

	req := newCookieRequest(http.MethodDelete, "/api/jobs/job-1", employerToken)
	w := serveRequest(NewRouter(deps), req)

	assertStatus(t, w, http.StatusForbidden)
}
