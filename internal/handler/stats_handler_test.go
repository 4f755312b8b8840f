package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/realtime"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

func TestStatsHandler_GetStats(t *testing.T) {
	deps := newTestDeps(t)
	deps.StatsService = &mockStatsService{
		countsFn: func(ctx context.Context) (model.Counts, error) {
			return model.Counts{Workers: 12, Jobs: 8, ClosedJobs: 3, SuccessRate: 38}, nil
		},
	}

	w := serve(t, deps, http.MethodGet, "/api/stats", workerToken, "")
	assertStatus(t, w, http.StatusOK)

	var counts wire.Counts
	if err := json.NewDecoder(w.Body).Decode(&counts); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if counts != (wire.Counts{Workers: 12, Jobs: 8, ClosedJobs: 3, SuccessRate: 38}) {
		t.Errorf("counts = %+v", counts)
	}
}

func TestStatsHandler_GetStats_InternalError_HidesDetail(t *testing.T) {
	deps := newTestDeps(t)
	deps.StatsService = &mockStatsService{
		countsFn: func(ctx context.Context) (model.Counts, error) {
			return model.Counts{}, errors.New("pq: connection refused")
		},
	}

	w := serve(t, deps, http.MethodGet, "/api/stats", workerToken, "")

	assertStatus(t, w, http.StatusInternalServerError)
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("body leaks internal detail: %s", w.Body.String())
	}
}

func TestStatsHandler_Stream_ResendsOnChange(t *testing.T) {
	hub := realtime.NewHub(realtime.DefaultBuffer)
	defer hub.Close()

	var calls atomic.Int32
	deps := newTestDeps(t)
	deps.Changes = hub
	deps.StatsService = &mockStatsService{
		countsFn: func(ctx context.Context) (model.Counts, error) {
			n := int(calls.Add(1))
			return model.Counts{Workers: n}, nil
		},
	}

	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stats/stream", nil)
	req.Header.Set("Authorization", "Bearer "+workerToken)

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if got := readStatsEvent(t, reader); got.Workers != 1 {
		t.Errorf("first event workers = %d, want 1", got.Workers)
	}

	// 統計に関係ないテーブルの変更は無視され、jobsの変更で再送される
	waitForSubscriber(t, hub)
	hub.Publish(realtime.Change{Table: "applications", At: time.Now()})
	hub.Publish(realtime.Change{Table: "jobs", At: time.Now()})

	if got := readStatsEvent(t, reader); got.Workers != 2 {
		t.Errorf("second event workers = %d, want 2", got.Workers)
	}
}

// readStatsEvent は次のstatsイベントのデータを読み取る。
func readStatsEvent(t *testing.T, r *bufio.Reader) wire.Counts {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var counts wire.Counts
		if err := json.Unmarshal([]byte(data), &counts); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		return counts
	}
}

func waitForSubscriber(t *testing.T, hub *realtime.Hub) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAffectsCounts(t *testing.T) {
	tests := []struct {
		table string
		want  bool
	}{
		{"profiles", true},
		{"jobs", true},
		{"", true},
		{"applications", false},
	}
	for _, tt := range tests {
		if got := affectsCounts(tt.table); got != tt.want {
			t.Errorf("affectsCounts(%q) = %v, want %v", tt.table, got, tt.want)
		}
	}
}

type failingChecker struct{ err error }

func (c failingChecker) PingContext(ctx context.Context) error { return c.err }

func TestHealthHandler(t *testing.T) {
	deps := newTestDeps(t)
	assertStatus(t, serve(t, deps, http.MethodGet, "/health", "", ""), http.StatusOK)

	deps.HealthChecker = failingChecker{err: errors.New("db down")}
	assertStatus(t, serve(t, deps, http.MethodGet, "/health", "", ""), http.StatusServiceUnavailable)
}
