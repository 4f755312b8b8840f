package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/ruralink/kaaryasetu/internal/model"
)

type mockStatsRepo struct {
	countsFn func(ctx context.Context) (model.Counts, error)
}

func (m *mockStatsRepo) Counts(ctx context.Context) (model.Counts, error) {
	return m.countsFn(ctx)
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		closed, total, want int
	}{
		{closed: 0, total: 0, want: 0},
		{closed: 0, total: 5, want: 0},
		{closed: 1, total: 3, want: 33},
		{closed: 2, total: 3, want: 67},
		{closed: 1, total: 8, want: 13},
		{closed: 4, total: 4, want: 100},
	}
	for _, tt := range tests {
		if got := SuccessRate(tt.closed, tt.total); got != tt.want {
			t.Errorf("SuccessRate(%d, %d) = %d, want %d", tt.closed, tt.total, got, tt.want)
		}
	}
}

func TestCounts(t *testing.T) {
	svc := NewService(&mockStatsRepo{countsFn: func(ctx context.Context) (model.Counts, error) {
		return model.Counts{Workers: 12, Jobs: 10, ClosedJobs: 7}, nil
	}})

	counts, err := svc.Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := model.Counts{Workers: 12, Jobs: 10, ClosedJobs: 7, SuccessRate: 70}
	if counts != want {
		t.Errorf("Counts = %+v, want %+v", counts, want)
	}
}

func TestCounts_RepoError(t *testing.T) {
	svc := NewService(&mockStatsRepo{countsFn: func(ctx context.Context) (model.Counts, error) {
		return model.Counts{}, errors.New("db down")
	}})

	if _, err := svc.Counts(context.Background()); err == nil {
		t.Error("expected error")
	}
}
