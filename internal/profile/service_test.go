package profile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/repository"
)

// --- モック ---

type mockProfileRepo struct {
	findByAccountIDFn func(ctx context.Context, accountID string) (*model.Profile, error)
	createFn          func(ctx context.Context, p *model.Profile) error
}

func (m *mockProfileRepo) FindByAccountID(ctx context.Context, accountID string) (*model.Profile, error) {
	return m.findByAccountIDFn(ctx, accountID)
}

func (m *mockProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	return m.createFn(ctx, p)
}

func TestFetch_NotFound(t *testing.T) {
	repo := &mockProfileRepo{
		findByAccountIDFn: func(ctx context.Context, accountID string) (*model.Profile, error) {
			return nil, nil
		},
	}
	svc := NewService(repo, nil)

	_, err := svc.Fetch(context.Background(), "acc-1")
	if !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestFetch_MalformedAccountID_IsNotFound(t *testing.T) {
	repo := &mockProfileRepo{
		findByAccountIDFn: func(ctx context.Context, accountID string) (*model.Profile, error) {
			t.Errorf("FindByAccountID called with %q", accountID)
			return nil, nil
		},
	}
	svc := NewService(repo, nil)

	_, err := svc.Fetch(context.Background(), "abc")
	if !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestFetch_RepoError(t *testing.T) {
	repo := &mockProfileRepo{
		findByAccountIDFn: func(ctx context.Context, accountID string) (*model.Profile, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewService(repo, nil)

	_, err := svc.Fetch(context.Background(), "3f2b8c1e-5d4a-4e8b-9c7d-1a2b3c4d5e6f")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := model.AsAPIError(err); ok {
		t.Error("repository failure should not be classified")
	}
}

func TestCreate_Success(t *testing.T) {
	var saved *model.Profile
	repo := &mockProfileRepo{
		createFn: func(ctx context.Context, p *model.Profile) error {
			saved = p
			return nil
		},
	}
	svc := NewService(repo, nil)

	p, err := svc.Create(context.Background(), "acc-1", model.ProfileFields{
		DisplayName: "  <b>Ravi</b> ",
		Role:        model.RoleEmployer,
		Phone:       "+919876543210",
		Location:    "Nashik",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil || saved.ID == "" {
		t.Fatal("profile was not saved with an id")
	}
	if p.DisplayName != "Ravi" {
		t.Errorf("DisplayName = %q, want sanitised %q", p.DisplayName, "Ravi")
	}
	if p.AccountID != "acc-1" || p.Role != model.RoleEmployer {
		t.Errorf("profile = %+v", p)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		fields    model.ProfileFields
		wantField string
	}{
		{name: "名前なし", fields: model.ProfileFields{Role: model.RoleWorker}, wantField: "display_name"},
		{name: "タグのみの名前", fields: model.ProfileFields{DisplayName: "<i></i>", Role: model.RoleWorker}, wantField: "display_name"},
		{name: "不明なロール", fields: model.ProfileFields{DisplayName: "Ravi", Role: "admin"}, wantField: "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockProfileRepo{
				createFn: func(ctx context.Context, p *model.Profile) error {
					t.Error("Create should not be called")
					return nil
				},
			}
			svc := NewService(repo, nil)

			_, err := svc.Create(context.Background(), "acc-1", tt.fields)
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

func TestCreate_AlreadyExists(t *testing.T) {
	repo := &mockProfileRepo{
		createFn: func(ctx context.Context, p *model.Profile) error {
			return fmt.Errorf("failed to create profile: %w", repository.ErrDuplicate)
		},
	}
	svc := NewService(repo, nil)

	_, err := svc.Create(context.Background(), "acc-1", model.ProfileFields{DisplayName: "Ravi", Role: model.RoleWorker})
	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Code != model.ErrCodeProfileExists {
		t.Fatalf("err = %v, want profile exists", err)
	}
}
