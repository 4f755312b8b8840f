package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ruralink/kaaryasetu/internal/middleware"
	"github.com/ruralink/kaaryasetu/internal/model"
	"github.com/ruralink/kaaryasetu/internal/wire"
)

func TestAuthHandler_SendOTP_Accepted(t *testing.T) {
	deps := newTestDeps(t)
	var got string
	deps.IdentityService = &mockIdentityService{
		sendChallengeFn: func(ctx context.Context, identifier string) error {
			got = identifier
			return nil
		},
	}

	w := serve(t, deps, http.MethodPost, "/auth/otp/send", "", `{"identifier":"9876543210"}`)

	assertStatus(t, w, http.StatusAccepted)
	if got != "9876543210" {
		t.Errorf("identifier = %q, want %q", got, "9876543210")
	}
}

func TestAuthHandler_SendOTP_InvalidBody_Returns400(t *testing.T) {
	deps := newTestDeps(t)

	w := serve(t, deps, http.MethodPost, "/auth/otp/send", "", `{not json`)

	assertStatus(t, w, http.StatusBadRequest)
	if body := decodeError(t, w); body.Kind != string(model.KindValidation) {
		t.Errorf("kind = %q, want %q", body.Kind, model.KindValidation)
	}
}

func TestAuthHandler_SendOTP_RateLimitedPerIP(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	var last int
	for i := 0; i < 6; i++ {
		w := serveWith(router, http.MethodPost, "/auth/otp/send", "", `{"identifier":"9876543210"}`)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("6th send status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestAuthHandler_CredentialEndpointsRateLimitedPerIP(t *testing.T) {
	deps := newTestDeps(t)
	deps.IdentityService = &mockIdentityService{
		verifyChallengeFn: func(ctx context.Context, identifier, code string) (*model.AuthResult, error) {
			return nil, model.NewCredentialError("Invalid OTP", "The code you entered is incorrect.")
		},
		passwordLoginFn: func(ctx context.Context, identifier, password string) (*model.AuthResult, error) {
			return nil, model.NewCredentialError("Login failed", "Invalid username or password.")
		},
	}
	router := NewRouter(deps)
	burst := middleware.DefaultRateLimiterConfig().CredentialBurst

	// OTP検証とログインは同じ枠を消費する
	for i := 0; i < burst; i++ {
		target, body := "/auth/otp/verify", `{"identifier":"9876543210","code":"000000"}`
		if i%2 == 1 {
			target, body = "/auth/login", `{"identifier":"ravi","password":"secret1"}`
		}
		if w := serveWith(router, http.MethodPost, target, "", body); w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited before burst %d", i+1, burst)
		}
	}

	w := serveWith(router, http.MethodPost, "/auth/otp/verify", "", `{"identifier":"9876543210","code":"000000"}`)
	assertStatus(t, w, http.StatusTooManyRequests)

	// OTP送信は別枠
	w = serveWith(router, http.MethodPost, "/auth/otp/send", "", `{"identifier":"9876543210"}`)
	if w.Code == http.StatusTooManyRequests {
		t.Error("otp send should not share the credential budget")
	}
}

func TestAuthHandler_VerifyOTP_SetsSessionCookie(t *testing.T) {
	deps := newTestDeps(t)
	deps.IdentityService = &mockIdentityService{
		verifyChallengeFn: func(ctx context.Context, identifier, code string) (*model.AuthResult, error) {
			if code != "123456" {
				return nil, model.NewCredentialError("Invalid Code", "The code you entered is incorrect")
			}
			return &model.AuthResult{AccountID: "acc-1", Token: "jwt-token", Identifier: "+919876543210", IsNewAccount: true}, nil
		},
	}

	w := serve(t, deps, http.MethodPost, "/auth/otp/verify", "", `{"identifier":"9876543210","code":"123456"}`)
	assertStatus(t, w, http.StatusOK)

	var result model.AuthResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if result.Token != "jwt-token" || !result.IsNewAccount {
		t.Errorf("result = %+v", result)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != "jwt-token" || !cookie.HttpOnly {
		t.Errorf("session cookie = %+v", cookie)
	}
}

func TestAuthHandler_VerifyOTP_WrongCode_Returns401(t *testing.T) {
	deps := newTestDeps(t)
	deps.IdentityService = &mockIdentityService{
		verifyChallengeFn: func(ctx context.Context, identifier, code string) (*model.AuthResult, error) {
			return nil, model.NewCredentialError("Invalid Code", "The code you entered is incorrect")
		},
	}

	w := serve(t, deps, http.MethodPost, "/auth/otp/verify", "", `{"identifier":"9876543210","code":"000000"}`)

	assertStatus(t, w, http.StatusUnauthorized)
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
	}
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "登録成功", wantStatus: http.StatusCreated},
		{name: "識別子が使用済み", err: model.NewIdentifierTakenError("a@b.in"), wantStatus: http.StatusConflict, wantCode: model.ErrCodeIdentifierTaken},
		{name: "内部エラー", err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			var gotMeta model.RegistrationMeta
			deps.IdentityService = &mockIdentityService{
				passwordRegisterFn: func(ctx context.Context, identifier, password string, meta model.RegistrationMeta) (*model.AuthResult, error) {
					gotMeta = meta
					if tt.err != nil {
						return nil, tt.err
					}
					return &model.AuthResult{AccountID: "acc-1", Token: "t", IsNewAccount: true}, nil
				},
			}

			w := serve(t, deps, http.MethodPost, "/auth/register", "",
				`{"identifier":"a@b.in","password":"secret123","role":"employer","display_name":"Meera"}`)

			assertStatus(t, w, tt.wantStatus)
			if gotMeta.Role != model.RoleEmployer || gotMeta.DisplayName != "Meera" {
				t.Errorf("meta = %+v", gotMeta)
			}
			if tt.wantCode != "" {
				if body := decodeError(t, w); body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestAuthHandler_Me_RequiresSession(t *testing.T) {
	w := serve(t, newTestDeps(t), http.MethodGet, "/auth/me", "", "")
	assertStatus(t, w, http.StatusUnauthorized)
}

func TestAuthHandler_Me_WithoutProfile(t *testing.T) {
	deps := newTestDeps(t)
	deps.IdentityService = &mockIdentityService{
		currentAccountFn: func(ctx context.Context, accountID string) (*model.Account, error) {
			return &model.Account{ID: accountID, IdentifierKind: model.IdentifierPhone, Identifier: "+919876543210", Verified: true}, nil
		},
	}

	w := serve(t, deps, http.MethodGet, "/auth/me", workerToken, "")
	assertStatus(t, w, http.StatusOK)

	var me wire.Me
	if err := json.NewDecoder(w.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if me.Account.ID != "worker-1" {
		t.Errorf("account id = %q, want %q", me.Account.ID, "worker-1")
	}
	if me.Profile != nil {
		t.Errorf("profile = %+v, want nil", me.Profile)
	}
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	deps := newTestDeps(t)
	var loggedOut string
	deps.IdentityService = &mockIdentityService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}

	w := serve(t, deps, http.MethodPost, "/auth/logout", employerToken, "")

	assertStatus(t, w, http.StatusNoContent)
	if loggedOut != "session-e" {
		t.Errorf("logged out session = %q, want %q", loggedOut, "session-e")
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("cookies = %+v, want a single expired session cookie", cookies)
	}
}
