package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/fedlogin/internal/middleware"
	"github.com/hitoshi/fedlogin/internal/model"
)

// mockOAuthService はOAuthServiceInterfaceのモック実装。
type mockOAuthService struct {
	loginURLFn       func(ctx context.Context, providerSlug string) (string, error)
	handleCallbackFn func(ctx context.Context, providerSlug, code string) (*model.TokenPair, error)
}

func (m *mockOAuthService) LoginURL(ctx context.Context, providerSlug string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(ctx, providerSlug)
	}
	return "", model.ErrProviderNotFound
}

func (m *mockOAuthService) HandleCallback(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, providerSlug, code)
	}
	return nil, model.ErrProviderNotFound
}

var _ OAuthServiceInterface = (*mockOAuthService)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOAuthTestRouter はURLパラメータを解決するためにchiでハンドラーをマウントする。
func newOAuthTestRouter(svc OAuthServiceInterface, logger *slog.Logger) http.Handler {
	h := NewOAuthHandler(svc, logger)
	r := chi.NewRouter()
	r.Get("/oauth/{provider}/login", h.Login)
	r.Get("/oauth/{provider}/callback", h.Callback)
	r.Post("/oauth/{provider}/callback", h.Callback)
	return r
}

func TestOAuthHandler_Login_RedirectsToProvider(t *testing.T) {
	var gotProvider string
	svc := &mockOAuthService{
		loginURLFn: func(ctx context.Context, providerSlug string) (string, error) {
			gotProvider = providerSlug
			return "https://accounts.example.com/auth?client_id=abc&response_type=code", nil
		},
	}

	w := httptest.NewRecorder()
	newOAuthTestRouter(svc, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/google/login", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "https://accounts.example.com/auth?client_id=abc&response_type=code" {
		t.Errorf("Location = %q", loc)
	}
	if gotProvider != "google" {
		t.Errorf("provider = %q, want %q", gotProvider, "google")
	}
}

func TestOAuthHandler_Login_UnknownProvider(t *testing.T) {
	svc := &mockOAuthService{
		loginURLFn: func(ctx context.Context, providerSlug string) (string, error) {
			return "", fmt.Errorf("lookup %q: %w", providerSlug, model.ErrProviderNotFound)
		},
	}

	w := httptest.NewRecorder()
	newOAuthTestRouter(svc, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/nope/login", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := w.Body.String(); got != "Provider not supported or inactive" {
		t.Errorf("body = %q", got)
	}
	if loc := w.Header().Get("Location"); loc != "" {
		t.Errorf("Location should be empty, got %q", loc)
	}
}

func TestOAuthHandler_Callback_ReturnsTokenPair(t *testing.T) {
	var gotProvider, gotCode string
	svc := &mockOAuthService{
		handleCallbackFn: func(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
			gotProvider, gotCode = providerSlug, code
			return &model.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
		},
	}

	w := httptest.NewRecorder()
	newOAuthTestRouter(svc, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=xyz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["accessToken"] != "access-1" || body["refreshToken"] != "refresh-1" {
		t.Errorf("body = %v", body)
	}
	if gotProvider != "google" || gotCode != "xyz" {
		t.Errorf("service called with (%q, %q)", gotProvider, gotCode)
	}
}

func TestOAuthHandler_Callback_PostForm(t *testing.T) {
	var gotCode string
	svc := &mockOAuthService{
		handleCallbackFn: func(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
			gotCode = code
			return &model.TokenPair{AccessToken: "a", RefreshToken: "r"}, nil
		},
	}

	form := url.Values{"code": {"form-code"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/github/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	newOAuthTestRouter(svc, discardLogger()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotCode != "form-code" {
		t.Errorf("code = %q, want %q", gotCode, "form-code")
	}
}

func TestOAuthHandler_Callback_ProviderDenied_LogsAndReturnsMissingCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	svc := &mockOAuthService{
		handleCallbackFn: func(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
			if code != "" {
				t.Errorf("code = %q, want empty", code)
			}
			return nil, model.ErrMissingCode
		},
	}

	w := httptest.NewRecorder()
	newOAuthTestRouter(svc, logger).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?error=access_denied", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := w.Body.String(); got != "Missing code" {
		t.Errorf("body = %q, want %q", got, "Missing code")
	}
	if !strings.Contains(buf.String(), "access_denied") {
		t.Errorf("プロバイダーのエラーがログに記録されていない: %s", buf.String())
	}
}

func TestOAuthHandler_Callback_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"missing code", model.ErrMissingCode, http.StatusBadRequest, "Missing code"},
		{"provider not found", model.ErrProviderNotFound, http.StatusBadRequest, "Provider not supported or inactive"},
		{"registration disabled", model.ErrRegistrationDisabled, http.StatusBadRequest, "Automatic registration of new users is disabled"},
		{"exchange failed", fmt.Errorf("exchange: %w", model.ErrTokenExchangeFailed), http.StatusUnauthorized, "Failed to get access token"},
		{"invalid identity", model.ErrInvalidIdentity, http.StatusBadGateway, "Invalid identity returned by provider"},
		{"store unavailable", fmt.Errorf("find user: %w", model.ErrStoreUnavailable), http.StatusInternalServerError, "Internal server error"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOAuthService{
				handleCallbackFn: func(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
					return nil, tt.err
				},
			}

			w := httptest.NewRecorder()
			newOAuthTestRouter(svc, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=c", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

// TestOAuthHandler_Callback_InternalErrorNotLeaked は内部エラーの詳細がレスポンスに含まれないことを検証する。
func TestOAuthHandler_Callback_InternalErrorNotLeaked(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	svc := &mockOAuthService{
		handleCallbackFn: func(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
			return nil, errors.New("pq: connection refused to 10.0.0.5")
		},
	}

	w := httptest.NewRecorder()
	newOAuthTestRouter(svc, logger).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=c", nil))

	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Errorf("内部エラーがレスポンスに含まれている: %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "10.0.0.5") || !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("内部エラーがERRORで記録されていない: %s", buf.String())
	}
}

func TestOAuthHandler_Me_WithoutClaims(t *testing.T) {
	h := NewOAuthHandler(&mockOAuthService{}, discardLogger())

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/oauth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// stubAccessVerifier は固定のクレームを返すAccessTokenVerifier。
type stubAccessVerifier struct {
	claims jwt.MapClaims
}

func (v stubAccessVerifier) ParseAccess(string) (jwt.MapClaims, error) {
	return v.claims, nil
}

func TestOAuthHandler_Me_UserIDWithoutClaims(t *testing.T) {
	h := NewOAuthHandler(&mockOAuthService{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/oauth/me", nil)
	req = req.WithContext(middleware.ContextWithUserID(req.Context(), "u-1"))
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestOAuthHandler_Me_ReturnsClaimsForAuthenticatedUser(t *testing.T) {
	h := NewOAuthHandler(&mockOAuthService{}, discardLogger())
	verifier := stubAccessVerifier{claims: jwt.MapClaims{"sub": "u-1", "email": "a@b.com"}}
	handler := middleware.NewBearerMiddleware(verifier)(http.HandlerFunc(h.Me))

	req := httptest.NewRequest(http.MethodGet, "/oauth/me", nil)
	req.Header.Set("Authorization", "Bearer any")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["sub"] != "u-1" || body["email"] != "a@b.com" {
		t.Errorf("body = %v", body)
	}
}
