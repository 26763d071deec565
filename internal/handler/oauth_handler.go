// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/fedlogin/internal/middleware"
	"github.com/hitoshi/fedlogin/internal/model"
)

// OAuthエラー時にクライアントへ返すメッセージ。
const (
	msgMissingCode          = "Missing code"
	msgProviderNotFound     = "Provider not supported or inactive"
	msgRegistrationDisabled = "Automatic registration of new users is disabled"
	msgTokenExchangeFailed  = "Failed to get access token"
	msgInvalidIdentity      = "Invalid identity returned by provider"
	msgInternalError        = "Internal server error"
)

// OAuthServiceInterface はOAuthハンドラーが必要とするサービスインターフェース。
type OAuthServiceInterface interface {
	LoginURL(ctx context.Context, providerSlug string) (string, error)
	HandleCallback(ctx context.Context, providerSlug, code string) (*model.TokenPair, error)
}

// OAuthHandler はOAuthフェデレーションログインのHTTPハンドラー。
type OAuthHandler struct {
	service OAuthServiceInterface
	logger  *slog.Logger
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(service OAuthServiceInterface, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		service: service,
		logger:  logger,
	}
}

// Login はプロバイダーの認可画面へリダイレクトする。
// GET /oauth/{provider}/login
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	url, err := h.service.LoginURL(r.Context(), provider)
	if err != nil {
		h.writeOAuthError(w, provider, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// Callback は認可コードを受け取り、トークン組をJSONで返す。
// GET|POST /oauth/{provider}/callback?code=xxx
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	// 1. 認可コードの取得（クエリまたはフォーム）
	code := r.FormValue("code")
	if code == "" {
		if denied := r.FormValue("error"); denied != "" {
			h.logger.Info("provider returned error on callback",
				slog.String("provider", provider),
				slog.String("provider_error", denied),
			)
		}
	}

	// 2. ログインフローの実行
	pair, err := h.service.HandleCallback(r.Context(), provider, code)
	if err != nil {
		h.writeOAuthError(w, provider, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, pair)
}

// Me はBearerトークンのクレームを返す。
// GET /oauth/me
func (h *OAuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	h.logger.Debug("token claims requested", slog.String("user_id", userID))
	middleware.WriteJSON(w, http.StatusOK, claims)
}

// writeOAuthError はOAuthフローのエラーをHTTPステータスとメッセージに変換する。
func (h *OAuthHandler) writeOAuthError(w http.ResponseWriter, provider string, err error) {
	status, message := oauthErrorResponse(err)

	attrs := []any{
		slog.String("provider", provider),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("oauth flow failed", attrs...)
	} else {
		h.logger.Info("oauth flow rejected", attrs...)
	}

	middleware.WriteText(w, status, message)
}

func oauthErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrMissingCode):
		return http.StatusBadRequest, msgMissingCode
	case errors.Is(err, model.ErrProviderNotFound):
		return http.StatusBadRequest, msgProviderNotFound
	case errors.Is(err, model.ErrRegistrationDisabled):
		return http.StatusBadRequest, msgRegistrationDisabled
	case errors.Is(err, model.ErrTokenExchangeFailed):
		return http.StatusUnauthorized, msgTokenExchangeFailed
	case errors.Is(err, model.ErrInvalidIdentity):
		return http.StatusBadGateway, msgInvalidIdentity
	default:
		return http.StatusInternalServerError, msgInternalError
	}
}
