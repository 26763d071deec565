// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	claimsContextKey = contextKey("claims")
)

// AccessTokenVerifier はアクセストークンの検証に必要なインターフェース。
// auth.TokenIssuerが満たす。
type AccessTokenVerifier interface {
	ParseAccess(token string) (jwt.MapClaims, error)
}

// NewBearerMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// subとクレームをリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い、または不正な場合は401を返す。
func NewBearerMiddleware(verifier AccessTokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーからトークンを取得
			token, ok := bearerToken(r)
			if !ok {
				WriteText(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			// 2. 署名と有効期限を検証
			claims, err := verifier.ParseAccess(token)
			if err != nil {
				slog.Debug("access token rejected", slog.String("error", err.Error()))
				WriteText(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			// 3. subとクレームをコンテキストに注入
			sub, _ := claims.GetSubject()
			ctx := ContextWithUserID(r.Context(), sub)
			ctx = context.WithValue(ctx, claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// Bearerミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ClaimsFromContext はリクエストコンテキストからアクセストークンのクレームを取得する。
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(jwt.MapClaims)
	return claims, ok
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
