package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/fedlogin/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	TokenVerifier     middleware.AccessTokenVerifier
	Logger            *slog.Logger

	// OAuthフロー
	OAuthService OAuthServiceInterface

	// 運用エンドポイント。nilの場合はルートを登録しない
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//
// /oauth/me のみBearerミドルウェアを追加で通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	oauthHandler := NewOAuthHandler(deps.OAuthService, logger)

	// --- 認証不要のルート ---
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/{provider}/login", oauthHandler.Login)
		r.Get("/{provider}/callback", oauthHandler.Callback)
		r.Post("/{provider}/callback", oauthHandler.Callback)

		// --- 認証が必要なルート ---
		r.With(middleware.NewBearerMiddleware(deps.TokenVerifier)).Get("/me", oauthHandler.Me)
	})

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}
