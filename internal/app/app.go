package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/fedlogin/internal/auth"
	"github.com/hitoshi/fedlogin/internal/config"
	"github.com/hitoshi/fedlogin/internal/database"
	"github.com/hitoshi/fedlogin/internal/handler"
	"github.com/hitoshi/fedlogin/internal/logger"
	"github.com/hitoshi/fedlogin/internal/metrics"
	"github.com/hitoshi/fedlogin/internal/repository"
	"github.com/hitoshi/fedlogin/internal/security"
	"github.com/hitoshi/fedlogin/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("table_prefix", cfg.TablePrefix),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandSweep:
		return runSweep(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveモードで組み立てる依存関係。
type components struct {
	router  http.Handler
	sweeper *cleanup.TokenSweeper
}

// buildComponents はDB接続と設定から全依存関係をワイヤリングする。
func buildComponents(cfg *config.Config, db *sql.DB) *components {
	log := slog.Default()
	tables := repository.Tables{Prefix: cfg.TablePrefix}

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db, tables)
	linkRepo := repository.NewPostgresUserProviderRepo(db, tables)
	providerRepo := repository.NewPostgresProviderConfigRepo(db, tables)
	roleRepo := repository.NewPostgresRoleRepo(db, tables)
	refreshRepo := repository.NewPostgresRefreshTokenRepo(db, tables)
	settingsRepo := repository.NewPostgresSettingsRepo(db, tables)

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. プロバイダー通信用HTTPクライアント
	var guard security.SSRFGuardService
	httpClient := &http.Client{Timeout: cfg.OAuthHTTPTimeout}
	if cfg.SSRFGuard {
		g := security.NewSSRFGuard()
		guard = g
		httpClient = g.NewSafeClient(cfg.OAuthHTTPTimeout)
	} else {
		log.Warn("OAUTH_SSRF_GUARD is disabled; provider endpoints are not validated")
	}

	// 4. ログインフローの構成要素
	providers := auth.NewProviderStore(providerRepo, cfg.ProviderCacheTTL, guard, log)
	exchanger := auth.NewExchangeClient(httpClient, auth.SecretResolverFunc(cfg.LookupSecret))
	policy := auth.NewRegistrationPolicy(settingsRepo, cfg.AllowRegistrations, cfg.DefaultRolesList(), log)
	resolver := auth.NewIdentityResolver(userRepo, linkRepo, roleRepo, policy, collector, log)
	issuer := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTTL(),
		RefreshTTL:    cfg.RefreshTTL(),
	}, auth.NewProfilePayloadBuilder(roleRepo), refreshRepo)
	sweeper := cleanup.NewTokenSweeper(db, tables, collector, log)

	service := auth.NewService(providers, exchanger, resolver, issuer, sweeper, collector, log)

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TokenVerifier:     issuer,
		Logger:            log,
		OAuthService:      service,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
	})

	return &components{
		router:  router,
		sweeper: sweeper,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	c := buildComponents(cfg, db)

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.OAuthHTTPTimeout*2 + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 実行中のトークンスイープの完了を待つ
	c.sweeper.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れトークンの定期削除を実行する。
// /metrics はSERVER_PORTで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	// 3. スイーパーの初期化
	sweeper := cleanup.NewTokenSweeper(db, repository.Tables{Prefix: cfg.TablePrefix}, collector, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// スイープをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.SweepInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSweep は期限切れトークンの削除を1回実行して終了する。
func runSweep(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sweeper := cleanup.NewTokenSweeper(db, repository.Tables{Prefix: cfg.TablePrefix}, nil, slog.Default())
	if err := sweeper.Run(ctx); err != nil {
		return fmt.Errorf("token sweep failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if cfg.TablePrefix != "" {
		slog.Warn("TABLE_PREFIX is set; migrations create unprefixed tables",
			slog.String("table_prefix", cfg.TablePrefix),
		)
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
