// Package auth はOAuthフェデレーションログインのフローを提供する。
// 認可コードをプロバイダーのアクセストークンに交換し、ローカルアカウントを特定または作成して、
// ファーストパーティのアクセストークンとリフレッシュトークンを発行する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fedlogin/internal/metrics"
	"github.com/hitoshi/fedlogin/internal/model"
)

// コールバック処理の状態。
const (
	StateStart            = "START"
	StateConfigResolved   = "CONFIG_RESOLVED"
	StateTokenExchanged   = "TOKEN_EXCHANGED"
	StateUserInfoFetched  = "USER_INFO_FETCHED"
	StateIdentityResolved = "IDENTITY_RESOLVED"
	StateTokensIssued     = "TOKENS_ISSUED"
)

// ProviderSource は有効なプロバイダー設定の取得元。
type ProviderSource interface {
	GetActiveConfig(ctx context.Context, slug string) (*model.ProviderConfig, error)
}

// Exchanger はプロバイダーとの通信を行う。
type Exchanger interface {
	AuthCodeURL(cfg *model.ProviderConfig) (string, error)
	ExchangeCode(ctx context.Context, cfg *model.ProviderConfig, code string) (string, error)
	FetchUserInfo(ctx context.Context, cfg *model.ProviderConfig, accessToken string) (*model.UserInfo, error)
}

// Resolver はユーザー情報からローカルアカウントを特定する。
type Resolver interface {
	Resolve(ctx context.Context, providerSlug string, info *model.UserInfo) (*model.User, error)
}

// Issuer はセッショントークンを発行する。
type Issuer interface {
	Issue(ctx context.Context, user *model.User) (*model.TokenPair, error)
}

// SweepTrigger は期限切れトークンの削除を非同期に開始する。
type SweepTrigger interface {
	Trigger()
}

// Service はログインURL生成とコールバック処理を提供する。
// リクエスト間で状態を持たない。
type Service struct {
	providers ProviderSource
	exchanger Exchanger
	resolver  Resolver
	issuer    Issuer
	sweeper   SweepTrigger
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceを生成する。sweeperとcollectorはnilでもよい。
func NewService(
	providers ProviderSource,
	exchanger Exchanger,
	resolver Resolver,
	issuer Issuer,
	sweeper SweepTrigger,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		providers: providers,
		exchanger: exchanger,
		resolver:  resolver,
		issuer:    issuer,
		sweeper:   sweeper,
		metrics:   collector,
		logger:    logger,
	}
}

// LoginURL はプロバイダーの認可画面URLを返す。
func (s *Service) LoginURL(ctx context.Context, providerSlug string) (string, error) {
	cfg, err := s.providers.GetActiveConfig(ctx, providerSlug)
	if err != nil {
		return "", err
	}

	url, err := s.exchanger.AuthCodeURL(cfg)
	if err != nil {
		s.logger.Error("failed to build authorization url",
			slog.String("provider", providerSlug),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	s.metrics.RecordLogin(providerSlug)
	return url, nil
}

// HandleCallback はプロバイダーからのコールバックを処理し、トークン組を返す。
// いずれかの段階で失敗した場合は直ちにエラーを返す。
// 成功時は期限切れトークンの削除をバックグラウンドで開始する。
func (s *Service) HandleCallback(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
	pair, err := s.handleCallback(ctx, providerSlug, code)
	s.metrics.RecordCallback(providerSlug, outcome(err))
	if err != nil {
		return nil, err
	}

	if s.sweeper != nil {
		s.sweeper.Trigger()
	}
	return pair, nil
}

func (s *Service) handleCallback(ctx context.Context, providerSlug, code string) (*model.TokenPair, error) {
	log := s.logger.With(slog.String("provider", providerSlug))
	log.Debug("oauth callback", slog.String("state", StateStart))

	// 1. 認可コードの確認（ストアにはアクセスしない）
	if code == "" {
		return nil, model.ErrMissingCode
	}

	// 2. プロバイダー設定
	cfg, err := s.providers.GetActiveConfig(ctx, providerSlug)
	if err != nil {
		return nil, err
	}
	log.Debug("oauth callback", slog.String("state", StateConfigResolved))

	// 3. 認可コード交換
	start := time.Now()
	accessToken, err := s.exchanger.ExchangeCode(ctx, cfg, code)
	if err != nil {
		log.Warn("token exchange failed", slog.String("error", err.Error()))
		return nil, err
	}
	log.Debug("oauth callback", slog.String("state", StateTokenExchanged))

	// 4. ユーザー情報取得
	info, err := s.exchanger.FetchUserInfo(ctx, cfg, accessToken)
	s.metrics.RecordExchangeLatency(providerSlug, time.Since(start))
	if err != nil {
		log.Warn("user info fetch failed", slog.String("error", err.Error()))
		return nil, err
	}
	log.Debug("oauth callback", slog.String("state", StateUserInfoFetched))

	// 5. アカウント特定
	user, err := s.resolver.Resolve(ctx, providerSlug, info)
	if err != nil {
		return nil, err
	}
	log.Debug("oauth callback",
		slog.String("state", StateIdentityResolved),
		slog.String("user_id", user.ID),
	)

	// 6. トークン発行
	pair, err := s.issuer.Issue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	log.Debug("oauth callback", slog.String("state", StateTokensIssued))

	return pair, nil
}

// outcome はエラーをメトリクスのラベル値に変換する。
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, model.ErrMissingCode):
		return metrics.OutcomeMissingCode
	case errors.Is(err, model.ErrProviderNotFound):
		return metrics.OutcomeProviderNotFound
	case errors.Is(err, model.ErrTokenExchangeFailed):
		return metrics.OutcomeExchangeFailed
	case errors.Is(err, model.ErrInvalidIdentity):
		return metrics.OutcomeInvalidIdentity
	case errors.Is(err, model.ErrRegistrationDisabled):
		return metrics.OutcomeRegistrationDisabled
	default:
		return metrics.OutcomeError
	}
}

var (
	_ ProviderSource = (*ProviderStore)(nil)
	_ Exchanger      = (*ExchangeClient)(nil)
	_ Resolver       = (*IdentityResolver)(nil)
	_ Issuer         = (*TokenIssuer)(nil)
)
