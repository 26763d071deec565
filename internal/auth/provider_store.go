package auth

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
	"github.com/hitoshi/fedlogin/internal/security"
	"github.com/jellydator/ttlcache/v3"
)

// ProviderStore は有効なプロバイダー設定を返す。
// 取得結果は短時間キャッシュする。キャッシュするのは有効な設定のみで、
// 未登録や無効化された結果はキャッシュしない。
type ProviderStore struct {
	repo   repository.ProviderConfigRepository
	guard  security.SSRFGuardService
	cache  *ttlcache.Cache[string, *model.ProviderConfig]
	logger *slog.Logger
}

// NewProviderStore はProviderStoreを生成する。
// ttlが0以下の場合はキャッシュしない。guardがnilの場合はエンドポイント検証を行わない。
func NewProviderStore(
	repo repository.ProviderConfigRepository,
	ttl time.Duration,
	guard security.SSRFGuardService,
	logger *slog.Logger,
) *ProviderStore {
	s := &ProviderStore{
		repo:   repo,
		guard:  guard,
		logger: logger,
	}
	if ttl > 0 {
		s.cache = ttlcache.New(
			ttlcache.WithTTL[string, *model.ProviderConfig](ttl),
			ttlcache.WithDisableTouchOnHit[string, *model.ProviderConfig](),
		)
	}
	return s
}

// GetActiveConfig はslugに対応する有効なプロバイダー設定を返す。
// 未登録・無効化のいずれもmodel.ErrProviderNotFoundを返し、区別しない。
func (s *ProviderStore) GetActiveConfig(ctx context.Context, slug string) (*model.ProviderConfig, error) {
	if slug == "" {
		return nil, model.ErrProviderNotFound
	}

	if s.cache != nil {
		if item := s.cache.Get(slug); item != nil {
			return cloneProviderConfig(item.Value()), nil
		}
	}

	cfg, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider config: %w", err)
	}
	if cfg == nil || !cfg.Active {
		return nil, model.ErrProviderNotFound
	}

	if s.guard != nil {
		if err := s.guard.ValidateProvider(cfg); err != nil {
			s.logger.Warn("provider config rejected by endpoint guard",
				slog.String("provider", slug),
				slog.String("error", err.Error()),
			)
			return nil, model.ErrProviderNotFound
		}
	}

	if s.cache != nil {
		s.cache.Set(slug, cloneProviderConfig(cfg), ttlcache.DefaultTTL)
	}
	return cfg, nil
}

func cloneProviderConfig(cfg *model.ProviderConfig) *model.ProviderConfig {
	c := *cfg
	c.Scopes = slices.Clone(cfg.Scopes)
	c.ExtraAuthParams = maps.Clone(cfg.ExtraAuthParams)
	return &c
}
