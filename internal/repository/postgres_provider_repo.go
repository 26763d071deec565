package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/lib/pq"
)

// PostgresProviderConfigRepo はPostgreSQLを使用したOAuthプロバイダー設定リポジトリ。
type PostgresProviderConfigRepo struct {
	db     *sql.DB
	tables Tables
}

// NewPostgresProviderConfigRepo はPostgresProviderConfigRepoを生成する。
func NewPostgresProviderConfigRepo(db *sql.DB, tables Tables) *PostgresProviderConfigRepo {
	return &PostgresProviderConfigRepo{db: db, tables: tables}
}

// FindBySlug はslugでプロバイダー設定を取得する。見つからない場合はnilを返す。
// scopesはtext[]の順序をそのまま保持する。
func (r *PostgresProviderConfigRepo) FindBySlug(ctx context.Context, slug string) (*model.ProviderConfig, error) {
	cfg := &model.ProviderConfig{}
	var extra []byte
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(
			`SELECT slug, active, auth_url, token_url, user_info_url,
			        client_id_ref, client_secret_ref, redirect_uri, scopes, extra_auth_params
			 FROM %s WHERE slug = $1`,
			r.tables.Name(TableOAuthProviders),
		),
		slug,
	).Scan(
		&cfg.Slug, &cfg.Active, &cfg.AuthURL, &cfg.TokenURL, &cfg.UserInfoURL,
		&cfg.ClientIDRef, &cfg.ClientSecretRef, &cfg.RedirectURI,
		pq.Array(&cfg.Scopes), &extra,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find provider config", err)
	}

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &cfg.ExtraAuthParams); err != nil {
			return nil, fmt.Errorf("failed to parse extra_auth_params of %s: %w", slug, err)
		}
	}

	return cfg, nil
}

// compile-time interface check
var _ ProviderConfigRepository = (*PostgresProviderConfigRepo)(nil)
