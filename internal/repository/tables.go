package repository

import (
	"github.com/lib/pq"
)

// 論理テーブル名。
const (
	TableUsers          = "users"
	TableUserProviders  = "user_providers"
	TableOAuthProviders = "oauth_providers"
	TableRefreshTokens  = "refresh_tokens"
	TableRevokedTokens  = "revoked_tokens"
	TableRoles          = "roles"
	TableUserRoles      = "user_roles"
	TableSettings       = "settings"
)

// Tables は論理テーブル名を物理テーブル名に解決する。
// テナントごとにPrefixを変えて同一DB上にテーブル群を分離する場合に使用する。
// Prefixが空の場合はマイグレーションが作成するテーブルをそのまま使う。
type Tables struct {
	Prefix string
}

// Name は論理テーブル名をクォート済みの物理テーブル名に解決する。
func (t Tables) Name(table string) string {
	return pq.QuoteIdentifier(t.Prefix + table)
}
