package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/model"
)

// PostgresRefreshTokenRepo はPostgreSQLを使用したリフレッシュトークンリポジトリ。
type PostgresRefreshTokenRepo struct {
	db     *sql.DB
	tables Tables
}

// NewPostgresRefreshTokenRepo はPostgresRefreshTokenRepoを生成する。
func NewPostgresRefreshTokenRepo(db *sql.DB, tables Tables) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: db, tables: tables}
}

// Create はリフレッシュトークンを保存する。
func (r *PostgresRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(
			`INSERT INTO %s (id, user_id, token, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.tables.Name(TableRefreshTokens),
		),
		token.ID, token.UserID, token.Token, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return wrapStoreError("failed to create refresh token", err)
	}
	return nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
