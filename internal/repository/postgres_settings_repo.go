package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresSettingsRepo はPostgreSQLを使用した実行時設定リポジトリ。
type PostgresSettingsRepo struct {
	db     *sql.DB
	tables Tables
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB, tables Tables) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db, tables: tables}
}

// Get は指定キーの値を返す。未設定の場合はok=falseを返す。
func (r *PostgresSettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, r.tables.Name(TableSettings)),
		key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreError("failed to get setting", err)
	}
	return value, true, nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
