// Package database はPostgreSQL接続とfedloginスキーマのマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsFS はfedloginスキーマのマイグレーション。
// oauth_providers・users・user_providers・refresh_tokens・revoked_tokens・
// roles・user_roles・settingsをプレフィックスなしのテーブル名で作成する。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、スキーマが不整合な状態を表す。
var ErrDirtySchema = errors.New("schema is dirty")

// NewMigrator は埋め込みマイグレーションを適用するmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// 最新の場合は何もしない。dirtyなスキーマには適用せずErrDirtySchemaを返す。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return fmt.Errorf("failed to run migrations: %w", ErrDirtySchema)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion は適用済みの最新マイグレーション番号を返す。
// 未適用の場合は0を返す。
func SchemaVersion(databaseURL string) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, ErrDirtySchema
	}
	return version, nil
}
