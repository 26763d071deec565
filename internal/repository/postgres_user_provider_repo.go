package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/model"
)

// execer は*sql.DBと*sql.Txの両方で使えるExecContextの抽象。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresUserProviderRepo はPostgreSQLを使用したプロバイダー紐付けリポジトリ。
type PostgresUserProviderRepo struct {
	db     *sql.DB
	tables Tables
}

// NewPostgresUserProviderRepo はPostgresUserProviderRepoを生成する。
func NewPostgresUserProviderRepo(db *sql.DB, tables Tables) *PostgresUserProviderRepo {
	return &PostgresUserProviderRepo{db: db, tables: tables}
}

// FindByProviderAndSubject はprovider_slugとprovider_subject_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserProviderRepo) FindByProviderAndSubject(ctx context.Context, providerSlug, subjectID string) (*model.UserProvider, error) {
	link := &model.UserProvider{}
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(
			`SELECT id, user_id, provider_slug, provider_subject_id, created_at
			 FROM %s
			 WHERE provider_slug = $1 AND provider_subject_id = $2`,
			r.tables.Name(TableUserProviders),
		),
		providerSlug, subjectID,
	).Scan(&link.ID, &link.UserID, &link.ProviderSlug, &link.ProviderSubjectID, &link.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find user provider", err)
	}

	return link, nil
}

// Create は紐付けを作成する。
func (r *PostgresUserProviderRepo) Create(ctx context.Context, link *model.UserProvider) error {
	return insertUserProvider(ctx, r.db, r.tables, link)
}

func insertUserProvider(ctx context.Context, db execer, tables Tables, link *model.UserProvider) error {
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(
			`INSERT INTO %s (id, user_id, provider_slug, provider_subject_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			tables.Name(TableUserProviders),
		),
		link.ID, link.UserID, link.ProviderSlug, link.ProviderSubjectID, link.CreatedAt,
	)
	if err != nil {
		return wrapStoreError("failed to insert user provider", err)
	}
	return nil
}

// compile-time interface check
var _ UserProviderRepository = (*PostgresUserProviderRepo)(nil)
