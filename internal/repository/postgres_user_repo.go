package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db     *sql.DB
	tables Tables
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB, tables Tables) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, tables: tables}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(
		`SELECT id, email, COALESCE(username, ''), password_hash, locale, created_at, updated_at
		 FROM %s WHERE id = $1`,
		r.tables.Name(TableUsers),
	)
	return r.findOne(ctx, "failed to find user by ID", query, id)
}

// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
// 保存されている値との完全一致で比較し、正規化は行わない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	query := fmt.Sprintf(
		`SELECT id, email, COALESCE(username, ''), password_hash, locale, created_at, updated_at
		 FROM %s WHERE email = $1`,
		r.tables.Name(TableUsers),
	)
	return r.findOne(ctx, "failed to find user by email", query, email)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, msg, query string, arg string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.Locale,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(msg, err)
	}
	return user, nil
}

// CreateWithProvider はユーザーとプロバイダー紐付けを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithProvider(ctx context.Context, user *model.User, link *model.UserProvider) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(
			`INSERT INTO %s (id, email, username, password_hash, locale, created_at, updated_at)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
			r.tables.Name(TableUsers),
		),
		user.ID, user.Email, user.Username, user.PasswordHash, user.Locale, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError("failed to insert user", err)
	}

	// 紐付けを作成
	if err := insertUserProvider(ctx, tx, r.tables, link); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError("failed to commit transaction", err)
	}

	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
