package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresRoleRepo はPostgreSQLを使用したロールリポジトリ。
type PostgresRoleRepo struct {
	db     *sql.DB
	tables Tables
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB, tables Tables) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db, tables: tables}
}

// AssignBySlugs は指定slugのロールをユーザーに割り当て、新たに割り当てた件数を返す。
func (r *PostgresRoleRepo) AssignBySlugs(ctx context.Context, userID string, slugs []string) (int64, error) {
	if len(slugs) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(
			`INSERT INTO %s (user_id, role_id)
			 SELECT $1, id FROM %s WHERE slug = ANY($2)
			 ON CONFLICT DO NOTHING`,
			r.tables.Name(TableUserRoles), r.tables.Name(TableRoles),
		),
		userID, pq.Array(slugs),
	)
	if err != nil {
		return 0, wrapStoreError("failed to assign roles", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListSlugsByUserID はユーザーに割り当てられたロールslugをslug順で返す。
func (r *PostgresRoleRepo) ListSlugsByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(
			`SELECT r.slug FROM %s ur
			 JOIN %s r ON r.id = ur.role_id
			 WHERE ur.user_id = $1
			 ORDER BY r.slug`,
			r.tables.Name(TableUserRoles), r.tables.Name(TableRoles),
		),
		userID,
	)
	if err != nil {
		return nil, wrapStoreError("failed to list roles", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, wrapStoreError("failed to scan role", err)
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("failed to iterate roles", err)
	}
	return slugs, nil
}

// compile-time interface check
var _ RoleRepository = (*PostgresRoleRepo)(nil)
