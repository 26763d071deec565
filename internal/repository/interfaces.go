// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/fedlogin/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemailでユーザーを検索する。大文字小文字は区別する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithProvider はユーザーとプロバイダー紐付けを同一トランザクションで作成する。
	// 一意制約違反の場合はmodel.ErrDuplicateをラップしたエラーを返す。
	CreateWithProvider(ctx context.Context, user *model.User, link *model.UserProvider) error
}

// UserProviderRepository は外部プロバイダー紐付け情報の永続化インターフェース。
type UserProviderRepository interface {
	// FindByProviderAndSubject はprovider_slugとprovider_subject_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndSubject(ctx context.Context, providerSlug, subjectID string) (*model.UserProvider, error)

	// Create は紐付けを作成する。
	// 一意制約違反の場合はmodel.ErrDuplicateをラップしたエラーを返す。
	Create(ctx context.Context, link *model.UserProvider) error
}

// ProviderConfigRepository はOAuthプロバイダー設定の読み取りインターフェース。
type ProviderConfigRepository interface {
	// FindBySlug はslugでプロバイダー設定を取得する。activeかどうかは問わない。
	// 見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.ProviderConfig, error)
}

// RoleRepository はロールとユーザーへの割り当ての永続化インターフェース。
type RoleRepository interface {
	// AssignBySlugs は指定slugのロールをユーザーに割り当て、割り当てた件数を返す。
	// 存在しないslugは無視する。既に割り当て済みの場合も成功とする。
	AssignBySlugs(ctx context.Context, userID string, slugs []string) (int64, error)

	// ListSlugsByUserID はユーザーに割り当てられたロールslugを返す。
	ListSlugsByUserID(ctx context.Context, userID string) ([]string, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを保存する。同一ユーザーの重複は許容する。
	Create(ctx context.Context, token *model.RefreshToken) error
}

// SettingsRepository は実行時設定の読み取りインターフェース。
type SettingsRepository interface {
	// Get は指定キーの値を返す。未設定の場合はok=falseを返す。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
