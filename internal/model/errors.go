package model

import "errors"

// OAuthログインフローのエラー分類。
// ハンドラーでerrors.Isにより判定し、HTTPステータスとメッセージに変換する。
var (
	// ErrProviderNotFound はプロバイダー設定が存在しない、または無効化されていることを表す。
	// どちらかを区別しない。
	ErrProviderNotFound = errors.New("provider not supported or inactive")

	// ErrMissingCode はコールバックに認可コードが含まれないことを表す。
	ErrMissingCode = errors.New("missing authorization code")

	// ErrTokenExchangeFailed はプロバイダーがトークン交換を拒否した、
	// またはアクセストークンを返さなかったことを表す。
	ErrTokenExchangeFailed = errors.New("failed to get access token")

	// ErrRegistrationDisabled は新規ユーザーの自動登録がポリシーで無効なことを表す。
	ErrRegistrationDisabled = errors.New("automatic registration of new users is disabled")

	// ErrInvalidIdentity はプロバイダーのユーザー情報にsub/idが無いなど不正なことを表す。
	ErrInvalidIdentity = errors.New("invalid identity returned by provider")

	// ErrStoreUnavailable はデータストアの障害を表す。
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate record")
)
