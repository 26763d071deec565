// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultLocale は新規作成アカウントのロケール。
const DefaultLocale = "en"

// User はサービス利用ユーザー（ローカルアカウント）を表す。
// emailはアカウント間で一意。
type User struct {
	ID           string
	Email        string
	Username     string // 任意。プロバイダーが返さない場合は空
	PasswordHash string
	Locale       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserProvider は外部プロバイダーの利用者とローカルアカウントの紐付けを表す。
// (ProviderSlug, ProviderSubjectID) の組は一意。1ユーザーが複数プロバイダーと紐付く場合がある。
type UserProvider struct {
	ID                string
	UserID            string
	ProviderSlug      string
	ProviderSubjectID string
	CreatedAt         time.Time
}

// RefreshToken はログイン成功ごとに発行されるリフレッシュトークンの永続化レコード。
// 同一ユーザーでも発行のたびに新しい行が作成される。
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RevokedToken は明示的に失効されたトークン。expires_at経過後にスイープで削除される。
type RevokedToken struct {
	Token     string
	ExpiresAt time.Time
}
