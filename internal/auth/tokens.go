package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
)

// RefreshRecordTTL はリフレッシュトークン永続化レコードの有効期間。
// 署名済みトークンのexpとは独立した固定値。
const RefreshRecordTTL = 7 * 24 * time.Hour

// ErrInvalidToken はトークンの署名・有効期限・形式が不正なことを表す。
var ErrInvalidToken = errors.New("invalid token")

// トークン種別クレーム（typ）の値。
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// refreshClaims はリフレッシュトークンのクレーム。
type refreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenConfig はTokenIssuerの署名設定。
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenIssuer はログイン成功時にアクセストークンとリフレッシュトークンを発行する。
// いずれもHS256で署名する。
type TokenIssuer struct {
	config        TokenConfig
	payload       PayloadBuilder
	refreshTokens repository.RefreshTokenRepository
	now           func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。payloadがnilの場合はsubのみのトークンを発行する。
func NewTokenIssuer(cfg TokenConfig, payload PayloadBuilder, refreshTokens repository.RefreshTokenRepository) *TokenIssuer {
	return &TokenIssuer{
		config:        cfg,
		payload:       payload,
		refreshTokens: refreshTokens,
		now:           time.Now,
	}
}

// Issue はユーザーのトークン組を発行し、リフレッシュトークンを保存する。
// 呼び出しごとに新しいリフレッシュトークン行を作成する。
func (i *TokenIssuer) Issue(ctx context.Context, user *model.User) (*model.TokenPair, error) {
	now := i.now()

	// 1. アクセストークン
	claims := jwt.MapClaims{}
	if i.payload != nil {
		extra, err := i.payload.Build(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("failed to build access token payload: %w", err)
		}
		for k, v := range extra {
			claims[k] = v
		}
	}
	claims["sub"] = user.ID
	claims["typ"] = tokenTypeAccess
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(i.config.AccessTTL).Unix()

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.config.AccessSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	// 2. リフレッシュトークン
	rc := refreshClaims{
		Type: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.RefreshTTL)),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString([]byte(i.config.RefreshSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	// 3. リフレッシュトークンの永続化
	record := &model.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: now.Add(RefreshRecordTTL),
		CreatedAt: now,
	}
	if err := i.refreshTokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// ParseAccess はアクセストークンを検証し、クレームを返す。
// typがaccessでないトークンは署名が正しくても拒否する。
func (i *TokenIssuer) ParseAccess(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if err := i.parse(token, i.config.AccessSecret, claims); err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != tokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type %q: %w", typ, ErrInvalidToken)
	}
	if sub, _ := claims.GetSubject(); sub == "" {
		return nil, fmt.Errorf("missing sub: %w", ErrInvalidToken)
	}
	return claims, nil
}

// ParseRefresh はリフレッシュトークンを検証し、ユーザーIDを返す。
func (i *TokenIssuer) ParseRefresh(token string) (string, error) {
	claims := &refreshClaims{}
	if err := i.parse(token, i.config.RefreshSecret, claims); err != nil {
		return "", err
	}
	if claims.Type != tokenTypeRefresh {
		return "", fmt.Errorf("unexpected token type %q: %w", claims.Type, ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("missing sub: %w", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func (i *TokenIssuer) parse(token, secret string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}
