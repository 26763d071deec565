package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
)

// PayloadBuilder はアクセストークンに含めるクレームを組み立てる。
// subは常にTokenIssuerが設定するため、返却値のsubは無視される。
type PayloadBuilder interface {
	Build(ctx context.Context, user *model.User) (map[string]any, error)
}

// PayloadBuilderFunc は関数をPayloadBuilderとして扱うアダプター。
type PayloadBuilderFunc func(ctx context.Context, user *model.User) (map[string]any, error)

// Build はf(ctx, user)を返す。
func (f PayloadBuilderFunc) Build(ctx context.Context, user *model.User) (map[string]any, error) {
	return f(ctx, user)
}

// ProfilePayloadBuilder はemail, username, locale, rolesをクレームに含める。
type ProfilePayloadBuilder struct {
	roles repository.RoleRepository
}

// NewProfilePayloadBuilder はProfilePayloadBuilderを生成する。
func NewProfilePayloadBuilder(roles repository.RoleRepository) *ProfilePayloadBuilder {
	return &ProfilePayloadBuilder{roles: roles}
}

// Build はユーザーのプロフィールとロールからクレームを組み立てる。
func (b *ProfilePayloadBuilder) Build(ctx context.Context, user *model.User) (map[string]any, error) {
	roles, err := b.roles.ListSlugsByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}

	claims := map[string]any{
		"email":  user.Email,
		"locale": user.Locale,
		"roles":  roles,
	}
	if user.Username != "" {
		claims["username"] = user.Username
	}
	return claims, nil
}

var _ PayloadBuilder = (*ProfilePayloadBuilder)(nil)
