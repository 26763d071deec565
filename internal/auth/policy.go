package auth

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/hitoshi/fedlogin/internal/config"
	"github.com/hitoshi/fedlogin/internal/repository"
)

// 実行時設定のキー。
const (
	SettingAllowRegistrations = "allow_registrations"
	SettingDefaultRoles       = "default_roles"
)

// RegistrationPolicy は新規ユーザーの自動登録可否と初期ロールを決める。
// settingsテーブルの値を優先し、未設定または読み取りに失敗した場合は起動時設定を使う。
type RegistrationPolicy struct {
	settings     repository.SettingsRepository
	allowDefault bool
	rolesDefault []string
	logger       *slog.Logger
}

// NewRegistrationPolicy はRegistrationPolicyを生成する。
// settingsがnilの場合は常に起動時設定を使う。
func NewRegistrationPolicy(
	settings repository.SettingsRepository,
	allowDefault bool,
	rolesDefault []string,
	logger *slog.Logger,
) *RegistrationPolicy {
	return &RegistrationPolicy{
		settings:     settings,
		allowDefault: allowDefault,
		rolesDefault: rolesDefault,
		logger:       logger,
	}
}

// AllowRegistrations は新規ユーザーの自動登録が許可されているかを返す。
func (p *RegistrationPolicy) AllowRegistrations(ctx context.Context) bool {
	value, ok := p.lookup(ctx, SettingAllowRegistrations)
	if !ok {
		return p.allowDefault
	}

	allowed, err := strconv.ParseBool(value)
	if err != nil {
		p.logger.Warn("invalid registration setting, using default",
			slog.String("value", value),
			slog.Bool("default", p.allowDefault),
		)
		return p.allowDefault
	}
	return allowed
}

// DefaultRoles は新規ユーザーに割り当てるロールslugを返す。
func (p *RegistrationPolicy) DefaultRoles(ctx context.Context) []string {
	value, ok := p.lookup(ctx, SettingDefaultRoles)
	if !ok {
		return p.rolesDefault
	}
	return config.SplitList(value)
}

func (p *RegistrationPolicy) lookup(ctx context.Context, key string) (string, bool) {
	if p.settings == nil {
		return "", false
	}

	value, ok, err := p.settings.Get(ctx, key)
	if err != nil {
		p.logger.Warn("failed to read setting, using default",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return value, ok
}
