package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/fedlogin/internal/metrics"
	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// IdentityResolver はプロバイダーのユーザー情報からローカルアカウントを特定する。
// 優先順は (1) プロバイダー紐付け (2) email一致（紐付けを作成） (3) 新規作成。
type IdentityResolver struct {
	users   repository.UserRepository
	links   repository.UserProviderRepository
	roles   repository.RoleRepository
	policy  *RegistrationPolicy
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewIdentityResolver はIdentityResolverを生成する。
func NewIdentityResolver(
	users repository.UserRepository,
	links repository.UserProviderRepository,
	roles repository.RoleRepository,
	policy *RegistrationPolicy,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *IdentityResolver {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &IdentityResolver{
		users:   users,
		links:   links,
		roles:   roles,
		policy:  policy,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve はプロバイダーslugとユーザー情報に対応するアカウントを返す。
// 登録が無効で該当アカウントがない場合はmodel.ErrRegistrationDisabledを返し、何も作成しない。
func (r *IdentityResolver) Resolve(ctx context.Context, providerSlug string, info *model.UserInfo) (*model.User, error) {
	if info == nil || info.SubjectID == "" {
		return nil, fmt.Errorf("missing subject id: %w", model.ErrInvalidIdentity)
	}

	// 1-2. 既存の紐付けまたはemail一致
	user, err := r.findExisting(ctx, providerSlug, info)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// 3. 登録ポリシー確認
	if !r.policy.AllowRegistrations(ctx) {
		return nil, model.ErrRegistrationDisabled
	}

	// 4. ユーザーと紐付けを同一トランザクションで作成
	user, err = r.createAccount(ctx, providerSlug, info)
	if errors.Is(err, model.ErrDuplicate) {
		// 同時リクエストが先に作成した場合は既存として扱う
		user, err = r.findExisting(ctx, providerSlug, info)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("account vanished after duplicate insert: %w", model.ErrStoreUnavailable)
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	r.metrics.RecordAccountCreated(providerSlug)
	r.logger.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", providerSlug),
	)

	// 5. 初期ロール割り当て（失敗してもログインは継続する）
	r.assignDefaultRoles(ctx, user.ID)

	return user, nil
}

// findExisting は紐付け、次にemailでアカウントを検索する。
// email一致の場合は紐付けを作成する。見つからない場合はnilを返す。
func (r *IdentityResolver) findExisting(ctx context.Context, providerSlug string, info *model.UserInfo) (*model.User, error) {
	link, err := r.links.FindByProviderAndSubject(ctx, providerSlug, info.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find provider link: %w", err)
	}
	if link != nil {
		return r.linkedUser(ctx, link)
	}

	// 空のemailはどのアカウントにも一致させない
	if info.Email == "" {
		return nil, fmt.Errorf("missing email: %w", model.ErrInvalidIdentity)
	}

	user, err := r.users.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	err = r.links.Create(ctx, &model.UserProvider{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		ProviderSlug:      providerSlug,
		ProviderSubjectID: info.SubjectID,
		CreatedAt:         r.now(),
	})
	if errors.Is(err, model.ErrDuplicate) {
		link, err := r.links.FindByProviderAndSubject(ctx, providerSlug, info.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read provider link: %w", err)
		}
		if link == nil {
			return nil, fmt.Errorf("provider link vanished after duplicate insert: %w", model.ErrStoreUnavailable)
		}
		return r.linkedUser(ctx, link)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link provider: %w", err)
	}

	r.metrics.RecordLinkCreated(providerSlug)
	r.logger.Info("provider linked to existing user",
		slog.String("user_id", user.ID),
		slog.String("provider", providerSlug),
	)
	return user, nil
}

func (r *IdentityResolver) linkedUser(ctx context.Context, link *model.UserProvider) (*model.User, error) {
	user, err := r.users.FindByID(ctx, link.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find linked user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("linked user %s not found: %w", link.UserID, model.ErrStoreUnavailable)
	}
	return user, nil
}

func (r *IdentityResolver) createAccount(ctx context.Context, providerSlug string, info *model.UserInfo) (*model.User, error) {
	hash, err := unusablePasswordHash()
	if err != nil {
		return nil, err
	}

	now := r.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        info.Email,
		Username:     info.Username,
		PasswordHash: hash,
		Locale:       model.DefaultLocale,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	link := &model.UserProvider{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		ProviderSlug:      providerSlug,
		ProviderSubjectID: info.SubjectID,
		CreatedAt:         now,
	}

	if err := r.users.CreateWithProvider(ctx, user, link); err != nil {
		return nil, fmt.Errorf("failed to create user and provider link: %w", err)
	}
	return user, nil
}

func (r *IdentityResolver) assignDefaultRoles(ctx context.Context, userID string) {
	slugs := r.policy.DefaultRoles(ctx)
	if len(slugs) == 0 {
		return
	}

	assigned, err := r.roles.AssignBySlugs(ctx, userID, slugs)
	if err != nil {
		r.logger.Warn("failed to assign default roles",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if int(assigned) < len(slugs) {
		r.logger.Debug("some default roles were not assigned",
			slog.String("user_id", userID),
			slog.Any("roles", slugs),
			slog.Int64("assigned", assigned),
		)
	}
}

// unusablePasswordHash はログインに使えないランダムパスワードのbcryptハッシュを返す。
func unusablePasswordHash() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(b)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
