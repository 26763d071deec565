package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/hitoshi/fedlogin/internal/repository"
)

// memStore はユニーク制約を再現するインメモリのリポジトリ実装。
type memStore struct {
	mu sync.Mutex

	providers map[string]*model.ProviderConfig
	users     map[string]*model.User
	links     []*model.UserProvider
	refresh   []*model.RefreshToken
	roles     map[string]bool     // 存在するロールslug
	userRoles map[string][]string // userID -> slugs
	settings  map[string]string

	providerLookups int
	storeCalls      int

	// テスト用の差し込み
	failWith         error
	beforeCreateUser func()
	assignErr        error
}

func newMemStore() *memStore {
	return &memStore{
		providers: map[string]*model.ProviderConfig{},
		users:     map[string]*model.User{},
		roles:     map[string]bool{},
		userRoles: map[string][]string{},
		settings:  map[string]string{},
	}
}

func (s *memStore) enter() error {
	s.storeCalls++
	return s.failWith
}

// --- ProviderConfigRepository ---

func (s *memStore) FindBySlug(_ context.Context, slug string) (*model.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerLookups++
	if err := s.enter(); err != nil {
		return nil, err
	}
	cfg, ok := s.providers[slug]
	if !ok {
		return nil, nil
	}
	return cloneProviderConfig(cfg), nil
}

// --- UserRepository ---

func (s *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateWithProvider(_ context.Context, user *model.User, link *model.UserProvider) error {
	if s.beforeCreateUser != nil {
		s.beforeCreateUser()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("failed to insert user: %w", model.ErrDuplicate)
		}
	}
	if s.hasLink(link.ProviderSlug, link.ProviderSubjectID) {
		return fmt.Errorf("failed to insert user provider: %w", model.ErrDuplicate)
	}
	u := *user
	s.users[u.ID] = &u
	l := *link
	s.links = append(s.links, &l)
	return nil
}

// --- UserProviderRepository ---

func (s *memStore) FindByProviderAndSubject(_ context.Context, slug, subject string) (*model.UserProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	for _, l := range s.links {
		if l.ProviderSlug == slug && l.ProviderSubjectID == subject {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, link *model.UserProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	if s.hasLink(link.ProviderSlug, link.ProviderSubjectID) {
		return fmt.Errorf("failed to insert user provider: %w", model.ErrDuplicate)
	}
	l := *link
	s.links = append(s.links, &l)
	return nil
}

func (s *memStore) hasLink(slug, subject string) bool {
	for _, l := range s.links {
		if l.ProviderSlug == slug && l.ProviderSubjectID == subject {
			return true
		}
	}
	return false
}

// --- RoleRepository ---

func (s *memStore) AssignBySlugs(_ context.Context, userID string, slugs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignErr != nil {
		return 0, s.assignErr
	}
	var n int64
	for _, slug := range slugs {
		if !s.roles[slug] || slices.Contains(s.userRoles[userID], slug) {
			continue
		}
		s.userRoles[userID] = append(s.userRoles[userID], slug)
		n++
	}
	slices.Sort(s.userRoles[userID])
	return n, nil
}

func (s *memStore) ListSlugsByUserID(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	return slices.Clone(s.userRoles[userID]), nil
}

// --- SettingsRepository ---

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return "", false, err
	}
	v, ok := s.settings[key]
	return v, ok, nil
}

// --- 参照用ヘルパー ---

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *memStore) refreshRecords() []*model.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.refresh)
}

// memRefreshTokens はmemStoreのリフレッシュトークン保存先。
// UserProviderRepository.Createと名前が衝突するため別型にしている。
type memRefreshTokens struct{ s *memStore }

func (r memRefreshTokens) Create(_ context.Context, token *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter(); err != nil {
		return err
	}
	t := *token
	r.s.refresh = append(r.s.refresh, &t)
	return nil
}

// --- compile-time interface checks ---
var _ repository.ProviderConfigRepository = (*memStore)(nil)
var _ repository.UserRepository = (*memStore)(nil)
var _ repository.UserProviderRepository = (*memStore)(nil)
var _ repository.RoleRepository = (*memStore)(nil)
var _ repository.SettingsRepository = (*memStore)(nil)
var _ repository.RefreshTokenRepository = memRefreshTokens{}

// discardLogger はテスト用の出力しないロガー。
func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// staticSecrets はテスト用のSecretResolver。
func staticSecrets(values map[string]string) SecretResolver {
	return SecretResolverFunc(func(ref string) string { return values[ref] })
}
