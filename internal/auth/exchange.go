package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/hitoshi/fedlogin/internal/model"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// maxUserInfoSize はユーザー情報レスポンスの読み取り上限。
const maxUserInfoSize = 1 << 20

// usernameFields はユーザー名として採用するフィールド（優先順）。
var usernameFields = []string{"preferred_username", "login", "username"}

// ExchangeClient は認可コード交換とユーザー情報取得をプロバイダーに対して行う。
// リトライは行わない。
type ExchangeClient struct {
	httpClient *http.Client
	secrets    SecretResolver
}

// NewExchangeClient はExchangeClientを生成する。
// httpClientにはタイムアウト設定済みのクライアント（本番ではSSRF防止付き）を渡す。
func NewExchangeClient(httpClient *http.Client, secrets SecretResolver) *ExchangeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ExchangeClient{
		httpClient: httpClient,
		secrets:    secrets,
	}
}

// oauth2Config はプロバイダー設定からoauth2.Configを組み立てる。
// クライアント認証情報はリクエストボディで送る。
func (c *ExchangeClient) oauth2Config(cfg *model.ProviderConfig, clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       slices.Clone(cfg.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL はプロバイダーの認可画面URLを生成する。
// client_id, redirect_uri, response_type=code, scope（空白区切り、設定順）に
// 追加パラメータを付与する。追加パラメータは同名の既定パラメータを上書きする。
func (c *ExchangeClient) AuthCodeURL(cfg *model.ProviderConfig) (string, error) {
	clientID := c.secrets.Resolve(cfg.ClientIDRef)
	if clientID == "" {
		return "", fmt.Errorf("client id %q is not configured: %w", cfg.ClientIDRef, model.ErrProviderNotFound)
	}

	keys := make([]string, 0, len(cfg.ExtraAuthParams))
	for k := range cfg.ExtraAuthParams {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	opts := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, cfg.ExtraAuthParams[k]))
	}

	return c.oauth2Config(cfg, clientID, "").AuthCodeURL("", opts...), nil
}

// ExchangeCode は認可コードをプロバイダーのアクセストークンに交換する。
// 拒否された場合やaccess_tokenが含まれない場合はmodel.ErrTokenExchangeFailedを返す。
func (c *ExchangeClient) ExchangeCode(ctx context.Context, cfg *model.ProviderConfig, code string) (string, error) {
	clientID := c.secrets.Resolve(cfg.ClientIDRef)
	clientSecret := c.secrets.Resolve(cfg.ClientSecretRef)
	if clientID == "" || clientSecret == "" {
		return "", fmt.Errorf("client credentials for %s are not configured: %w", cfg.Slug, model.ErrTokenExchangeFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth2Config(cfg, clientID, clientSecret).Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return "", fmt.Errorf("token endpoint returned status %d: %w",
				retrieveErr.Response.StatusCode, model.ErrTokenExchangeFailed)
		}
		return "", fmt.Errorf("token exchange failed: %w: %w", model.ErrTokenExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response: %w", model.ErrTokenExchangeFailed)
	}

	return token.AccessToken, nil
}

// FetchUserInfo はアクセストークンでプロバイダーのユーザー情報を取得する。
// subjectはsub、なければidを使う。数値のidは10進文字列として扱う。
// 2xx以外のレスポンスはmodel.ErrTokenExchangeFailedを返す。
func (c *ExchangeClient) FetchUserInfo(ctx context.Context, cfg *model.ProviderConfig, accessToken string) (*model.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w: %w", model.ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w: %w", model.ErrTokenExchangeFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("user info fetch failed with status %d: %w", resp.StatusCode, model.ErrTokenExchangeFailed)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("user info response is not valid JSON: %w", model.ErrInvalidIdentity)
	}

	return parseUserInfo(body), nil
}

// parseUserInfo はユーザー情報JSONから必要な項目を取り出す。
func parseUserInfo(body []byte) *model.UserInfo {
	info := &model.UserInfo{
		SubjectID: subjectID(body),
		Email:     stringField(body, "email"),
		Name:      stringField(body, "name"),
	}
	for _, field := range usernameFields {
		if v := stringField(body, field); v != "" {
			info.Username = v
			break
		}
	}
	return info
}

// subjectID はsub、なければidを文字列で返す。
func subjectID(body []byte) string {
	for _, field := range []string{"sub", "id"} {
		res := gjson.GetBytes(body, field)
		switch res.Type {
		case gjson.String:
			if res.Str != "" {
				return res.Str
			}
		case gjson.Number:
			// 大きな数値IDの精度を保つため元の表記をそのまま使う
			return res.Raw
		}
	}
	return ""
}

func stringField(body []byte, field string) string {
	res := gjson.GetBytes(body, field)
	if res.Type != gjson.String {
		return ""
	}
	return res.Str
}
