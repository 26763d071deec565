package model

// ProviderConfig はOAuthプロバイダーのエンドポイント設定を表す。
// ClientIDRef / ClientSecretRef は秘密値そのものではなく、値を保持する環境変数名。
type ProviderConfig struct {
	Slug            string
	Active          bool
	AuthURL         string
	TokenURL        string
	UserInfoURL     string
	ClientIDRef     string
	ClientSecretRef string
	RedirectURI     string
	Scopes          []string          // 順序を保持する
	ExtraAuthParams map[string]string // 認可URLに追加するパラメータ
}

// UserInfo はプロバイダーのユーザー情報エンドポイントから取得した内容を表す。
type UserInfo struct {
	SubjectID string // sub、なければid
	Email     string
	Username  string
	Name      string
}

// TokenPair はログイン成功時に発行するファーストパーティのトークン組。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
